// Package main provides a CLI that hashes staff passwords and PINs in the
// format stored in utilisateurs.password_hash and utilisateurs.pin_hash.
//
// The secret is read from stdin so it never appears in shell history:
//
//	printf '%s' '4821' | credential -pin
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/orema/pos-backend/internal/auth"
)

func main() {
	pin := flag.Bool("pin", false, "Hash a 4-digit PIN instead of a password")
	verify := flag.String("verify", "", "Check the secret against this stored hash instead of hashing")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-pin] [-verify HASH] < secret\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(os.Stdin, os.Stdout, *pin, *verify); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(in io.Reader, out io.Writer, isPin bool, stored string) error {
	secret, err := readSecret(in)
	if err != nil {
		return err
	}

	hasher := auth.NewHasher(auth.DefaultHasherConfig())

	if stored != "" {
		if !hasher.Verify(secret, stored) {
			return errors.New("secret does not match")
		}
		fmt.Fprintln(out, "ok")
		return nil
	}

	policy := auth.NewCredentialPolicy()
	var problems []auth.CredentialValidationError
	if isPin {
		problems = policy.ValidatePIN(secret)
	} else {
		problems = policy.ValidatePassword(secret)
	}
	if len(problems) > 0 {
		msgs := make([]string, 0, len(problems))
		for _, p := range problems {
			msgs = append(msgs, p.Message)
		}
		return fmt.Errorf("rejected by credential policy: %s", strings.Join(msgs, "; "))
	}

	hash, err := hasher.Hash(secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}

func readSecret(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("empty secret on stdin")
	}
	return secret, nil
}
