package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

// ErrEntropyUnavailable is returned when the system random source fails while salting a hash.
var ErrEntropyUnavailable = errors.New("entropy source unavailable")

// HasherConfig holds the scrypt cost parameters.
type HasherConfig struct {
	N        int
	R        int
	P        int
	KeyLen   int
	SaltSize int
}

// DefaultHasherConfig returns the production scrypt parameters.
func DefaultHasherConfig() HasherConfig {
	return HasherConfig{
		N:        16384,
		R:        8,
		P:        1,
		KeyLen:   64,
		SaltSize: 16,
	}
}

// Hasher derives and verifies password and PIN hashes.
//
// Stored values have the form "<saltHex>:<derivedKeyHex>". The hex salt string
// itself is the scrypt salt input. Legacy bcrypt hashes ("$2a$", "$2b$", "$2y$")
// are still accepted by Verify.
type Hasher struct {
	cfg HasherConfig

	dummyOnce sync.Once
	dummy     string
}

// NewHasher creates a new Hasher with the given parameters.
// Zero fields fall back to the defaults.
func NewHasher(cfg HasherConfig) *Hasher {
	def := DefaultHasherConfig()
	if cfg.N <= 1 {
		cfg.N = def.N
	}
	if cfg.R <= 0 {
		cfg.R = def.R
	}
	if cfg.P <= 0 {
		cfg.P = def.P
	}
	if cfg.KeyLen <= 0 {
		cfg.KeyLen = def.KeyLen
	}
	if cfg.SaltSize <= 0 {
		cfg.SaltSize = def.SaltSize
	}
	return &Hasher{cfg: cfg}
}

// Hash derives a salted hash of secret using a fresh random salt.
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.cfg.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	saltHex := hex.EncodeToString(salt)

	key, err := scrypt.Key([]byte(secret), []byte(saltHex), h.cfg.N, h.cfg.R, h.cfg.P, h.cfg.KeyLen)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	return saltHex + ":" + hex.EncodeToString(key), nil
}

// Verify reports whether secret matches the stored hash.
// Malformed stored values never match and never panic.
func (h *Hasher) Verify(secret, stored string) bool {
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)) == nil
	}

	saltHex, keyHex, ok := strings.Cut(stored, ":")
	if !ok || saltHex == "" || keyHex == "" || strings.Contains(keyHex, ":") {
		return false
	}

	expected, err := hex.DecodeString(keyHex)
	if err != nil || len(expected) == 0 {
		return false
	}

	derived, err := scrypt.Key([]byte(secret), []byte(saltHex), h.cfg.N, h.cfg.R, h.cfg.P, len(expected))
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(derived, expected) == 1
}

// Dummy runs a full verification against a throwaway hash so that lookups
// for unknown accounts take as long as lookups for known ones.
func (h *Hasher) Dummy(secret string) {
	h.dummyOnce.Do(func() {
		hash, err := h.Hash("dummy-credential")
		if err != nil {
			// Fixed salt; the timing is what matters here.
			key, _ := scrypt.Key([]byte("dummy-credential"), []byte("00000000000000000000000000000000"), h.cfg.N, h.cfg.R, h.cfg.P, h.cfg.KeyLen)
			hash = "00000000000000000000000000000000:" + hex.EncodeToString(key)
		}
		h.dummy = hash
	})
	_ = h.Verify(secret, h.dummy)
}

func isBcryptHash(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}
