package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orema/pos-backend/internal/auth"
)

func TestRun_HashPIN(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(strings.NewReader("4821\n"), &out, true, ""))

	stored := strings.TrimSpace(out.String())
	require.Contains(t, stored, ":")
	require.True(t, auth.NewHasher(auth.DefaultHasherConfig()).Verify("4821", stored))

	var verified bytes.Buffer
	require.NoError(t, run(strings.NewReader("4821"), &verified, false, stored))
	require.Equal(t, "ok\n", verified.String())

	require.Error(t, run(strings.NewReader("0000"), &verified, false, stored))
}

func TestRun_PolicyRejections(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, run(strings.NewReader("12a4"), &out, true, ""))
	require.Error(t, run(strings.NewReader("short"), &out, false, ""))
	require.Error(t, run(strings.NewReader(""), &out, false, ""))
	require.Empty(t, out.String())
}
