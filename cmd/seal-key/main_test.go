package main

import (
	"bytes"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody.backend/internal/infrastructure/blockchain"
	"custody.backend/pkg/crypto"
)

const vaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func parseOutput(t *testing.T, out string) map[string]string {
	t.Helper()
	fields := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		k, v, ok := strings.Cut(line, "=")
		require.True(t, ok, line)
		fields[k] = v
	}
	return fields
}

func TestSealKey_RoundTripsThroughVault(t *testing.T) {
	key, err := blockchain.GenerateKey()
	require.NoError(t, err)
	hexKey := hex.EncodeToString(key.Bytes())

	var out bytes.Buffer
	require.NoError(t, sealKey(nil, vaultKey, strings.NewReader(hexKey+"\n"), &out))
	fields := parseOutput(t, out.String())
	assert.Equal(t, key.Address(), fields["address"])

	vault, err := crypto.NewKeyVault(vaultKey)
	require.NoError(t, err)
	raw, err := vault.Open(fields["sealed"])
	require.NoError(t, err)
	assert.Equal(t, key.Bytes(), raw)
}

func TestSealKey_Generate(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, sealKey([]string{"--generate"}, vaultKey, strings.NewReader(""), &out))
	fields := parseOutput(t, out.String())
	assert.NoError(t, blockchain.ValidateAddress(fields["address"]))
	assert.NotEmpty(t, fields["sealed"])
}

func TestSealKey_Errors(t *testing.T) {
	assert.Error(t, sealKey(nil, "short", strings.NewReader("00"), io.Discard))
	assert.Error(t, sealKey(nil, vaultKey, strings.NewReader(""), io.Discard))
	assert.Error(t, sealKey(nil, vaultKey, strings.NewReader("zz\n"), io.Discard))
}
