package keys

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/src/security"
)

func TestRunEncryptsKeyPair(t *testing.T) {
	key, err := security.GenerateKey()
	require.NoError(t, err)

	var out bytes.Buffer
	in := strings.NewReader("help\nset_key my-key my-secret\nshutdown\nset_key ignored ignored\n")
	require.NoError(t, Run(in, &out, key))

	var apiKey, apiSecret string
	for _, line := range strings.Split(out.String(), "\n") {
		switch {
		case strings.HasPrefix(line, "BINANCE_API_KEY="):
			apiKey = strings.TrimPrefix(line, "BINANCE_API_KEY=")
		case strings.HasPrefix(line, "BINANCE_API_SECRET="):
			apiSecret = strings.TrimPrefix(line, "BINANCE_API_SECRET=")
		}
	}
	require.NotEmpty(t, apiKey)
	assert.Contains(t, out.String(), "Available commands:")
	assert.Equal(t, 1, strings.Count(out.String(), "BINANCE_API_KEY="))

	plain, err := security.ResolveSecret(apiKey, key)
	require.NoError(t, err)
	assert.Equal(t, "my-key", plain)
	plain, err = security.ResolveSecret(apiSecret, key)
	require.NoError(t, err)
	assert.Equal(t, "my-secret", plain)
}

func TestRunGeneratesMissingKey(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Run(strings.NewReader("bogus\n"), &out, ""))

	lines := strings.Split(out.String(), "\n")
	require.True(t, strings.HasPrefix(lines[0], "EXCHANGE_CREDENTIALS_KEY="))
	assert.Contains(t, out.String(), "Unknown command: bogus")
}

func TestEnvLinesRejectsBadKey(t *testing.T) {
	_, err := EnvLines("k", "s", "short")
	assert.ErrorIs(t, err, security.ErrInvalidKey)
}
