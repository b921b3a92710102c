package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumen-market/caravel/core"
)

func TestParseCounterparties(t *testing.T) {
	requireT := require.New(t)

	table, err := ParseCounterparties(`{
		"anchor.example.com": {"base_url": "https://anchor.example.com", "auth_path": "/auth", "requires_client_signature": true},
		"other.example.org": {"base_url": "https://other.example.org", "auth_path": "/sep10/token"}
	}`)
	requireT.NoError(err)
	requireT.Len(table, 2)
	requireT.True(table["anchor.example.com"].RequiresClientSignature)
	requireT.False(table["other.example.org"].RequiresClientSignature)
	requireT.Equal("/sep10/token", table["other.example.org"].AuthPath)
}

func TestParseCounterpartiesRejectsIncomplete(t *testing.T) {
	_, err := ParseCounterparties(`{"x": {"base_url": "https://x"}}`)
	require.ErrorIs(t, err, core.ErrConfiguration)

	_, err = ParseCounterparties(`not json`)
	require.ErrorIs(t, err, core.ErrConfiguration)
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	require.Equal(t, time.Second, cfg.PollEvery())
	require.Equal(t, defaultHTTPTimeout, cfg.httpTimeout())
	require.Equal(t, defaultAutoRetryLimit, cfg.autoRetryLimit())
	require.Equal(t, core.DefaultRetryBase, cfg.retryPolicy().Base)
}

func TestIdentitySigningKeyFormats(t *testing.T) {
	requireT := require.New(t)

	hexSeed := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

	for _, raw := range []string{
		hexSeed,
		`"` + hexSeed + `"`,
		"'" + hexSeed + "'",
		"  " + hexSeed + "\n",
	} {
		cfg := Config{IdentityKey: raw}
		key, err := cfg.identitySigningKey()
		requireT.NoError(err, "input %q", raw)
		requireT.Len(key, 64)
	}

	_, err := Config{}.identitySigningKey()
	requireT.ErrorIs(err, core.ErrConfiguration)

	_, err = Config{IdentityKey: "not a key"}.identitySigningKey()
	requireT.ErrorIs(err, core.ErrConfiguration)
}
