package service

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lumen-market/caravel/core"
)

// Counterparty describes one external authenticating service: where its
// handshake endpoint lives and whether envelopes sent to it must carry the
// application's own identity signature in addition to the user's.
type Counterparty struct {
	BaseURL                 string `json:"base_url"`
	AuthPath                string `json:"auth_path"`
	RequiresClientSignature bool   `json:"requires_client_signature"`
}

// Config carries the authenticator and queue settings resolved at startup.
type Config struct {
	// IdentityKey is the signing seed used for the second signature, as read
	// from the environment. It may arrive wrapped in quotes; normalization
	// happens at use time. Never logged.
	IdentityKey string

	// Counterparties maps counterparty identifiers to their endpoint policy.
	Counterparties map[string]Counterparty

	// HTTPTimeout bounds every handshake request. Defaults to 10s.
	HTTPTimeout time.Duration

	// PollInterval is the advertised status-polling interval for UI
	// consumers. Defaults to 1s.
	PollInterval time.Duration

	// AutoRetryLimit caps automatic backoff retries per entry. Manual
	// retries are not counted against it. Defaults to 3.
	AutoRetryLimit int

	// RetryPolicy computes backoff delays. Zero value means the default
	// exponential policy.
	RetryPolicy core.RetryPolicy
}

const (
	defaultHTTPTimeout    = 10 * time.Second
	defaultPollInterval   = time.Second
	defaultAutoRetryLimit = 3
)

func (c Config) httpTimeout() time.Duration {
	if c.HTTPTimeout > 0 {
		return c.HTTPTimeout
	}
	return defaultHTTPTimeout
}

// PollEvery returns the configured polling interval, defaulted.
func (c Config) PollEvery() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

func (c Config) autoRetryLimit() int {
	if c.AutoRetryLimit > 0 {
		return c.AutoRetryLimit
	}
	return defaultAutoRetryLimit
}

func (c Config) retryPolicy() core.RetryPolicy {
	if c.RetryPolicy.Base > 0 {
		return c.RetryPolicy
	}
	return core.DefaultRetryPolicy()
}

// identitySigningKey normalizes and decodes the identity seed. Environment
// files frequently quote values, so surrounding quotes are stripped before
// decoding. The seed may be base64 or hex encoded.
func (c Config) identitySigningKey() (ed25519.PrivateKey, error) {
	raw := strings.TrimSpace(c.IdentityKey)
	raw = strings.Trim(raw, `"'`)
	if raw == "" {
		return nil, fmt.Errorf("%w: identity signing key is not set", core.ErrConfiguration)
	}

	seed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(seed) != ed25519.SeedSize {
		seed, err = hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: identity signing key is not base64 or hex", core.ErrConfiguration)
		}
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: identity signing key must be a %d-byte seed", core.ErrConfiguration, ed25519.SeedSize)
	}

	return ed25519.NewKeyFromSeed(seed), nil
}

// ParseCounterparties decodes the counterparty table from its JSON
// representation, e.g.:
//
//	{"anchor.example.com": {"base_url": "https://anchor.example.com", "auth_path": "/auth", "requires_client_signature": true}}
func ParseCounterparties(raw string) (map[string]Counterparty, error) {
	table := make(map[string]Counterparty)
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		return nil, fmt.Errorf("%w: counterparty table: %v", core.ErrConfiguration, err)
	}
	for id, cp := range table {
		if cp.BaseURL == "" || cp.AuthPath == "" {
			return nil, fmt.Errorf("%w: counterparty %q is missing base_url or auth_path", core.ErrConfiguration, id)
		}
	}
	return table, nil
}
