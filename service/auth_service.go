package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lumen-market/caravel/core"
)

// AuthService performs the challenge-response handshake against a
// counterparty's authentication endpoint. It never retries internally and
// never persists the resulting token; both are caller concerns.
type AuthService struct {
	cfg    Config
	client *http.Client
}

// NewAuthService creates a new authentication service
func NewAuthService(cfg Config) *AuthService {
	return &AuthService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.httpTimeout()},
	}
}

type challengeRequest struct {
	Transaction string `json:"transaction"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// maxAuthResponse bounds how much of an authentication response is read.
const maxAuthResponse = 64 << 10

// Authenticate submits a user-signed challenge envelope to the identified
// counterparty and returns the session token it issues.
//
// The envelope must carry exactly one signature (the user's). When the
// counterparty's policy requires it, the application's identity signature is
// appended second before submission; signature order is significant because
// the counterparty verifies in envelope order.
func (s *AuthService) Authenticate(ctx context.Context, rawEnvelope, counterpartyID string) (core.SessionToken, error) {
	env, err := core.DecodeEnvelope(core.Sanitize(rawEnvelope))
	if err != nil {
		return core.SessionToken{}, err
	}

	if n := env.SignatureCount(); n != 1 {
		return core.SessionToken{}, fmt.Errorf("%w: expected exactly one signature, got %d", core.ErrMalformedEnvelope, n)
	}

	cp, ok := s.cfg.Counterparties[counterpartyID]
	if !ok {
		return core.SessionToken{}, fmt.Errorf("%w: unknown counterparty %q", core.ErrConfiguration, counterpartyID)
	}

	if cp.RequiresClientSignature {
		key, err := s.cfg.identitySigningKey()
		if err != nil {
			return core.SessionToken{}, err
		}

		env, err = env.Sign(key)
		if err != nil {
			return core.SessionToken{}, err
		}
	}

	return s.submit(ctx, cp, env.Encode())
}

func (s *AuthService) submit(ctx context.Context, cp Counterparty, encoded string) (core.SessionToken, error) {
	body, err := json.Marshal(challengeRequest{Transaction: encoded})
	if err != nil {
		return core.SessionToken{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cp.BaseURL+cp.AuthPath, bytes.NewReader(body))
	if err != nil {
		return core.SessionToken{}, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return core.SessionToken{}, fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthResponse))
	if err != nil {
		return core.SessionToken{}, fmt.Errorf("%w: reading response: %v", core.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.SessionToken{}, fmt.Errorf("%w: status %d: %s",
			core.ErrCounterpartyRejected, resp.StatusCode, core.TruncateBody(string(respBody)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return core.SessionToken{}, fmt.Errorf("%w: malformed success body: %s",
			core.ErrProtocol, core.TruncateBody(string(respBody)))
	}

	if tr.Token == "" {
		return core.SessionToken{}, fmt.Errorf("%w: token missing", core.ErrProtocol)
	}

	return core.SessionToken{
		Token:     tr.Token,
		ExpiresAt: tokenExpiry(tr),
	}, nil
}

// tokenExpiry resolves the token expiry: the explicit expires_at field when
// present, otherwise the exp claim if the token happens to be a JWT. The
// claim is read without verification; the counterparty signed the token for
// its own consumption and we only need the timestamp.
func tokenExpiry(tr tokenResponse) time.Time {
	if tr.ExpiresAt != "" {
		if at, err := time.Parse(time.RFC3339, tr.ExpiresAt); err == nil {
			return at
		}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.Token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
