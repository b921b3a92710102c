package ports

import (
	"context"
	"time"
)

// TokenStore caches session tokens per account. Caching is a collaborator
// concern; the authenticator itself never touches the store.
type TokenStore interface {
	PutToken(ctx context.Context, account, token string, ttl time.Duration) error
	GetToken(ctx context.Context, account string) (string, error)
}
