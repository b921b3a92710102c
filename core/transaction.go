package core

import "time"

// Status is the lifecycle state of a queued transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// QueuedTransaction is one tracked submission: an opaque payload plus its
// attempt history. Entries move pending -> processing -> completed|failed;
// failed entries re-enter processing on retry. There is no path back to
// pending.
type QueuedTransaction struct {
	ID            string    `json:"id"`
	Payload       []byte    `json:"payload"`
	Status        Status    `json:"status"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorKind     Kind      `json:"error_kind,omitempty"`
}

// SessionToken is the credential obtained from a successful handshake. The
// expiry is zero when the counterparty did not communicate one.
type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token carries an expiry that has passed.
func (t SessionToken) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}
