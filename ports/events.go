package ports

import (
	"context"
	"time"
)

const (
	// TransactionsTopic carries queue entry lifecycle events.
	TransactionsTopic = "caravel.tx"

	// ConnectivityTopic carries online/offline transitions from the
	// connectivity monitor.
	ConnectivityTopic = "caravel.connectivity"
)

// ConnectivityEvent signals an observed connectivity transition. The monitor
// is the single writer of this signal.
type ConnectivityEvent struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// TransactionEvent describes a queue entry status change.
type TransactionEvent struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// EventPublisher publishes queue lifecycle events to notify other instances
type EventPublisher interface {
	PublishTransaction(ctx context.Context, event TransactionEvent) error
}
