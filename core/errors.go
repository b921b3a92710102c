package core

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEnvelope is returned when an envelope cannot be decoded
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrConfiguration is returned when required configuration is missing or invalid
	ErrConfiguration = errors.New("configuration error")

	// ErrNetwork is returned when a network call fails or times out
	ErrNetwork = errors.New("network error")

	// ErrCounterpartyRejected is returned when a counterparty answers with a non-success status
	ErrCounterpartyRejected = errors.New("counterparty rejected request")

	// ErrProtocol is returned when a success response is missing a required field
	ErrProtocol = errors.New("protocol error")

	// ErrUnauthorized is returned when an action requires a session token that is absent
	ErrUnauthorized = errors.New("unauthorized")

)

// ErrOffline is returned when a submission is attempted without connectivity.
// It wraps ErrNetwork so it classifies as a network failure.
var ErrOffline = fmt.Errorf("offline: %w", ErrNetwork)
