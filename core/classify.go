package core

import (
	"context"
	"errors"
	"net"
	"net/url"
	"unicode/utf8"
)

// Kind is the closed error taxonomy shared by the authenticator and the queue.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedEnvelope
	KindConfiguration
	KindNetwork
	KindCounterpartyRejected
	KindProtocol
	KindUnauthorized
)

// String returns the taxonomy name for the kind
func (k Kind) String() string {
	switch k {
	case KindMalformedEnvelope:
		return "malformed_envelope"
	case KindConfiguration:
		return "configuration"
	case KindNetwork:
		return "network"
	case KindCounterpartyRejected:
		return "counterparty_rejected"
	case KindProtocol:
		return "protocol"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Classify maps any failure into the taxonomy. Wrapped sentinel errors win;
// otherwise raw transport failures (timeouts, dial errors, cancelled
// contexts) are treated as network errors.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrMalformedEnvelope):
		return KindMalformedEnvelope
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrCounterpartyRejected):
		return KindCounterpartyRejected
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindNetwork
	}

	return KindUnknown
}

// UserNotice is the short title/message pair rendered to the user for a failure.
type UserNotice struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// Notice produces the user-facing rendering of a failure. Network and unknown
// failures are presented as retriable; rejections and malformed input are not.
func Notice(err error) UserNotice {
	switch Classify(err) {
	case KindMalformedEnvelope:
		return UserNotice{
			Title:   "Invalid transaction",
			Message: "The transaction envelope could not be decoded.",
		}
	case KindConfiguration:
		return UserNotice{
			Title:   "Service misconfigured",
			Message: "A required setting is missing. Contact the operator.",
		}
	case KindNetwork:
		return UserNotice{
			Title:     "Connection problem",
			Message:   "The network is unreachable. The submission will be retried.",
			Retriable: true,
		}
	case KindCounterpartyRejected:
		return UserNotice{
			Title:   "Request rejected",
			Message: "The counterparty declined the request: " + err.Error(),
		}
	case KindProtocol:
		return UserNotice{
			Title:   "Unexpected response",
			Message: "The counterparty answered without the expected fields.",
		}
	case KindUnauthorized:
		return UserNotice{
			Title:   "Not signed in",
			Message: "Authenticate with your wallet before submitting.",
		}
	default:
		return UserNotice{
			Title:     "Submission failed",
			Message:   err.Error(),
			Retriable: true,
		}
	}
}

// maxBodyExcerpt bounds how much of a counterparty response body is kept for diagnostics.
const maxBodyExcerpt = 200

// TruncateBody trims a response body excerpt to at most maxBodyExcerpt bytes,
// cutting back to a rune boundary so a multi-byte character is never split.
func TruncateBody(body string) string {
	if len(body) <= maxBodyExcerpt {
		return body
	}

	cut := maxBodyExcerpt
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}
