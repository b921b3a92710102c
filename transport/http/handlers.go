package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumen-market/caravel/core"
	"github.com/lumen-market/caravel/ports"
	"github.com/lumen-market/caravel/service"
)

// Handlers contains HTTP handlers for the auth and queue endpoints
type Handlers struct {
	auth   *service.AuthService
	queue  *service.Queue
	tokens ports.TokenStore
	cfg    service.Config
}

// NewHandlers creates new handlers
func NewHandlers(auth *service.AuthService, queue *service.Queue, tokens ports.TokenStore, cfg service.Config) *Handlers {
	return &Handlers{
		auth:   auth,
		queue:  queue,
		tokens: tokens,
		cfg:    cfg,
	}
}

// statusFor maps a classified failure to an HTTP status code.
func statusFor(err error) int {
	switch core.Classify(err) {
	case core.KindMalformedEnvelope:
		return http.StatusBadRequest
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindNetwork, core.KindCounterpartyRejected, core.KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": core.Notice(err)})
}

// Token handles the handshake request: it authenticates the user-signed
// envelope against the named counterparty and caches the resulting session
// token for the account.
func (h *Handlers) Token(c *gin.Context) {
	var req struct {
		Envelope     string `json:"envelope" binding:"required"`
		Counterparty string `json:"counterparty" binding:"required"`
		Account      string `json:"account" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, err := h.auth.Authenticate(c.Request.Context(), req.Envelope, req.Counterparty)
	if err != nil {
		abortWithError(c, err)
		return
	}

	var ttl time.Duration
	if !token.ExpiresAt.IsZero() {
		ttl = time.Until(token.ExpiresAt)
		if ttl <= 0 {
			// An already-expired token is unusable; caching it would let the
			// middleware accept it forever.
			abortWithError(c, fmt.Errorf("%w: token expired at issuance", core.ErrProtocol))
			return
		}
	}
	if err := h.tokens.PutToken(c.Request.Context(), req.Account, token.Token, ttl); err != nil {
		// The handshake succeeded; a cold cache only means re-authenticating sooner.
		c.Error(err)
	}

	resp := gin.H{"token": token.Token}
	if !token.ExpiresAt.IsZero() {
		resp["expires_at"] = token.ExpiresAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// Enqueue handles a new submission
func (h *Handlers) Enqueue(c *gin.Context) {
	var req struct {
		Payload json.RawMessage `json:"payload" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	id, err := h.queue.Enqueue(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// List returns a snapshot of all queued transactions in insertion order,
// along with the interval clients should poll at.
func (h *Handlers) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"transactions":     h.queue.Transactions(),
		"poll_interval_ms": h.cfg.PollEvery().Milliseconds(),
	})
}

// Get returns a single queued transaction
func (h *Handlers) Get(c *gin.Context) {
	tx, ok := h.queue.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown transaction"})
		return
	}
	c.JSON(http.StatusOK, tx)
}

// Retry re-submits a failed transaction. Always accepted: retrying a
// non-failed or unknown id is a no-op by design.
func (h *Handlers) Retry(c *gin.Context) {
	h.queue.Retry(c.Param("id"))
	c.JSON(http.StatusAccepted, gin.H{"id": c.Param("id")})
}

// RetryAll re-submits every failed transaction
func (h *Handlers) RetryAll(c *gin.Context) {
	h.queue.RetryAll()
	c.JSON(http.StatusAccepted, gin.H{"message": "Retrying failed transactions"})
}

// Dequeue removes a transaction regardless of its status
func (h *Handlers) Dequeue(c *gin.Context) {
	h.queue.Dequeue(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// ClearCompleted removes all completed transactions
func (h *Handlers) ClearCompleted(c *gin.Context) {
	h.queue.ClearCompleted()
	c.Status(http.StatusNoContent)
}

// Online reports last-observed connectivity
func (h *Handlers) Online(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.queue.Online()})
}
