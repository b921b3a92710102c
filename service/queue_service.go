package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/lumen-market/caravel/core"
	"github.com/lumen-market/caravel/ports"
)

// ErrEmptyPayload is returned by Enqueue for a payload with no content.
var ErrEmptyPayload = errors.New("empty payload")

type queueEntry struct {
	tx       core.QueuedTransaction
	inflight bool
	// autoRetries counts backoff-scheduled retries only; manual retries and
	// reconnect sweeps are not limited.
	autoRetries int
}

// Queue tracks submitted-but-unconfirmed transactions and drives their
// retries. It is shared mutable state with a single instance per process,
// constructed at the composition root and injected into every consumer.
//
// Attempts on the same entry are serialized; attempts on distinct entries
// may interleave freely.
type Queue struct {
	submitter ports.Submitter
	events    ports.EventPublisher
	policy    core.RetryPolicy
	retryCap  int

	mu      sync.Mutex
	entries map[string]*queueEntry
	order   []string
	online  bool
}

// NewQueue creates the transaction queue. events may be nil.
func NewQueue(submitter ports.Submitter, events ports.EventPublisher, cfg Config) *Queue {
	return &Queue{
		submitter: submitter,
		events:    events,
		policy:    cfg.retryPolicy(),
		retryCap:  cfg.autoRetryLimit(),
		entries:   make(map[string]*queueEntry),
		online:    true,
	}
}

// Enqueue registers a payload for submission and returns its id. The first
// attempt starts asynchronously; callers observe the outcome through the
// snapshot, not the return value.
func (q *Queue) Enqueue(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}

	id := uuid.New().String()

	q.mu.Lock()
	q.entries[id] = &queueEntry{
		tx: core.QueuedTransaction{
			ID:        id,
			Payload:   append([]byte(nil), payload...),
			Status:    core.StatusPending,
			CreatedAt: time.Now(),
		},
	}
	q.order = append(q.order, id)
	q.mu.Unlock()

	q.publish(id)
	go q.attempt(id)

	return id, nil
}

// Retry re-submits a failed entry. It is a no-op when the id is unknown or
// the entry is not in the failed state, so UI retry buttons can call it
// without precondition checks.
func (q *Queue) Retry(id string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	eligible := ok && e.tx.Status == core.StatusFailed && !e.inflight
	q.mu.Unlock()

	if eligible {
		q.attempt(id)
	}
}

// RetryAll retries every currently-failed entry in insertion order. Attempts
// on distinct entries run concurrently with no ordering guarantee between
// them.
func (q *Queue) RetryAll() {
	for _, id := range q.failedIDs(false) {
		go q.Retry(id)
	}
}

// Dequeue removes an entry regardless of status. An in-flight attempt for
// the entry is not aborted; its result is discarded when it lands.
func (q *Queue) Dequeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remove(id)
}

// ClearCompleted removes all completed entries and nothing else.
func (q *Queue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range append([]string(nil), q.order...) {
		if e, ok := q.entries[id]; ok && e.tx.Status == core.StatusCompleted {
			q.remove(id)
		}
	}
}

// Transactions returns a snapshot of all entries in insertion order. The
// returned values are copies; mutating them does not affect the queue.
func (q *Queue) Transactions() []core.QueuedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]core.QueuedTransaction, 0, len(q.order))
	for _, id := range q.order {
		if e, ok := q.entries[id]; ok {
			out = append(out, copyTransaction(e.tx))
		}
	}
	return out
}

// Get returns a copy of a single entry.
func (q *Queue) Get(id string) (core.QueuedTransaction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return core.QueuedTransaction{}, false
	}
	return copyTransaction(e.tx), true
}

// Online reports last-observed connectivity.
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Run consumes connectivity events until the context is cancelled or the
// channel closes. An offline-to-online transition sweeps entries that failed
// on network errors, in insertion order.
func (q *Queue) Run(ctx context.Context, messages <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			var ev ports.ConnectivityEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				log.Printf("queue: dropping malformed connectivity event: %v", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			q.setOnline(ev.Online)
		}
	}
}

func (q *Queue) setOnline(online bool) {
	q.mu.Lock()
	wasOnline := q.online
	q.online = online
	q.mu.Unlock()

	if online && !wasOnline {
		for _, id := range q.failedIDs(true) {
			go q.attemptIfFailed(id)
		}
	}
}

// failedIDs returns the ids of failed entries in insertion order, optionally
// restricted to network failures.
func (q *Queue) failedIDs(networkOnly bool) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for _, id := range q.order {
		e, ok := q.entries[id]
		if !ok || e.tx.Status != core.StatusFailed {
			continue
		}
		if networkOnly && e.tx.ErrorKind != core.KindNetwork {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (q *Queue) attemptIfFailed(id string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	eligible := ok && e.tx.Status == core.StatusFailed && !e.inflight
	q.mu.Unlock()

	if eligible {
		q.attempt(id)
	}
}

// attempt runs one submission attempt for the entry. Entries already in
// flight or in a terminal-success state are left alone, which serializes
// concurrent retries for the same id.
func (q *Queue) attempt(id string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok || e.inflight || e.tx.Status == core.StatusCompleted || e.tx.Status == core.StatusProcessing {
		q.mu.Unlock()
		return
	}

	e.inflight = true
	e.tx.Status = core.StatusProcessing
	e.tx.Attempts++
	e.tx.LastAttemptAt = time.Now()
	online := q.online
	payload := append([]byte(nil), e.tx.Payload...)
	q.mu.Unlock()

	q.publish(id)

	if !online {
		// Offline attempts fail fast; the reconnect sweep picks them up.
		q.finish(id, core.ErrOffline)
		return
	}

	q.finish(id, q.submitter.Submit(context.Background(), payload))
}

// finish records the attempt outcome. A result for an entry dequeued while
// in flight is discarded without recreating the entry.
func (q *Queue) finish(id string, err error) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return
	}

	e.inflight = false
	if err == nil {
		e.tx.Status = core.StatusCompleted
		e.tx.Error = ""
		e.tx.ErrorKind = core.KindUnknown
		q.mu.Unlock()
		q.publish(id)
		return
	}

	e.tx.Status = core.StatusFailed
	e.tx.Error = err.Error()
	e.tx.ErrorKind = core.Classify(err)
	attempts := e.tx.Attempts
	schedule := q.shouldAutoRetry(e)
	if schedule {
		e.autoRetries++
	}
	q.mu.Unlock()

	q.publish(id)

	if schedule {
		time.AfterFunc(q.policy.Delay(attempts-1), func() {
			q.attemptIfFailed(id)
		})
	}
}

// shouldAutoRetry decides whether a failed attempt gets a backoff-scheduled
// retry. Network failures while offline wait for the reconnect sweep
// instead; rejections and malformed payloads need a caller decision.
// Callers hold q.mu.
func (q *Queue) shouldAutoRetry(e *queueEntry) bool {
	if e.autoRetries >= q.retryCap {
		return false
	}
	switch e.tx.ErrorKind {
	case core.KindNetwork:
		return q.online
	case core.KindUnknown:
		return true
	default:
		return false
	}
}

// remove deletes an entry. Callers hold q.mu.
func (q *Queue) remove(id string) {
	if _, ok := q.entries[id]; !ok {
		return
	}
	delete(q.entries, id)
	for i, other := range q.order {
		if other == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *Queue) publish(id string) {
	if q.events == nil {
		return
	}

	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	ev := ports.TransactionEvent{
		ID:       e.tx.ID,
		Status:   string(e.tx.Status),
		Attempts: e.tx.Attempts,
		Error:    e.tx.Error,
		At:       time.Now(),
	}
	q.mu.Unlock()

	if err := q.events.PublishTransaction(context.Background(), ev); err != nil {
		// The entry state is already recorded; event delivery is advisory.
		log.Printf("queue: failed to publish transaction event: %v", err)
	}
}

func copyTransaction(tx core.QueuedTransaction) core.QueuedTransaction {
	out := tx
	out.Payload = append([]byte(nil), tx.Payload...)
	return out
}
