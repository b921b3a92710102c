package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lumen-market/caravel/core"
	"github.com/lumen-market/caravel/ports"
)

// fakeSubmitter scripts submission outcomes and records payloads.
type fakeSubmitter struct {
	mu       sync.Mutex
	results  []error
	calls    int
	payloads [][]byte
	block    chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	var err error
	if len(f.results) > 0 {
		err = f.results[0]
		f.results = f.results[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return err
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastConfig() Config {
	return Config{
		RetryPolicy:    core.RetryPolicy{Base: 5 * time.Millisecond},
		AutoRetryLimit: 3,
	}
}

func waitForStatus(t *testing.T, q *Queue, id string, status core.Status) core.QueuedTransaction {
	t.Helper()

	var tx core.QueuedTransaction
	require.Eventually(t, func() bool {
		var ok bool
		tx, ok = q.Get(id)
		return ok && tx.Status == status
	}, 2*time.Second, 2*time.Millisecond, "waiting for %s", status)
	return tx
}

func TestEnqueueRejectsEmptyPayload(t *testing.T) {
	q := NewQueue(&fakeSubmitter{}, nil, fastConfig())
	_, err := q.Enqueue(nil)
	require.ErrorIs(t, err, ErrEmptyPayload)
	require.Empty(t, q.Transactions())
}

func TestEnqueueCreatesSingleEntry(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{block: make(chan struct{})}
	q := NewQueue(sub, nil, fastConfig())

	id, err := q.Enqueue([]byte("payload"))
	requireT.NoError(err)
	requireT.NotEmpty(id)

	txs := q.Transactions()
	requireT.Len(txs, 1)
	requireT.Equal(id, txs[0].ID)
	requireT.False(txs[0].CreatedAt.IsZero())
	// The first attempt may already have started
	requireT.Contains([]core.Status{core.StatusPending, core.StatusProcessing}, txs[0].Status)

	close(sub.block)
	tx := waitForStatus(t, q, id, core.StatusCompleted)
	requireT.Equal(1, tx.Attempts)
	requireT.Empty(tx.Error)
}

func TestFailedEntryKeepsErrorUntilCompletion(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{results: []error{fmt.Errorf("%w: status 400: invalid op", core.ErrCounterpartyRejected)}}
	q := NewQueue(sub, nil, fastConfig())

	id, err := q.Enqueue([]byte("payload"))
	requireT.NoError(err)

	tx := waitForStatus(t, q, id, core.StatusFailed)
	requireT.Equal(1, tx.Attempts)
	requireT.Contains(tx.Error, "invalid op")
	requireT.Equal(core.KindCounterpartyRejected, tx.ErrorKind)

	// Rejections do not retry automatically
	time.Sleep(50 * time.Millisecond)
	requireT.Equal(1, sub.callCount())

	q.Retry(id)
	tx = waitForStatus(t, q, id, core.StatusCompleted)
	requireT.Equal(2, tx.Attempts)
	requireT.Empty(tx.Error)
}

func TestRetryIsNoOpForNonFailedEntries(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{}
	q := NewQueue(sub, nil, fastConfig())

	id, err := q.Enqueue([]byte("payload"))
	requireT.NoError(err)
	waitForStatus(t, q, id, core.StatusCompleted)

	before := q.Transactions()
	q.Retry(id)
	q.Retry(uuid.New().String())
	time.Sleep(30 * time.Millisecond)

	requireT.Equal(before, q.Transactions())
	requireT.Equal(1, sub.callCount())
}

func TestConcurrentRetriesAreSerialized(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{results: []error{fmt.Errorf("%w: no", core.ErrCounterpartyRejected)}}
	q := NewQueue(sub, nil, fastConfig())

	id, err := q.Enqueue([]byte("payload"))
	requireT.NoError(err)
	waitForStatus(t, q, id, core.StatusFailed)

	sub.mu.Lock()
	sub.block = make(chan struct{})
	sub.mu.Unlock()

	for i := 0; i < 10; i++ {
		go q.Retry(id)
	}
	time.Sleep(30 * time.Millisecond)
	close(sub.block)

	tx := waitForStatus(t, q, id, core.StatusCompleted)
	// One failed attempt plus exactly one retry despite ten calls
	requireT.Equal(2, tx.Attempts)
	requireT.Equal(2, sub.callCount())
}

func TestRetryAllRetriesOnlyFailed(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{results: []error{
		nil,
		fmt.Errorf("%w: no", core.ErrCounterpartyRejected),
		fmt.Errorf("%w: no", core.ErrCounterpartyRejected),
	}}
	q := NewQueue(sub, nil, fastConfig())

	okID, err := q.Enqueue([]byte("a"))
	requireT.NoError(err)
	waitForStatus(t, q, okID, core.StatusCompleted)

	badID1, err := q.Enqueue([]byte("b"))
	requireT.NoError(err)
	waitForStatus(t, q, badID1, core.StatusFailed)

	badID2, err := q.Enqueue([]byte("c"))
	requireT.NoError(err)
	waitForStatus(t, q, badID2, core.StatusFailed)

	q.RetryAll()
	waitForStatus(t, q, badID1, core.StatusCompleted)
	waitForStatus(t, q, badID2, core.StatusCompleted)

	ok, _ := q.Get(okID)
	requireT.Equal(1, ok.Attempts)
}

func TestDequeueDuringFlightDiscardsResult(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{block: make(chan struct{})}
	q := NewQueue(sub, nil, fastConfig())

	id, err := q.Enqueue([]byte("payload"))
	requireT.NoError(err)
	waitForStatus(t, q, id, core.StatusProcessing)

	q.Dequeue(id)
	close(sub.block)
	time.Sleep(30 * time.Millisecond)

	_, ok := q.Get(id)
	requireT.False(ok, "late result must not recreate the entry")
	requireT.Empty(q.Transactions())
}

func TestClearCompletedRemovesOnlyCompleted(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{results: []error{nil, fmt.Errorf("%w: no", core.ErrCounterpartyRejected), nil}}
	q := NewQueue(sub, nil, fastConfig())

	doneID, err := q.Enqueue([]byte("a"))
	requireT.NoError(err)
	waitForStatus(t, q, doneID, core.StatusCompleted)

	failedID, err := q.Enqueue([]byte("b"))
	requireT.NoError(err)
	waitForStatus(t, q, failedID, core.StatusFailed)

	doneID2, err := q.Enqueue([]byte("c"))
	requireT.NoError(err)
	waitForStatus(t, q, doneID2, core.StatusCompleted)

	q.ClearCompleted()

	txs := q.Transactions()
	requireT.Len(txs, 1)
	requireT.Equal(failedID, txs[0].ID)
	requireT.Equal(core.StatusFailed, txs[0].Status)
}

func TestTransactionsSnapshotIsDetached(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{}
	q := NewQueue(sub, nil, fastConfig())

	id, err := q.Enqueue([]byte("payload"))
	requireT.NoError(err)
	waitForStatus(t, q, id, core.StatusCompleted)

	snapshot := q.Transactions()
	snapshot[0].Status = core.StatusFailed
	snapshot[0].Payload[0] = 'X'

	fresh, _ := q.Get(id)
	requireT.Equal(core.StatusCompleted, fresh.Status)
	requireT.Equal(byte('p'), fresh.Payload[0])
}

func TestSnapshotPreservesInsertionOrder(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{block: make(chan struct{})}
	q := NewQueue(sub, nil, fastConfig())

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue([]byte{byte('a' + i)})
		requireT.NoError(err)
		ids = append(ids, id)
	}

	txs := q.Transactions()
	requireT.Len(txs, 5)
	for i, tx := range txs {
		requireT.Equal(ids[i], tx.ID)
	}
	close(sub.block)
}

func TestAutoRetryBacksOffUnknownFailures(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{results: []error{errors.New("flaky"), errors.New("flaky")}}
	q := NewQueue(sub, nil, fastConfig())

	id, err := q.Enqueue([]byte("payload"))
	requireT.NoError(err)

	tx := waitForStatus(t, q, id, core.StatusCompleted)
	requireT.Equal(3, tx.Attempts)
}

func TestAutoRetryRespectsLimit(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{results: []error{
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	cfg := fastConfig()
	cfg.AutoRetryLimit = 2
	q := NewQueue(sub, nil, cfg)

	id, err := q.Enqueue([]byte("payload"))
	requireT.NoError(err)

	require.Eventually(t, func() bool {
		tx, ok := q.Get(id)
		return ok && tx.Status == core.StatusFailed && tx.Attempts == 3
	}, 2*time.Second, 2*time.Millisecond)

	// First attempt plus two automatic retries, then it stays failed
	time.Sleep(100 * time.Millisecond)
	requireT.Equal(3, sub.callCount())
}

// connectivity pushes events the way the monitor does.
func connectivity(t *testing.T, q *Queue) func(online bool) {
	t.Helper()

	logger := watermill.NopLogger{}
	bus := gochannel.NewGoChannel(gochannel.Config{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	messages, err := bus.Subscribe(ctx, ports.ConnectivityTopic)
	require.NoError(t, err)
	go q.Run(ctx, messages)

	return func(online bool) {
		payload := []byte(`{"online":false}`)
		if online {
			payload = []byte(`{"online":true}`)
		}
		require.NoError(t, bus.Publish(ports.ConnectivityTopic, message.NewMessage(uuid.New().String(), payload)))
	}
}

func TestOfflineEnqueueRecoversOnReconnect(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{}
	q := NewQueue(sub, nil, fastConfig())
	setOnline := connectivity(t, q)

	setOnline(false)
	require.Eventually(t, func() bool { return !q.Online() }, time.Second, 2*time.Millisecond)

	id, err := q.Enqueue([]byte("payload"))
	requireT.NoError(err)

	// Offline attempts fail fast with a network error and no submitter call
	tx := waitForStatus(t, q, id, core.StatusFailed)
	requireT.Equal(core.KindNetwork, tx.ErrorKind)
	requireT.Equal(0, sub.callCount())

	// Reconnection sweeps the entry through processing to completed
	setOnline(true)
	tx = waitForStatus(t, q, id, core.StatusCompleted)
	requireT.Equal(2, tx.Attempts)
	requireT.Equal(1, sub.callCount())
}

func TestReconnectSweepSkipsRejectedEntries(t *testing.T) {
	requireT := require.New(t)

	sub := &fakeSubmitter{results: []error{fmt.Errorf("%w: bad tx", core.ErrCounterpartyRejected)}}
	q := NewQueue(sub, nil, fastConfig())
	setOnline := connectivity(t, q)

	rejectedID, err := q.Enqueue([]byte("bad"))
	requireT.NoError(err)
	waitForStatus(t, q, rejectedID, core.StatusFailed)

	setOnline(false)
	require.Eventually(t, func() bool { return !q.Online() }, time.Second, 2*time.Millisecond)

	offlineID, err := q.Enqueue([]byte("good"))
	requireT.NoError(err)
	waitForStatus(t, q, offlineID, core.StatusFailed)

	setOnline(true)
	waitForStatus(t, q, offlineID, core.StatusCompleted)

	// The rejection stays failed; only network failures are swept
	rejected, _ := q.Get(rejectedID)
	requireT.Equal(core.StatusFailed, rejected.Status)
	requireT.Equal(1, rejected.Attempts)
}

func TestQueuePublishesLifecycleEvents(t *testing.T) {
	requireT := require.New(t)

	var (
		mu     sync.Mutex
		events []ports.TransactionEvent
	)
	pub := publisherFunc(func(ctx context.Context, ev ports.TransactionEvent) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
		return nil
	})

	q := NewQueue(&fakeSubmitter{}, pub, fastConfig())
	id, err := q.Enqueue([]byte("payload"))
	requireT.NoError(err)
	waitForStatus(t, q, id, core.StatusCompleted)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 3
	}, time.Second, 2*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	requireT.Equal("pending", events[0].Status)
	requireT.Equal("processing", events[1].Status)
	requireT.Equal("completed", events[len(events)-1].Status)
	for _, ev := range events {
		requireT.Equal(id, ev.ID)
	}
}

type publisherFunc func(ctx context.Context, event ports.TransactionEvent) error

func (f publisherFunc) PublishTransaction(ctx context.Context, event ports.TransactionEvent) error {
	return f(ctx, event)
}
