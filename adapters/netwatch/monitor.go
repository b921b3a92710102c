package netwatch

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/lumen-market/caravel/ports"
)

// Config tunes the connectivity monitor.
type Config struct {
	// ProbeURL is the endpoint probed to observe connectivity.
	ProbeURL string

	// Interval between probes while online. Defaults to 15s.
	Interval time.Duration

	// Timeout for a single probe. Defaults to 5s.
	Timeout time.Duration
}

func (c Config) interval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return 15 * time.Second
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 5 * time.Second
}

// Monitor probes a well-known endpoint and publishes online/offline
// transitions on the connectivity topic. It is the single writer of the
// connectivity signal; consumers subscribe rather than probing themselves.
type Monitor struct {
	cfg       Config
	client    *http.Client
	publisher message.Publisher
	logger    watermill.LoggerAdapter
}

// NewMonitor creates a connectivity monitor publishing to the given publisher.
func NewMonitor(cfg Config, publisher message.Publisher, logger watermill.LoggerAdapter) *Monitor {
	return &Monitor{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.timeout()},
		publisher: publisher,
		logger:    logger,
	}
}

// Run probes until the context is cancelled. While online, probes run on the
// configured interval; after a failure, probe pacing follows an exponential
// backoff until connectivity returns. The first observation is always
// published so consumers start from a known state.
func (m *Monitor) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.interval()
	bo.MaxInterval = 8 * m.cfg.interval()
	bo.MaxElapsedTime = 0

	var (
		online bool
		first  = true
	)

	for {
		ok := m.probe(ctx)
		if ctx.Err() != nil {
			return
		}

		if first || ok != online {
			online = ok
			first = false
			m.publishState(online)
		}

		var wait time.Duration
		if ok {
			bo.Reset()
			wait = m.cfg.interval()
		} else {
			wait = bo.NextBackOff()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	// Any answer at all means the network path is up.
	return true
}

func (m *Monitor) publishState(online bool) {
	payload, err := json.Marshal(ports.ConnectivityEvent{
		Online: online,
		At:     time.Now(),
	})
	if err != nil {
		m.logger.Error("failed to marshal connectivity event", err, nil)
		return
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := m.publisher.Publish(ports.ConnectivityTopic, msg); err != nil {
		m.logger.Error("failed to publish connectivity event", err, watermill.LogFields{
			"online": online,
		})
		return
	}

	m.logger.Info("connectivity changed", watermill.LogFields{"online": online})
}
