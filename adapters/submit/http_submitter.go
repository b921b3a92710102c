package submit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lumen-market/caravel/core"
	"github.com/lumen-market/caravel/ports"
)

// HTTPSubmitter forwards queue payloads to the external submission endpoint.
// Transport failures classify as network errors, non-2xx answers as
// counterparty rejections, so the queue's retry decisions fall out of the
// shared taxonomy.
type HTTPSubmitter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSubmitter creates a submitter targeting the given endpoint.
func NewHTTPSubmitter(endpoint string, timeout time.Duration) ports.Submitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSubmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Submit performs one submission attempt
func (s *HTTPSubmitter) Submit(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s",
			core.ErrCounterpartyRejected, resp.StatusCode, core.TruncateBody(string(body)))
	}

	return nil
}
