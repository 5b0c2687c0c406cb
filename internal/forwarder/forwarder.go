package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pbrresearch/datalogger/internal/infrastructure/config"
	"github.com/pbrresearch/datalogger/internal/queue"
)

// Forwarder submits batches of queued readings to the HTTP collector.
//
// Send classifies every outcome as success, transient, or permanent so
// the pipeline can decide between retry and dead-letter without
// inspecting HTTP details itself.
//
// Thread Safety:
//   - Safe for concurrent use; workers share the HTTP client and the
//     cached auth token.
type Forwarder struct {
	url    string
	source string
	client *http.Client
	auth   *tokenSource
}

// batchDocument is the collector wire format for one forwarding attempt.
type batchDocument struct {
	BatchID  string            `json:"batch_id"`
	Source   string            `json:"source"`
	Readings []readingDocument `json:"readings"`
}

// readingDocument is one reading inside a batch submission.
type readingDocument struct {
	Seq        int64           `json:"seq"`
	Topic      string          `json:"topic"`
	DeviceID   string          `json:"device_id"`
	RecordedAt time.Time       `json:"recorded_at"`
	Fields     json.RawMessage `json:"fields"`
}

// New creates a forwarder for the configured collector.
//
// Parameters:
//   - cfg: Collector endpoint, timeout, auth, and retry settings
//   - source: This datalogger's service name, echoed in every batch
func New(cfg config.CollectorConfig, source string) *Forwarder {
	client := &http.Client{
		Timeout: time.Duration(cfg.Timeout) * time.Second,
	}

	return &Forwarder{
		url:    cfg.URL,
		source: source,
		client: client,
		auth:   newTokenSource(cfg.Auth, client),
	}
}

// Send submits one batch to the collector.
//
// Returns:
//   - nil: The collector accepted the batch (2xx)
//   - ErrTransient: Network error, timeout, 5xx, or 429; retry later
//   - ErrPermanent: The collector rejected the batch (other 4xx)
//   - ErrAuthFailed: 401 persisted after one token refresh
//
// A 401 response triggers exactly one re-authentication and resend
// within the same Send call; tokens expire routinely and that is not a
// batch failure.
func (f *Forwarder) Send(ctx context.Context, batch queue.Batch) error {
	if batch.Empty() {
		return nil
	}

	body, err := f.marshalBatch(batch)
	if err != nil {
		return fmt.Errorf("%w: encoding batch %s: %w", ErrPermanent, batch.ID, err)
	}

	status, err := f.post(ctx, body)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		f.auth.Invalidate()
		status, err = f.post(ctx, body)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return fmt.Errorf("%w: collector returned 401 after token refresh", ErrAuthFailed)
		}
	}

	return classifyStatus(status, batch.ID)
}

// marshalBatch encodes the batch into the collector wire format.
func (f *Forwarder) marshalBatch(batch queue.Batch) ([]byte, error) {
	doc := batchDocument{
		BatchID:  batch.ID,
		Source:   f.source,
		Readings: make([]readingDocument, len(batch.Records)),
	}
	for i, r := range batch.Records {
		doc.Readings[i] = readingDocument{
			Seq:        r.Seq,
			Topic:      r.Topic,
			DeviceID:   r.DeviceID,
			RecordedAt: r.RecordedAt,
			Fields:     json.RawMessage(r.Payload),
		}
	}
	return json.Marshal(doc)
}

// post performs one HTTP submission and returns the status code.
// Transport-level failures are returned as ErrTransient.
func (f *Forwarder) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: building request: %w", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := f.auth.Token(ctx)
	if err != nil {
		return 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	resp.Body.Close()

	return resp.StatusCode, nil
}

// classifyStatus maps an HTTP status to the forwarder error taxonomy.
func classifyStatus(status int, batchID string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: collector throttled batch %s (429)", ErrTransient, batchID)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: batch %s (status %d)", ErrPermanent, batchID, status)
	default:
		return fmt.Errorf("%w: batch %s (status %d)", ErrTransient, batchID, status)
	}
}
