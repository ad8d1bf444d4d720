package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSink appends events to the event store's ingest endpoint.
type HTTPSink struct {
	url  string
	http *http.Client
}

func NewHTTPSink(baseURL string) *HTTPSink {
	return &HTTPSink{
		url:  baseURL + "/v1/events",
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

var _ Sink = (*HTTPSink)(nil)

func (s *HTTPSink) Emit(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", event.IdempotencyKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("event store returned %d", resp.StatusCode)
	}
	return nil
}
