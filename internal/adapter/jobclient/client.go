// Package jobclient is the HTTP client for the worker process that
// actually runs backend jobs. It consumes the worker's SSE stream and
// republishes each event on the in-process bus under the job kind's
// channels, tagged with the run identifier.
package jobclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/personadesk/runstream/internal/bus"
	"github.com/personadesk/runstream/internal/domain"
	"github.com/personadesk/runstream/internal/jobrun"
)

// SSEEvent represents a parsed SSE event.
type SSEEvent struct {
	Event string
	Data  string
}

// Client invokes worker jobs and streams their events onto the bus.
type Client struct {
	httpClient *http.Client
	baseURL    string
	bus        *bus.Bus
	jobTimeout time.Duration
}

// NewClient creates a worker client publishing to the given bus.
func NewClient(baseURL string, jobTimeout time.Duration, b *bus.Bus) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 0, // per-job timeout is applied via context
		},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		bus:        b,
		jobTimeout: jobTimeout,
	}
}

// StartJob launches a job on the worker. It returns once the worker has
// accepted the job; the SSE stream is pumped onto the bus from a
// background goroutine for the rest of the run.
func (c *Client) StartJob(ctx context.Context, kind jobrun.Kind, runID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	// the stream outlives the caller's request context
	jobCtx, cancel := context.WithTimeout(context.Background(), c.jobTimeout)

	url := fmt.Sprintf("%s/jobs/%s/start", c.baseURL, kind.Name)
	req, err := http.NewRequestWithContext(jobCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Run-ID", runID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start %s job: %w", kind.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return fmt.Errorf("worker returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	go func() {
		defer cancel()
		defer resp.Body.Close()
		c.pump(resp.Body, kind, runID)
	}()
	return nil
}

// CancelJob asks the worker to stop a run. Callers treat failures as
// best-effort.
func (c *Client) CancelJob(ctx context.Context, kind jobrun.Kind, runID string) error {
	url := fmt.Sprintf("%s/jobs/%s/runs/%s/cancel", c.baseURL, kind.Name, runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create cancel request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to cancel %s run %s: %w", kind.Name, runID, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("worker cancel returned status %d", resp.StatusCode)
	}
	return nil
}

// pump reads the SSE stream and republishes events until it ends. If the
// stream ends without a terminal status the run would hang in running,
// so a synthetic failed status is published.
func (c *Client) pump(body io.Reader, kind jobrun.Kind, runID string) {
	terminal := false

	err := parseSSE(body, func(event SSEEvent) error {
		switch event.Event {
		case "line":
			c.republish(kind.Channels.Progress, kind.Channels.IDField, runID, event.Data)
		case "status":
			c.republish(kind.Channels.Status, kind.Channels.IDField, runID, event.Data)
			var ev domain.StatusEvent
			if json.Unmarshal([]byte(event.Data), &ev) == nil {
				if ev.Status == domain.JobStatusCompleted || ev.Status == domain.JobStatusFailed {
					terminal = true
				}
			}
		default:
			log.Printf("WARN: unknown SSE event %q from worker", event.Event)
		}
		return nil
	})
	if err != nil {
		log.Printf("ERROR: %s stream for %s failed: %v", kind.Name, runID, err)
	}

	if !terminal {
		status, _ := json.Marshal(map[string]interface{}{
			kind.Channels.IDField: runID,
			"status":              domain.JobStatusFailed,
			"error":               "worker stream ended unexpectedly",
		})
		c.bus.Publish(kind.Channels.Status, status)
	}
}

// republish wraps the worker payload with the run identifier under the
// kind's id field and publishes it.
func (c *Client) republish(channel, idField, runID, data string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		log.Printf("WARN: malformed worker event on %s: %v", channel, err)
		return
	}
	id, _ := json.Marshal(runID)
	fields[idField] = id
	payload, err := json.Marshal(fields)
	if err != nil {
		log.Printf("WARN: failed to re-encode worker event: %v", err)
		return
	}
	c.bus.Publish(channel, payload)
}

// parseSSE parses an SSE stream and calls the handler for each event.
func parseSSE(reader io.Reader, handler func(SSEEvent) error) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var event SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		// empty line marks end of event
		if line == "" {
			if event.Event != "" || event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
				event = SSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
		// comments (lines starting with :) and other fields are ignored
	}

	if event.Event != "" || event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}
	return scanner.Err()
}
