package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/personadesk/runstream/internal/consent"
)

// StartConsent launches an authorization flow on the worker and returns
// the session handle plus the page the user has to visit.
func (c *Client) StartConsent(ctx context.Context, provider string, payload interface{}) (consent.StartResult, error) {
	var out consent.StartResult

	body, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("failed to marshal consent payload: %w", err)
	}

	url := fmt.Sprintf("%s/consent/%s/start", c.baseURL, provider)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("failed to create consent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to start %s consent: %w", provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return out, fmt.Errorf("worker returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode consent start response: %w", err)
	}
	if out.SessionID == "" {
		return out, fmt.Errorf("worker returned no session id")
	}
	return out, nil
}

// PollConsent fetches the current status of an authorization session.
func (c *Client) PollConsent(ctx context.Context, sessionID string) (consent.PollResult, error) {
	var out consent.PollResult

	url := fmt.Sprintf("%s/consent/sessions/%s", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return out, fmt.Errorf("failed to create poll request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to poll consent session %s: %w", sessionID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("worker returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode consent status: %w", err)
	}
	return out, nil
}
