// Package results implements the results feed client. The feed reports, for
// a finished event, an ordered finishing list plus named facts such as the
// fastest-lap holder. Results may be stale or absent; callers treat
// domain.ErrResultsUnavailable as transient and retry on a later sweep.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oddsflow/settler/internal/domain"
)

// Client is the REST client for the results feed.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a results feed client. baseURL is the feed root, e.g.
// "https://results.internal:8090". Every call is bounded by timeout.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiResultSheet is the feed's wire representation of an event result.
type apiResultSheet struct {
	EventID        string               `json:"event_id"`
	FinishingOrder []domain.ResultEntry `json:"finishing_order"`
	Facts          map[string]string    `json:"facts"`
}

// GetResults fetches the result sheet for an event. A 404 or 202 response
// means the feed has nothing final for the event yet and maps to
// domain.ErrResultsUnavailable.
func (c *Client) GetResults(ctx context.Context, eventID string) (domain.ResultSheet, error) {
	path := fmt.Sprintf("%s/events/%s/results", c.baseURL, url.PathEscape(eventID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.ResultSheet{}, fmt.Errorf("results: create request for event %s: %w", eventID, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ResultSheet{}, fmt.Errorf("results: fetch event %s: %w", eventID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound, http.StatusAccepted, http.StatusNoContent:
		return domain.ResultSheet{}, fmt.Errorf("results: event %s: %w", eventID, domain.ErrResultsUnavailable)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.ResultSheet{}, fmt.Errorf("results: event %s: unexpected status %d: %s",
			eventID, resp.StatusCode, string(body))
	}

	var api apiResultSheet
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return domain.ResultSheet{}, fmt.Errorf("results: decode event %s: %w", eventID, err)
	}

	sheet := domain.ResultSheet{
		EventID:        api.EventID,
		FinishingOrder: api.FinishingOrder,
		Facts:          api.Facts,
	}
	if sheet.EventID == "" {
		sheet.EventID = eventID
	}
	return sheet, nil
}

// Compile-time interface check.
var _ domain.ResultsProvider = (*Client)(nil)
