// Package pager dispatches incident pages to the on-call paging provider over
// its JSON webhook API. It implements incident.Dispatcher with the error
// taxonomy the engine's retry policy keys on, and guards the provider with a
// circuit breaker so a dying provider fails fast instead of tying up every
// raise path in timeouts.
package pager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/klaxon/internal/incident"
)

const httpTimeout = 5 * time.Second

// Client sends pages to the paging provider webhook.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   log.Logger
}

// New creates a paging client for the given webhook endpoint. A nil logger is
// replaced with a no-op.
func New(endpoint, token string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	c := &Client{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: httpTimeout},
		logger:   logger.With("component", "pager"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "paging-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn(context.Background(), "paging provider circuit state changed",
				"from", from.String(), "to", to.String())
		},
	})
	return c
}

// pageRequest is the provider's webhook payload.
type pageRequest struct {
	IncidentID  string            `json:"incident_id"`
	Severity    string            `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source"`
	Channels    []string          `json:"channels"`
	Tier        int               `json:"tier"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// pageResponse is the provider's acknowledgement of a delivered page.
type pageResponse struct {
	Reference string `json:"reference"`
}

// SendPage posts one page to the provider and returns its reference.
// Timeouts, 5xx and 429 responses, and an open breaker come back as
// TransientDispatchError; other 4xx responses mean the request or routing
// configuration is wrong and come back as PermanentDispatchError.
func (c *Client) SendPage(ctx context.Context, in *incident.Incident, channels []incident.Channel, tier int) (string, error) {
	body, err := json.Marshal(pageRequest{
		IncidentID:  in.ID,
		Severity:    string(in.Severity),
		Title:       in.Title,
		Description: in.Description,
		Source:      in.Source,
		Channels:    channelStrings(channels),
		Tier:        tier,
		Metadata:    in.Metadata,
		CreatedAt:   in.CreatedAt,
	})
	if err != nil {
		return "", &incident.PermanentDispatchError{Err: fmt.Errorf("pager: marshal page: %w", err)}
	}

	ref, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", &incident.TransientDispatchError{Err: fmt.Errorf("pager: circuit open: %w", err)}
		}
		return "", err
	}
	return ref.(string), nil
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &incident.PermanentDispatchError{Err: fmt.Errorf("pager: create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req) //nolint:gosec // G704: endpoint is from trusted config, not user input
	if err != nil {
		return "", &incident.TransientDispatchError{Err: fmt.Errorf("pager: post page: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var pr pageResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&pr); err != nil {
			// Delivered but unparseable reference: the page went out, do
			// not make the engine retry and page twice.
			c.logger.Warn(ctx, "page delivered but response unparseable", "error", err)
			return "", nil
		}
		return pr.Reference, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &incident.TransientDispatchError{
			Err: fmt.Errorf("pager: provider returned %d: %s", resp.StatusCode, string(respBody)),
		}
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &incident.PermanentDispatchError{
			Err: fmt.Errorf("pager: provider returned %d: %s", resp.StatusCode, string(respBody)),
		}
	}
}

func channelStrings(chs []incident.Channel) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = string(ch)
	}
	return out
}
