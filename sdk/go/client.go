package pactlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pactline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	UserID      string // legacy X-User-Id fallback when no bearer token is set
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Pact represents the API pact model.
type Pact struct {
	ID                string `json:"id"`
	ParticipantA      string `json:"participant_a"`
	ParticipantB      string `json:"participant_b"`
	CommitmentType    string `json:"commitment_type"`
	TargetValue       int    `json:"target_value"`
	CustomDescription string `json:"custom_description,omitempty"`
	Status            string `json:"status"`
	StreakCount       int    `json:"streak_count"`
	LongestStreak     int    `json:"longest_streak"`
	CreatedAt         string `json:"created_at"`
	LastEvaluatedDate string `json:"last_evaluated_date,omitempty"`
}

// LedgerEntry is one settled participant-day.
type LedgerEntry struct {
	ParticipantID string `json:"participant_id"`
	Date          string `json:"date"`
	ProgressValue int    `json:"progress_value"`
	MetTarget     bool   `json:"met_target"`
	RecordedAt    string `json:"recorded_at"`
}

// Event represents a log entry.
type Event struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	PactID  string         `json:"pact_id,omitempty"`
	ActorID string         `json:"actor_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ProgressReport is an ingested telemetry sample.
type ProgressReport struct {
	UserID         string `json:"user_id"`
	CommitmentType string `json:"commitment_type"`
	Date           string `json:"date"`
	ProgressValue  int    `json:"progress_value"`
	RecordedAt     string `json:"recorded_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreatePact proposes a pact to a friend.
func (c *Client) CreatePact(ctx context.Context, partner, commitmentType string, target int, description string) (Pact, error) {
	body := map[string]any{
		"partner":         partner,
		"commitment_type": commitmentType,
	}
	if target > 0 {
		body["target_value"] = target
	}
	if description != "" {
		body["custom_description"] = description
	}
	var resp Pact
	err := c.do(ctx, http.MethodPost, "v0/pacts", body, &resp)
	return resp, err
}

// RespondPact accepts or declines an invitation.
func (c *Client) RespondPact(ctx context.Context, pactID string, accept bool) (Pact, error) {
	var resp Pact
	endpoint := fmt.Sprintf("v0/pacts/%s/respond", url.PathEscape(pactID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"accept": accept}, &resp)
	return resp, err
}

// CancelPact withdraws a pending invitation.
func (c *Client) CancelPact(ctx context.Context, pactID string) (Pact, error) {
	var resp Pact
	endpoint := fmt.Sprintf("v0/pacts/%s/cancel", url.PathEscape(pactID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// EndPact terminates an active pact.
func (c *Client) EndPact(ctx context.Context, pactID string, mutual bool) (Pact, error) {
	var resp Pact
	endpoint := fmt.Sprintf("v0/pacts/%s/end", url.PathEscape(pactID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"mutual": mutual}, &resp)
	return resp, err
}

// GetPact fetches one pact.
func (c *Client) GetPact(ctx context.Context, pactID string) (Pact, error) {
	var resp Pact
	endpoint := fmt.Sprintf("v0/pacts/%s", url.PathEscape(pactID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Ledger returns the settled days of a pact, most recent first.
func (c *Client) Ledger(ctx context.Context, pactID string, limit int) ([]LedgerEntry, error) {
	endpoint := fmt.Sprintf("v0/pacts/%s/ledger", url.PathEscape(pactID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []LedgerEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ReportProgress submits a telemetry sample for the authenticated user.
func (c *Client) ReportProgress(ctx context.Context, commitmentType, date string, value int) (ProgressReport, error) {
	body := map[string]any{
		"commitment_type": commitmentType,
		"date":            date,
		"value":           value,
	}
	var resp ProgressReport
	err := c.do(ctx, http.MethodPost, "v0/progress", body, &resp)
	return resp, err
}

// UserEvents returns recent events concerning a user.
func (c *Client) UserEvents(ctx context.Context, userID string, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/users/%s/events", url.PathEscape(userID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
