// Package api provides the typed HTTP client for the activity service.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 30 * time.Second

// ErrNotFound indicates the requested record does not exist remotely.
var ErrNotFound = errors.New("activity not found")

// ErrUnauthorized indicates the bearer credential was rejected. The cached
// credential has been invalidated; the caller must re-authenticate.
var ErrUnauthorized = errors.New("authorization failed: re-authentication required")

// Error is a non-2xx response from the activity service, carrying the
// detail message from the response envelope.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Unavailable reports whether err means the remote service could not be
// reached at all (connection refused, timeout, DNS failure), as opposed
// to a response the service actually produced.
func Unavailable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// TokenSource supplies the bearer credential for requests. Invalidate is
// called once on a 401 so the next protected call forces re-authentication.
type TokenSource interface {
	Token() (string, error)
	Invalidate()
}

// LocationDTO is the wire representation of a captured coordinate.
type LocationDTO struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// ActivityDTO is the wire representation of an activity. Server-assigned
// fields (ID, CreatedAt, UpdatedAt) are absent on create requests.
type ActivityDTO struct {
	ID          *int64       `json:"id,omitempty"`
	ClientID    string       `json:"clientId"`
	Kind        string       `json:"activityType"`
	SubjectName string       `json:"businessName"`
	ContactName string       `json:"contactPerson"`
	Email       string       `json:"email,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	Location    *LocationDTO `json:"location,omitempty"`
	OccurredAt  string       `json:"timestamp"`
	CreatedAt   string       `json:"createdAt,omitempty"`
	UpdatedAt   string       `json:"updatedAt,omitempty"`
}

// Page is the paginated envelope the service wraps list responses in.
type Page struct {
	Content       []ActivityDTO `json:"content"`
	Page          int           `json:"page"`
	Size          int           `json:"size"`
	TotalElements int64         `json:"totalElements"`
	TotalPages    int           `json:"totalPages"`
	First         bool          `json:"first"`
	Last          bool          `json:"last"`
	HasNext       bool          `json:"hasNext"`
	HasPrevious   bool          `json:"hasPrevious"`
}

// envelope is the outer wrapper on every response.
type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Client is an activity service API client.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// New creates a client with the default 30s request timeout.
func New(baseURL string, tokens TokenSource) *Client {
	return NewWithTimeout(baseURL, tokens, defaultTimeout)
}

// NewWithTimeout creates a client with an explicit request timeout.
func NewWithTimeout(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// doRequest performs an authenticated request and returns the envelope's
// data payload. Non-2xx responses surface the envelope message; a 401
// additionally invalidates the cached credential.
func (c *Client) doRequest(method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		return nil, ErrUnauthorized
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := resp.Status
		var env envelope
		if err := json.Unmarshal(respBody, &env); err == nil && env.Message != "" {
			msg = env.Message
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	if len(respBody) == 0 {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return env.Data, nil
}

func decodeActivity(data json.RawMessage) (*ActivityDTO, error) {
	var dto ActivityDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("failed to decode activity: %w", err)
	}
	return &dto, nil
}

func decodePage(data json.RawMessage) (*Page, error) {
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}
	return &page, nil
}

// Create submits a new activity. The response carries the server-assigned id.
func (c *Client) Create(act ActivityDTO) (*ActivityDTO, error) {
	data, err := c.doRequest(http.MethodPost, "/activities", act)
	if err != nil {
		return nil, err
	}
	return decodeActivity(data)
}

// GetByServerID fetches an activity by its server-assigned id.
func (c *Client) GetByServerID(id int64) (*ActivityDTO, error) {
	data, err := c.doRequest(http.MethodGet, fmt.Sprintf("/activities/%d", id), nil)
	if err != nil {
		return nil, err
	}
	return decodeActivity(data)
}

// GetByClientID is the idempotency lookup: it fetches the remote copy of
// a record by the client-generated id. ErrNotFound means the server has
// not yet accepted a record with that id.
func (c *Client) GetByClientID(clientID string) (*ActivityDTO, error) {
	data, err := c.doRequest(http.MethodGet, "/activities/sync/"+url.PathEscape(clientID), nil)
	if err != nil {
		return nil, err
	}
	return decodeActivity(data)
}

// Update replaces the remote activity identified by its server id.
func (c *Client) Update(id int64, act ActivityDTO) (*ActivityDTO, error) {
	data, err := c.doRequest(http.MethodPut, fmt.Sprintf("/activities/%d", id), act)
	if err != nil {
		return nil, err
	}
	return decodeActivity(data)
}

// Delete removes the remote activity identified by its server id.
func (c *Client) Delete(id int64) error {
	_, err := c.doRequest(http.MethodDelete, fmt.Sprintf("/activities/%d", id), nil)
	return err
}

// ListRecent fetches the authoritative recent-activity page.
func (c *Client) ListRecent(page, size int) (*Page, error) {
	path := fmt.Sprintf("/activities/recent?page=%d&size=%d", page, size)
	data, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodePage(data)
}

// Search fetches activities matching a business name.
func (c *Client) Search(businessName string, page, size int) (*Page, error) {
	path := fmt.Sprintf("/activities/search?businessName=%s&page=%d&size=%d",
		url.QueryEscape(businessName), page, size)
	data, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodePage(data)
}

// ListByKind fetches activities of one category.
func (c *Client) ListByKind(kind string, page, size int) (*Page, error) {
	path := fmt.Sprintf("/activities/kind/%s?page=%d&size=%d",
		url.PathEscape(kind), page, size)
	data, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodePage(data)
}

// Ping performs a minimal authenticated request, used as the
// connectivity probe. A nil error means the service is reachable.
func (c *Client) Ping() error {
	_, err := c.ListRecent(0, 1)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
