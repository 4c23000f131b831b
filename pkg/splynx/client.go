// Package splynx implements the REST client for the remote ticketing
// platform. Authentication uses short-lived access tokens; a request that
// comes back 401 refreshes the token and retries exactly once. Calls run
// through a circuit breaker so a platform outage degrades to skipped sync
// passes instead of piling up timeouts.
package splynx

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrNotFound indicates the remote entity does not exist.
var ErrNotFound = errors.New("splynx: not found")

// ErrorKind classifies a client failure so callers can decide between
// retrying next tick and giving up.
type ErrorKind string

const (
	KindAuthExpired ErrorKind = "auth_expired" // 401 after a token refresh
	KindNotFound    ErrorKind = "not_found"
	KindTransport   ErrorKind = "transport" // network error or timeout
	KindProtocol    ErrorKind = "protocol"  // unexpected status or body
)

// Error is a classified client failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("splynx: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DefaultGroupID is the support group new tickets are filed under.
const DefaultGroupID = "4"

// Config holds connection parameters for the ticketing API.
type Config struct {
	BaseURL  string
	User     string
	Password string
	GroupID  string
	Timeout  time.Duration

	// SkipTLSVerify disables certificate validation. Some Splynx installs
	// run behind self-signed certificates.
	SkipTLSVerify bool
}

// Client talks to the ticketing platform's admin REST API.
type Client struct {
	baseURL    string
	user       string
	password   string
	groupID    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = DefaultGroupID
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "splynx",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 404 is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})
	httpClient := &http.Client{Timeout: timeout}
	if cfg.SkipTLSVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		user:       cfg.User,
		password:   cfg.Password,
		groupID:    groupID,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     slog.Default().With("component", "splynx-client"),
	}
}

// GroupID returns the support group new tickets are created under.
func (c *Client) GroupID() string { return c.groupID }

// authenticate requests a fresh access token.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"auth_type": "admin",
		"login":     c.user,
		"password":  c.password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/admin/auth/tokens", strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("auth request returned status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("auth response missing access token")
	}
	return tok.AccessToken, nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// do performs one authenticated request, refreshing the token and retrying
// once on 401. The response body is returned for any success status; 202 and
// 204 yield an empty body.
func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doOnce(ctx, method, path, form, true)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, form url.Values, retryAuth bool) ([]byte, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Splynx-EA (access_token=%s)", token))
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	op := method + " " + path
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized && retryAuth:
		c.invalidateToken()
		c.logger.Debug("Access token expired, re-authenticating", slog.String("path", path))
		return c.doOnce(ctx, method, path, form, false)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &Error{Kind: KindAuthExpired, Op: op,
			Err: errors.New("still unauthorized after token refresh")}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, Op: op, Err: ErrNotFound}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &Error{Kind: KindTransport, Op: op, Err: err}
		}
		return data, nil
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Kind: KindProtocol, Op: op,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	}
}

// GetTicket fetches one ticket by id.
func (c *Client) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	data, err := c.do(ctx, http.MethodGet, "/admin/support/tickets/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode ticket %s: %w", id, err)
	}
	return &t, nil
}

// CreateTicketInput carries the fields for filing a new remote ticket.
type CreateTicketInput struct {
	CustomerID string
	Subject    string
	Note       string
	Priority   string
	AssignTo   int64
	CreatedAt  string
}

// CreateTicket files a new support ticket and returns its id.
func (c *Client) CreateTicket(ctx context.Context, in CreateTicketInput) (string, error) {
	form := url.Values{}
	form.Set("customer_id", in.CustomerID)
	form.Set("subject", in.Subject)
	form.Set("priority", in.Priority)
	form.Set("group_id", c.groupID)
	form.Set("status_id", "1")
	form.Set("type_id", "2")
	if in.Note != "" {
		form.Set("message", in.Note)
	}
	if in.AssignTo != 0 {
		form.Set("assign_to", fmt.Sprintf("%d", in.AssignTo))
	}
	if in.CreatedAt != "" {
		form.Set("created_at", in.CreatedAt)
	}

	data, err := c.do(ctx, http.MethodPost, "/admin/support/tickets", form)
	if err != nil {
		return "", err
	}

	var t Ticket
	if len(data) > 0 {
		if err := json.Unmarshal(data, &t); err != nil {
			return "", fmt.Errorf("failed to decode created ticket: %w", err)
		}
	}
	if t.ID == "" {
		return "", errors.New("create ticket response missing id")
	}
	return t.ID.String(), nil
}

// UpdateTicket applies field updates to a ticket. Some deployments answer
// PUT with 202/204 and an empty body; those count as success.
func (c *Client) UpdateTicket(ctx context.Context, id string, fields map[string]string) error {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	_, err := c.do(ctx, http.MethodPut, "/admin/support/tickets/"+url.PathEscape(id), form)
	return err
}

// ReopenTicket flips a ticket back to open/unresolved.
func (c *Client) ReopenTicket(ctx context.Context, id string) error {
	return c.UpdateTicket(ctx, id, map[string]string{
		"status_id": "1",
		"closed":    "0",
	})
}

// CloseTicket marks a ticket closed remotely.
func (c *Client) CloseTicket(ctx context.Context, id string) error {
	return c.UpdateTicket(ctx, id, map[string]string{
		"closed": "1",
	})
}

// UpdateAssignment sets the ticket's assignee. Zero unassigns.
func (c *Client) UpdateAssignment(ctx context.Context, id string, adminID int64) error {
	return c.UpdateTicket(ctx, id, map[string]string{
		"assign_to": fmt.Sprintf("%d", adminID),
	})
}

// GetTicketMessages returns a ticket's conversation.
func (c *Client) GetTicketMessages(ctx context.Context, ticketID string) ([]TicketMessage, error) {
	data, err := c.do(ctx, http.MethodGet,
		"/admin/support/ticket-messages?ticket_id="+url.QueryEscape(ticketID), nil)
	if err != nil {
		return nil, err
	}
	var msgs []TicketMessage
	if len(data) == 0 {
		return msgs, nil
	}
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages for ticket %s: %w", ticketID, err)
	}
	return msgs, nil
}

// ListOpenTickets returns every open ticket in the configured group.
func (c *Client) ListOpenTickets(ctx context.Context) ([]Ticket, error) {
	query := url.Values{}
	query.Set("main_attributes[group_id]", c.groupID)
	query.Set("main_attributes[closed]", "0")

	data, err := c.do(ctx, http.MethodGet, "/admin/support/tickets?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var tickets []Ticket
	if len(data) == 0 {
		return tickets, nil
	}
	if err := json.Unmarshal(data, &tickets); err != nil {
		return nil, fmt.Errorf("failed to decode open tickets: %w", err)
	}
	return tickets, nil
}

// ListUnassigned returns open tickets in the group with no assignee.
func (c *Client) ListUnassigned(ctx context.Context) ([]Ticket, error) {
	tickets, err := c.ListOpenTickets(ctx)
	if err != nil {
		return nil, err
	}
	var out []Ticket
	for _, t := range tickets {
		if t.AssignTo.Int64() == 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListAssigned returns open tickets in the group that have an assignee.
func (c *Client) ListAssigned(ctx context.Context) ([]Ticket, error) {
	tickets, err := c.ListOpenTickets(ctx)
	if err != nil {
		return nil, err
	}
	var out []Ticket
	for _, t := range tickets {
		if t.AssignTo.Int64() != 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListAdministrators returns the platform's admin accounts.
func (c *Client) ListAdministrators(ctx context.Context) ([]Administrator, error) {
	data, err := c.do(ctx, http.MethodGet, "/admin/administration/administrators", nil)
	if err != nil {
		return nil, err
	}
	var admins []Administrator
	if len(data) == 0 {
		return admins, nil
	}
	if err := json.Unmarshal(data, &admins); err != nil {
		return nil, fmt.Errorf("failed to decode administrators: %w", err)
	}
	return admins, nil
}
