// Package client is the HTTP client of the study chat API, including the
// status poller with history fallback used by the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
)

const (
	DefaultSyncTimeout = 2 * time.Hour
	defaultRetryDelay  = 2 * time.Second
)

// APIError is a non-2xx answer from the server. It unwraps to the matching
// domain error so callers can use errors.Is across the wire.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: HTTP %d: %s", e.StatusCode, e.Detail)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return domain.ErrInvalidArgument
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrSessionBusy
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return domain.ErrUpstreamUnavailable
	case http.StatusGatewayTimeout:
		return domain.ErrUpstreamTimeout
	}
	return nil
}

type Client struct {
	baseURL     string
	token       string
	http        *http.Client
	syncTimeout time.Duration
	retryDelay  time.Duration
	log         *zerolog.Logger
}

type Option func(*Client)

func WithToken(token string) Option { return func(c *Client) { c.token = token } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithSyncTimeout bounds SendSync across both attempts.
func WithSyncTimeout(d time.Duration) Option { return func(c *Client) { c.syncTimeout = d } }

func WithRetryDelay(d time.Duration) Option { return func(c *Client) { c.retryDelay = d } }

func WithLogger(l *zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// New returns a client for the API rooted at baseURL, e.g. http://localhost:8000.
func New(baseURL string, opts ...Option) *Client {
	nop := zerolog.Nop()
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/") + "/api/v1",
		http:        &http.Client{},
		syncTimeout: DefaultSyncTimeout,
		retryDelay:  defaultRetryDelay,
		log:         &nop,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type SessionInput struct {
	Name            string `json:"name"`
	FieldOfStudy    string `json:"field_of_study,omitempty"`
	StudyGoal       string `json:"study_goal,omitempty"`
	Context         string `json:"context,omitempty"`
	TimeCommitment  string `json:"time_commitment,omitempty"`
	DifficultyLevel string `json:"difficulty_level,omitempty"`
}

func (c *Client) CreateSession(ctx context.Context, in SessionInput) (*model.StudySession, error) {
	var out model.StudySession
	if err := c.do(ctx, http.MethodPost, "/sessions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*model.StudySession, error) {
	var out model.StudySession
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
}

type messageBody struct {
	Message string `json:"message"`
}

// StartChat submits a message and returns the request id without waiting.
func (c *Client) StartChat(ctx context.Context, sessionID, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message must not be empty: %w", domain.ErrInvalidArgument)
	}
	var out struct {
		RequestID string `json:"request_id"`
	}
	if err := c.do(ctx, http.MethodPost, chatPath(sessionID, "/start"), messageBody{message}, &out); err != nil {
		return "", err
	}
	if out.RequestID == "" {
		return "", errors.New("server returned no request id")
	}
	return out.RequestID, nil
}

// GetStatus reads a request's status. It never changes server state.
func (c *Client) GetStatus(ctx context.Context, sessionID, requestID string) (*model.ChatRequest, error) {
	var out model.ChatRequest
	if err := c.do(ctx, http.MethodGet, chatPath(sessionID, "/status/"+url.PathEscape(requestID)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	out := []model.ChatMessage{}
	if err := c.do(ctx, http.MethodGet, chatPath(sessionID, ""), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendSync asks for an answer on the blocking endpoint. Network errors and 5xx
// answers are retried once; the whole call is bounded by the sync timeout.
func (c *Client) SendSync(ctx context.Context, sessionID, message string) (*model.ChatMessage, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("message must not be empty: %w", domain.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	defer cancel()

	var (
		out model.ChatMessage
		err error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		err = c.do(ctx, http.MethodPost, chatPath(sessionID, ""), messageBody{message}, &out)
		if err == nil {
			return &out, nil
		}
		if attempt == 2 || !retryable(ctx, err) {
			break
		}
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("sync chat failed, retrying once")
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %v", ErrTimeoutExceeded, err)
	}
	return nil, err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

func (c *Client) AddFeedback(ctx context.Context, sessionID, messageID string, isPositive bool, comment string) (*model.ChatMessage, error) {
	body := struct {
		IsPositive bool   `json:"is_positive"`
		Comment    string `json:"comment,omitempty"`
	}{isPositive, comment}
	var out model.ChatMessage
	if err := c.do(ctx, http.MethodPost, chatPath(sessionID, "/"+url.PathEscape(messageID)+"/feedback"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ClearHistory(ctx context.Context, sessionID string) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, chatPath(sessionID, ""), nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func chatPath(sessionID, suffix string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/chat" + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Detail = eb.Detail
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
