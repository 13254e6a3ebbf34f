package model

import (
	"strings"
	"time"
)

type ChatRequestStatus string

const (
	ChatRequestPending    ChatRequestStatus = "pending"
	ChatRequestProcessing ChatRequestStatus = "processing"
	ChatRequestComplete   ChatRequestStatus = "complete"
	ChatRequestError      ChatRequestStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s ChatRequestStatus) Terminal() bool {
	return s == ChatRequestComplete || s == ChatRequestError
}

// ChatResult is the answer attached to a completed request.
type ChatResult struct {
	Content   string    `json:"content"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Empty reports whether the result carries no usable answer.
func (r *ChatResult) Empty() bool {
	return r == nil || strings.TrimSpace(r.Content) == ""
}

// ChatRequest is one asynchronous attempt to answer a user message.
type ChatRequest struct {
	ID          string            `json:"request_id"`
	SessionID   string            `json:"session_id"`
	Message     string            `json:"submitted_message"`
	Status      ChatRequestStatus `json:"status"`
	Result      *ChatResult       `json:"result,omitempty"`
	ErrorDetail string            `json:"error_detail,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func NewChatRequest(id, sessionID, message string) *ChatRequest {
	now := time.Now()
	return &ChatRequest{
		ID:        id,
		SessionID: sessionID,
		Message:   message,
		Status:    ChatRequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Complete moves the request to complete with the given answer.
// It returns false when the request is already terminal.
func (r *ChatRequest) Complete(res ChatResult) bool {
	if r.Status.Terminal() {
		return false
	}
	now := time.Now()
	r.Status = ChatRequestComplete
	r.Result = &res
	r.ErrorDetail = ""
	r.UpdatedAt = now
	r.CompletedAt = &now
	return true
}

// Fail moves the request to error. It returns false when the request is already terminal.
func (r *ChatRequest) Fail(detail string) bool {
	if r.Status.Terminal() {
		return false
	}
	now := time.Now()
	r.Status = ChatRequestError
	r.ErrorDetail = detail
	r.UpdatedAt = now
	r.CompletedAt = &now
	return true
}
