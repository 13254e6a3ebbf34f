package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"learnmate/internal/domain"
	"learnmate/internal/domain/model"
	"learnmate/internal/infra/i18n"
)

type State string

const (
	StateIdle      State = "idle"
	StateSubmitted State = "submitted"
	StateAwaiting  State = "awaiting"
	StateResolved  State = "resolved"
	StateFailed    State = "failed"
)

// TimeoutText is shown when the client stops waiting for an answer.
var TimeoutText = i18n.T("notice.timeout")

// ChatAPI is what a conversation needs from the server.
type ChatAPI interface {
	StartChat(ctx context.Context, sessionID, message string) (string, error)
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
}

// View is a snapshot of what a UI should render.
type View struct {
	State     State
	Messages  []model.ChatMessage
	Indicator string
	Notice    string
}

// Conversation tracks one session from the user's side: optimistic user
// message, awaiting indicator, then the answer or a failure notice.
type Conversation struct {
	api         ChatAPI
	poller      *Poller
	sessionID   string
	noticeAfter time.Duration
	now         func() time.Time

	mu        sync.Mutex
	state     State
	messages  []model.ChatMessage
	pending   *model.ChatMessage
	requestID string
	since     time.Time
	notice    string
	gen       uint64 // bumped by Send and Reset
}

func NewConversation(api ChatAPI, poller *Poller, sessionID string, noticeAfter time.Duration) *Conversation {
	if noticeAfter <= 0 {
		noticeAfter = 30 * time.Second
	}
	return &Conversation{
		api:         api,
		poller:      poller,
		sessionID:   sessionID,
		noticeAfter: noticeAfter,
		now:         time.Now,
		state:       StateIdle,
	}
}

// Send submits message and waits for its answer through the poller.
func (c *Conversation) Send(ctx context.Context, message string) (*model.ChatMessage, error) {
	c.mu.Lock()
	if c.state == StateSubmitted || c.state == StateAwaiting {
		c.mu.Unlock()
		return nil, domain.ErrSessionBusy
	}
	c.gen++
	gen := c.gen
	c.state = StateSubmitted
	c.notice = ""
	c.pending = &model.ChatMessage{SessionID: c.sessionID, Role: model.RoleUser, Content: message, Timestamp: c.now()}
	c.mu.Unlock()

	id, err := c.api.StartChat(ctx, c.sessionID, message)
	c.mu.Lock()
	if c.gen != gen {
		// Reset ran during submit; the view belongs to history now
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return c.detachedPoll(ctx, id)
	}
	if err != nil {
		c.pending = nil
		c.fail(err)
		c.mu.Unlock()
		return nil, err
	}
	c.state = StateAwaiting
	c.requestID = id
	c.since = c.now()
	c.mu.Unlock()

	res, err := c.poller.Poll(ctx, c.sessionID, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// Reset ran while waiting
		if err != nil {
			return nil, err
		}
		return &res.Message, nil
	}
	if c.pending != nil {
		c.messages = append(c.messages, *c.pending)
		c.pending = nil
	}
	if err != nil {
		c.fail(err)
		return nil, err
	}
	c.messages = append(c.messages, res.Message)
	c.state = StateResolved
	return &res.Message, nil
}

// detachedPoll waits for id without touching the conversation state.
func (c *Conversation) detachedPoll(ctx context.Context, id string) (*model.ChatMessage, error) {
	res, err := c.poller.Poll(ctx, c.sessionID, id)
	if err != nil {
		return nil, err
	}
	return &res.Message, nil
}

func (c *Conversation) fail(err error) {
	c.state = StateFailed
	c.notice = UserNotice(err)
}

// Reset drops local indicators and reloads history. Server state is untouched;
// an answer still being computed shows up on the next Reset.
func (c *Conversation) Reset(ctx context.Context) error {
	history, err := c.api.GetHistory(ctx, c.sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.messages = history
	c.pending = nil
	c.requestID = ""
	c.notice = ""
	c.state = StateIdle
	return nil
}

func (c *Conversation) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]model.ChatMessage, 0, len(c.messages)+1)
	msgs = append(msgs, c.messages...)
	if c.pending != nil {
		msgs = append(msgs, *c.pending)
	}
	v := View{State: c.state, Messages: msgs, Notice: c.notice}
	if c.state == StateSubmitted || c.state == StateAwaiting {
		v.Indicator = i18n.T("indicator.thinking")
		if c.state == StateAwaiting {
			if el := c.now().Sub(c.since); el >= c.noticeAfter {
				v.Indicator = i18n.T("indicator.still_working", el.Round(time.Second))
			}
		}
	}
	return v
}

// UserNotice turns an error into text for the user.
func UserNotice(err error) string {
	var failed *RequestFailedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeoutExceeded), errors.Is(err, domain.ErrUpstreamTimeout):
		return TimeoutText
	case errors.As(err, &failed):
		return failed.Detail
	case errors.Is(err, domain.ErrSessionBusy):
		return i18n.T("notice.busy")
	case errors.Is(err, domain.ErrRateLimited):
		return i18n.T("notice.rate_limited")
	case errors.Is(err, domain.ErrInvalidArgument):
		return i18n.T("notice.empty_message")
	case errors.Is(err, context.Canceled):
		return i18n.T("notice.stopped")
	default:
		return i18n.T("notice.generic")
	}
}
