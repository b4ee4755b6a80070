// Package session keeps per-visitor chat history and the upstream
// conversation id for the lifetime of a UI session.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one line of the scrollback.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is the state one visitor carries across turns.
type Session struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists sessions for a bounded time.
type Store interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Save creates or replaces the session and refreshes its expiry.
	Save(ctx context.Context, s *Session) error

	// Delete removes the session; deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases the underlying connection.
	Close() error
}

// New returns an empty session.
func New(id string) *Session {
	return &Session{ID: id}
}

// SetConversationID records the id returned by the upstream. An empty id
// never replaces a known one.
func (s *Session) SetConversationID(id string) {
	if id != "" {
		s.ConversationID = id
	}
}

// Append adds a message to the scrollback.
func (s *Session) Append(role Role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// Reset forgets history and starts a new upstream conversation on the next turn.
func (s *Session) Reset() {
	s.ConversationID = ""
	s.Messages = nil
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	return &cp
}
