// Package chat runs one user turn: load the session, ask the upstream,
// clean the answer and store the result.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"dify-chat/internal/llm"
	"dify-chat/internal/sanitize"
	"dify-chat/internal/session"
)

var (
	ErrBusy          = errors.New("a query is already in progress for this session")
	ErrEmptyQuery    = errors.New("query must not be empty")
	ErrQueryTooLong  = errors.New("query is too long")
	ErrInvalidSessID = errors.New("invalid session id")
)

// Reply is what the UI renders for one turn.
type Reply struct {
	SessionID      string       `json:"session_id"`
	Success        bool         `json:"success"`
	Answer         string       `json:"answer,omitempty"`
	Error          string       `json:"error,omitempty"`
	Category       llm.Category `json:"category,omitempty"`
	ConversationID string       `json:"conversation_id"`
	Details        string       `json:"details,omitempty"`
	Reason         string       `json:"-"`
}

// Service serializes turns per session and owns all session state.
type Service struct {
	client         llm.Client
	sessions       session.Store
	log            *slog.Logger
	maxQueryLength int

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewService wires a chat service. maxQueryLength <= 0 disables the length check.
func NewService(client llm.Client, sessions session.Store, log *slog.Logger, maxQueryLength int) *Service {
	return &Service{
		client:         client,
		sessions:       sessions,
		log:            log,
		maxQueryLength: maxQueryLength,
		inFlight:       make(map[string]struct{}),
	}
}

// Ask sends text on behalf of sessionID, creating a session when the id is
// empty. Upstream failures are reported in the Reply, not as an error.
func (s *Service) Ask(ctx context.Context, sessionID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyQuery
	}
	if s.maxQueryLength > 0 && utf8.RuneCountInString(text) > s.maxQueryLength {
		return Reply{}, fmt.Errorf("%w (max %d characters)", ErrQueryTooLong, s.maxQueryLength)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if _, err := uuid.Parse(sessionID); err != nil {
		return Reply{}, ErrInvalidSessID
	}

	if !s.acquire(sessionID) {
		return Reply{}, ErrBusy
	}
	defer s.release(sessionID)

	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		sess = session.New(sessionID)
	} else if err != nil {
		return Reply{}, fmt.Errorf("load session: %w", err)
	}
	log := s.log.With("session_id", sessionID)

	sess.Append(session.RoleUser, text)
	out := s.client.Send(ctx, llm.Query{Text: text, ConversationID: sess.ConversationID})

	reply := Reply{SessionID: sessionID, Success: out.Success}
	if out.Success {
		answer := sanitize.Clean(out.Answer)
		sess.SetConversationID(out.ConversationID)
		sess.Append(session.RoleAssistant, answer)
		reply.Answer = answer
	} else {
		reply.Error = out.UserMessage
		reply.Category = out.Category
		reply.Details = out.Details
		reply.Reason = out.Reason
	}
	reply.ConversationID = sess.ConversationID

	// Saved even if the caller has gone away.
	if err := s.sessions.Save(context.WithoutCancel(ctx), sess); err != nil {
		log.Warn("failed to save session", "err", err)
	}
	return reply, nil
}

// History returns the stored session.
func (s *Service) History(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

// Reset drops the session's history and conversation id. It fails with
// ErrBusy while a turn is in flight for the session.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if !s.acquire(sessionID) {
		return ErrBusy
	}
	defer s.release(sessionID)

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	s.log.Info("session reset", "session_id", sessionID)
	return nil
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}
