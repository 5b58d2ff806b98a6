package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/coinchat/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session is busy with another turn")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Persister receives finalized conversations. It is the hook for durable storage.
type Persister interface {
	Persist(ctx context.Context, session chat.Session, messages []chat.Message) error
}

// Option customises a Service.
type Option func(*Service)

// WithPersister installs the collaborator invoked by Finalize.
func WithPersister(p Persister) Option {
	return func(s *Service) {
		s.persister = p
	}
}

// WithLogger sets the logger used for persister failures.
func WithLogger(logger logr.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

type conversation struct {
	session  chat.Session
	messages []chat.Message
	busy     bool
}

// Service encapsulates conversation state management. History is append-only
// and every session is owned by exactly one entry in the map.
type Service struct {
	mu        sync.RWMutex
	sessions  map[string]*conversation
	persister Persister
	logger    logr.Logger
	now       func() time.Time
}

// NewService bootstraps the in-memory conversation store.
func NewService(opts ...Option) *Service {
	s := &Service{
		sessions: make(map[string]*conversation),
		logger:   logr.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession provisions an empty anonymous session.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = &conversation{
		session:  session,
		messages: make([]chat.Message, 0, 16),
	}
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return conv.session, nil
}

// DeleteSession discards a session and its history.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// Append adds the messages to the session history as one atomic, ordered update.
// Either every message is stored or none is.
func (s *Service) Append(_ context.Context, sessionID string, messages ...chat.Message) error {
	if len(messages) == 0 {
		return nil
	}
	for i, message := range messages {
		if !message.Role.Valid() {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidMessage, i, message.Role)
		}
		if len(message.Parts) == 0 {
			return fmt.Errorf("%w: message %d has no content", ErrInvalidMessage, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	now := s.now().UTC()
	for _, message := range messages {
		stored := message.Clone()
		stored.ID = uuid.NewString()
		stored.SessionID = sessionID
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		conv.messages = append(conv.messages, stored)
	}
	conv.session.Finalized = false
	conv.session.FinalizedAt = nil
	return nil
}

// Snapshot returns a copy of the ordered history for the session.
func (s *Service) Snapshot(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(conv.messages))
	for i, message := range conv.messages {
		copied[i] = message.Clone()
	}
	return copied, nil
}

// Finalize marks the session as eligible for durable storage and hands a
// snapshot to the persister, if one is configured. Persister errors are logged.
func (s *Service) Finalize(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	conv, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	finalizedAt := s.now().UTC()
	conv.session.Finalized = true
	conv.session.FinalizedAt = &finalizedAt
	session := conv.session
	messages := make([]chat.Message, len(conv.messages))
	for i, message := range conv.messages {
		messages[i] = message.Clone()
	}
	s.mu.Unlock()

	if s.persister == nil {
		return nil
	}
	if err := s.persister.Persist(ctx, session, messages); err != nil {
		s.logger.Error(err, "persist conversation failed", "session", sessionID)
	}
	return nil
}

// BeginTurn claims the session for one turn. The returned release function
// must be called when the turn is over; calling it more than once is harmless.
func (s *Service) BeginTurn(_ context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if conv.busy {
		return nil, ErrSessionBusy
	}
	conv.busy = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			conv.busy = false
			s.mu.Unlock()
		})
	}, nil
}
