package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/zhouzirui/cardfinder/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRole     = errors.New("invalid message role")
	ErrEmptyContent    = errors.New("message content is empty")
)

// Service encapsulates conversation state management.
type Service struct {
	systemPrompt string
	greeting     string

	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
}

// NewService bootstraps the in-memory chat service. Every new session starts with the
// system prompt followed by the greeting.
func NewService(systemPrompt, greeting string) *Service {
	return &Service{
		systemPrompt: systemPrompt,
		greeting:     greeting,
		sessions:     make(map[string]chat.Session),
		messages:     make(map[string][]chat.Message),
	}
}

// CreateSession provisions an anonymous session seeded with the system prompt and greeting.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	now := time.Now().UTC()
	session := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
	}

	seed := make([]chat.Message, 0, 16)
	if s.systemPrompt != "" {
		seed = append(seed, chat.Message{ID: uuid.NewString(), SessionID: session.ID, Role: chat.RoleSystem, Content: s.systemPrompt, CreatedAt: now})
	}
	if s.greeting != "" {
		seed = append(seed, chat.Message{ID: uuid.NewString(), SessionID: session.ID, Role: chat.RoleAssistant, Content: s.greeting, CreatedAt: now})
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = seed
	s.mu.Unlock()

	return session, nil
}

// AppendMessage appends a message to the session history and returns the stored copy.
func (s *Service) AppendMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	if !message.Role.Valid() {
		return chat.Message{}, ErrInvalidRole
	}
	if strings.TrimSpace(message.Content) == "" {
		return chat.Message{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	return message, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// History returns the full transcript as model input.
func (s *Service) History(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	messages, err := s.LoadTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history := make([]*schema.Message, len(messages))
	for i, msg := range messages {
		history[i] = msg.Schema()
	}
	return history, nil
}
