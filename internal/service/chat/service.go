package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/z-interview/backend/internal/model/chat"
)

var (
	ErrRoomRequired    = errors.New("room name is required")
	ErrSessionNotFound = errors.New("transcript not found")
	// ErrSessionMismatch 消息属于已被替换的旧会话。
	ErrSessionMismatch = errors.New("transcript belongs to another session")
)

// Service keeps per-room interview transcripts in memory.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
}

// NewService bootstraps the in-memory transcript store.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

// Open starts a fresh transcript for the room, discarding any previous one.
func (s *Service) Open(_ context.Context, room, participant string) (chat.Session, error) {
	if room == "" {
		return chat.Session{}, ErrRoomRequired
	}

	session := chat.Session{
		ID:          uuid.NewString(),
		RoomName:    room,
		Participant: participant,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[room] = session
	s.messages[room] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// Append records one message in the room's transcript. A message carrying a SessionID is
// only accepted by the transcript opened for that session.
func (s *Service) Append(_ context.Context, room string, message chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[room]
	if !ok {
		return ErrSessionNotFound
	}
	if message.SessionID != "" && message.SessionID != session.ID {
		return ErrSessionMismatch
	}

	message.ID = uuid.NewString()
	message.SessionID = session.ID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.messages[room] = append(s.messages[room], message)
	return nil
}

// Transcript returns a copy of the stored messages for the room.
func (s *Service) Transcript(_ context.Context, room string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[room]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// Close drops the room's transcript.
func (s *Service) Close(_ context.Context, room string) {
	s.mu.Lock()
	delete(s.sessions, room)
	delete(s.messages, room)
	s.mu.Unlock()
}
