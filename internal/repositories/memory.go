package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"session-chat-service/internal/models"
)

// MemoryStore keeps sessions, memberships and messages in process memory.
// It backs DB_DRIVER=memory and tests; a single mutex makes every operation
// atomic, including the capacity check in AddParticipant.
type MemoryStore struct {
	mu           sync.Mutex
	nextSession  int
	nextMessage  int
	sessions     map[int]models.Session
	participants map[int]map[int]models.Participant
	messages     map[int][]models.Message
	now          func() time.Time
}

var (
	_ SessionRepository        = (*MemoryStore)(nil)
	_ SessionMessageRepository = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[int]models.Session),
		participants: make(map[int]map[int]models.Participant),
		messages:     make(map[int][]models.Message),
		now:          time.Now,
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context, creatorID int, mode models.SessionMode, capacity int) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSession++
	now := s.now().UTC()
	session := models.Session{
		ID:        s.nextSession,
		CreatorID: creatorID,
		Mode:      mode,
		Capacity:  capacity,
		Active:    true,
		CreatedAt: now,
	}
	s.sessions[session.ID] = session
	s.participants[session.ID] = map[int]models.Participant{
		creatorID: {SessionID: session.ID, UserID: creatorID, Role: models.RoleCreator, JoinedAt: now},
	}
	return session, nil
}

func (s *MemoryStore) FindSession(ctx context.Context, sessionID int) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return models.Session{}, models.ErrSessionNotFound
	}
	return session, nil
}

func (s *MemoryStore) CloseSession(ctx context.Context, sessionID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, models.ErrSessionNotFound
	}
	if !session.Active {
		return false, nil
	}
	closedAt := s.now().UTC()
	session.Active = false
	session.ClosedAt = &closedAt
	s.sessions[sessionID] = session
	return true, nil
}

func (s *MemoryStore) AddParticipant(ctx context.Context, sessionID, userID int, role models.ParticipantRole) (models.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return models.Participant{}, false, models.ErrSessionNotFound
	}
	if !session.Active {
		return models.Participant{}, false, models.ErrSessionInactive
	}
	members := s.participants[sessionID]
	if members == nil {
		members = make(map[int]models.Participant)
		s.participants[sessionID] = members
	}
	if existing, ok := members[userID]; ok {
		return existing, false, nil
	}
	if len(members) >= session.Capacity {
		return models.Participant{}, false, models.ErrSessionFull
	}
	participant := models.Participant{SessionID: sessionID, UserID: userID, Role: role, JoinedAt: s.now().UTC()}
	members[userID] = participant
	return participant, true, nil
}

func (s *MemoryStore) RemoveParticipant(ctx context.Context, sessionID, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.participants[sessionID]
	if _, ok := members[userID]; !ok {
		return false, nil
	}
	delete(members, userID)
	return true, nil
}

func (s *MemoryStore) CountParticipants(ctx context.Context, sessionID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants[sessionID]), nil
}

func (s *MemoryStore) IsParticipant(ctx context.Context, sessionID, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[sessionID][userID]
	return ok, nil
}

func (s *MemoryStore) GetParticipant(ctx context.Context, sessionID, userID int) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	participant, ok := s.participants[sessionID][userID]
	if !ok {
		return models.Participant{}, ErrParticipantNotFound
	}
	return participant, nil
}

func (s *MemoryStore) ListParticipants(ctx context.Context, sessionID int) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.Participant, 0, len(s.participants[sessionID]))
	for _, p := range s.participants[sessionID] {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].UserID < list[j].UserID
	})
	return list, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, sessionID, authorID int, kind models.MessageKind, body string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return models.Message{}, models.ErrSessionNotFound
	}
	s.nextMessage++
	msg := models.Message{
		ID:        s.nextMessage,
		SessionID: sessionID,
		AuthorID:  authorID,
		Kind:      kind,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return msg, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, sessionID int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]models.Message, len(s.messages[sessionID]))
	copy(msgs, s.messages[sessionID])
	return msgs, nil
}
