package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobtalk/server/messaging/domain"
)

// MemoryStore keeps conversations, messages and notifications in process memory.
// It backs STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.Participant
	jobs          map[string]string
	conversations map[string]domain.Conversation
	pairIndex     map[string]string
	messages      map[string][]domain.Message
	notifications []domain.Notification
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[string]domain.Participant{},
		jobs:          map[string]string{},
		conversations: map[string]domain.Conversation{},
		pairIndex:     map[string]string{},
		messages:      map[string][]domain.Message{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PutUser mirrors a user record owned by the account service.
func (s *MemoryStore) PutUser(user domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = user
}

// PutJob mirrors a job posting title owned by the jobs service.
func (s *MemoryStore) PutJob(jobID, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = title
}

func (s *MemoryStore) UpsertUser(_ context.Context, user domain.Participant) error {
	s.PutUser(user)
	return nil
}

func (s *MemoryStore) UpsertJob(_ context.Context, jobID, title string) error {
	s.PutJob(jobID, title)
	return nil
}

func pairKey(pair [2]string, jobID *string) string {
	key := pair[0] + "\x00" + pair[1] + "\x00"
	if jobID != nil {
		key += *jobID
	}
	return key
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) FindConversation(_ context.Context, pair [2]string, jobID *string) (domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairIndex[pairKey(pair, jobID)]
	if !ok {
		return domain.Conversation{}, domain.NotFound("conversation not found")
	}
	return s.conversations[id], nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, pair [2]string, jobID *string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(pair, jobID)
	if id, ok := s.pairIndex[key]; ok {
		return s.conversations[id], nil
	}
	now := s.now()
	conv := domain.Conversation{
		ID:           uuid.NewString(),
		Participants: pair,
		JobID:        copyString(jobID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[conv.ID] = conv
	s.pairIndex[key] = conv.ID
	return conv, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, domain.NotFound("conversation not found")
	}
	return conv, nil
}

func (s *MemoryStore) ListConversationSummaries(_ context.Context, userID string) ([]domain.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.ConversationSummary, 0)
	for _, conv := range s.conversations {
		if !conv.HasParticipant(userID) {
			continue
		}
		summary := domain.ConversationSummary{
			ID:           conv.ID,
			Participants: []domain.Participant{s.participant(conv.Participants[0]), s.participant(conv.Participants[1])},
			JobID:        copyString(conv.JobID),
			UpdatedAt:    conv.UpdatedAt,
		}
		if conv.JobID != nil {
			if title, ok := s.jobs[*conv.JobID]; ok {
				summary.JobTitle = &title
			}
		}
		for _, msg := range s.messages[conv.ID] {
			if conv.LastMessageID != nil && msg.ID == *conv.LastMessageID {
				last := msg
				summary.LastMessage = &last
			}
			if msg.ReceiverID == userID && !msg.IsRead {
				summary.UnreadCount++
			}
		}
		items = append(items, summary)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func (s *MemoryStore) participant(userID string) domain.Participant {
	if p, ok := s.users[userID]; ok {
		return p
	}
	return domain.Participant{UserID: userID}
}

func (s *MemoryStore) InsertMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return domain.Message{}, domain.NotFound("conversation not found")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = s.now()
	if existing := s.messages[conv.ID]; len(existing) > 0 {
		if last := existing[len(existing)-1].CreatedAt; msg.CreatedAt.Before(last) {
			msg.CreatedAt = last
		}
	}
	msg.IsRead = false
	msg.ReadAt = nil
	s.messages[conv.ID] = append(s.messages[conv.ID], msg)

	if !msg.CreatedAt.Before(conv.UpdatedAt) {
		id := msg.ID
		conv.LastMessageID = &id
		conv.UpdatedAt = msg.CreatedAt
		s.conversations[conv.ID] = conv
	}
	return msg, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, items := range s.messages {
		for _, msg := range items {
			if msg.ID == id {
				return msg, nil
			}
		}
	}
	return domain.Message{}, domain.NotFound("message not found")
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]domain.Message, len(s.messages[conversationID]))
	copy(items, s.messages[conversationID])
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (s *MemoryStore) MarkConversationRead(_ context.Context, conversationID, userID string, readAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	items := s.messages[conversationID]
	for i := range items {
		if items[i].ReceiverID != userID || items[i].IsRead {
			continue
		}
		at := readAt
		items[i].IsRead = true
		items[i].ReadAt = &at
		changed++
	}
	return changed, nil
}

func (s *MemoryStore) CountUnreadMessages(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, items := range s.messages {
		for _, msg := range items {
			if msg.ReceiverID == userID && !msg.IsRead {
				count++
			}
		}
	}
	return count, nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n domain.Notification) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = s.now()
	n.IsRead = false
	s.notifications = append(s.notifications, n)
	return n, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int, unreadOnly bool) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]domain.Notification, 0)
	for i := len(s.notifications) - 1; i >= 0 && len(items) < limit; i-- {
		n := s.notifications[i]
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		items = append(items, n)
	}
	return items, nil
}

func (s *MemoryStore) CountUnreadNotifications(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) GetNotification(_ context.Context, id string) (domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.notifications {
		if n.ID == id {
			return n, nil
		}
	}
	return domain.Notification{}, domain.NotFound("notification not found")
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].UserID == userID {
			s.notifications[i].IsRead = true
			return nil
		}
	}
	return domain.NotFound("notification not found")
}

func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed int64
	for i := range s.notifications {
		if s.notifications[i].UserID == userID && !s.notifications[i].IsRead {
			s.notifications[i].IsRead = true
			changed++
		}
	}
	return changed, nil
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
