package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"jobtalk/server/messaging/domain"
	"jobtalk/server/messaging/repository"
)

type recordedFrame struct {
	Type    string          `json:"type"`
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type recordingSession struct {
	id     string
	userID string
	fail   bool

	mu     sync.Mutex
	frames []recordedFrame
}

func newRecordingSession(userID string) *recordingSession {
	return &recordingSession{id: uuid.NewString(), userID: userID}
}

func (s *recordingSession) ID() string     { return s.id }
func (s *recordingSession) UserID() string { return s.userID }

func (s *recordingSession) Send(frame []byte) error {
	if s.fail {
		return errors.New("broken pipe")
	}
	var f recordedFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSession) framesOf(eventType string) []recordedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedFrame, 0)
	for _, f := range s.frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

func (s *recordingSession) lastOf(t *testing.T, eventType string, out any) {
	t.Helper()
	frames := s.framesOf(eventType)
	require.NotEmpty(t, frames, "no %s frame for %s", eventType, s.userID)
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, out))
}

type fixture struct {
	store         *repository.MemoryStore
	hub           *Hub
	conversations *ConversationService
	notifications *NotificationService
	delivery      *DeliveryService
	publisher     *recordingPublisher
}

func newFixture(t *testing.T, idempotency Idempotency) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	hub := NewHub()
	publisher := &recordingPublisher{}
	conversations := NewConversationService(store)
	notifications := NewNotificationService(store, hub, publisher)
	return &fixture{
		store:         store,
		hub:           hub,
		conversations: conversations,
		notifications: notifications,
		delivery:      NewDeliveryService(conversations, notifications, hub, publisher, idempotency),
		publisher:     publisher,
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, _ any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return p.err
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

var (
	alice = domain.Participant{UserID: "u-alice", Name: "Alice", Role: "jobseeker"}
	bob   = domain.Participant{UserID: "u-bob", Name: "Bob", Role: "employer"}
	carol = domain.Participant{UserID: "u-carol", Name: "Carol", Role: "jobseeker"}
)
