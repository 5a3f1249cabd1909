package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	commonlog "jobtalk/server/common/log"
)

// Session is one live connection of a user.
type Session interface {
	ID() string
	UserID() string
	Send(frame []byte) error
}

// Hub is the presence tracker: it owns the userID -> sessions map for this process and
// pushes events to live sessions. With Redis attached, user-targeted pushes also reach
// sessions held by other instances. Presence itself stays process-local.
type Hub struct {
	mu         sync.RWMutex
	presenceMu sync.Mutex
	sessions   map[string]map[string]Session
	instanceID string
	redis      *redis.Client
	redisSub   *redis.PubSub
	subCancel  context.CancelFunc
}

const hubEventsChannel = "messaging:events"

type hubEvent struct {
	Kind    string          `json:"kind"`
	Origin  string          `json:"origin"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub() *Hub {
	return &Hub{
		sessions:   map[string]map[string]Session{},
		instanceID: uuid.NewString(),
	}
}

func (h *Hub) UseRedis(client *redis.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redis = client
}

// StartRedisSubscriber returns once the subscription is confirmed, so pushes published
// after it returns are not missed.
func (h *Hub) StartRedisSubscriber(ctx context.Context) error {
	h.mu.Lock()
	if h.redis == nil {
		h.mu.Unlock()
		return errors.New("redis client is nil")
	}
	if h.redisSub != nil {
		h.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := h.redis.Subscribe(subCtx, hubEventsChannel)
	h.redisSub = sub
	h.subCancel = cancel
	h.mu.Unlock()

	if _, err := sub.Receive(subCtx); err != nil {
		h.StopRedisSubscriber()
		return err
	}
	go h.consumeEvents(subCtx, sub)
	return nil
}

func (h *Hub) StopRedisSubscriber() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subCancel != nil {
		h.subCancel()
		h.subCancel = nil
	}
	if h.redisSub != nil {
		_ = h.redisSub.Close()
		h.redisSub = nil
	}
}

func (h *Hub) RegisterSession(session Session) {
	h.mu.Lock()
	userSessions, ok := h.sessions[session.UserID()]
	if !ok {
		userSessions = map[string]Session{}
		h.sessions[session.UserID()] = userSessions
	}
	userSessions[session.ID()] = session
	h.refreshGaugesLocked()
	h.mu.Unlock()

	commonlog.Infof("event=presence action=register status=ok user_id=%s session_id=%s", session.UserID(), session.ID())
	h.BroadcastPresence()
}

func (h *Hub) UnregisterSession(session Session) {
	h.mu.Lock()
	userSessions, ok := h.sessions[session.UserID()]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := userSessions[session.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(userSessions, session.ID())
	if len(userSessions) == 0 {
		delete(h.sessions, session.UserID())
	}
	h.refreshGaugesLocked()
	h.mu.Unlock()

	commonlog.Infof("event=presence action=unregister status=ok user_id=%s session_id=%s", session.UserID(), session.ID())
	h.BroadcastPresence()
}

func (h *Hub) refreshGaugesLocked() {
	total := 0
	for _, userSessions := range h.sessions {
		total += len(userSessions)
	}
	liveSessionsGauge.Set(float64(total))
	onlineUsersGauge.Set(float64(len(h.sessions)))
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

// OnlineUsers returns the sorted ids of users with at least one live session.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	users := make([]string, 0, len(h.sessions))
	for userID := range h.sessions {
		users = append(users, userID)
	}
	h.mu.RUnlock()
	sort.Strings(users)
	return users
}

func (h *Hub) SessionsFor(userID string) []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Session, 0, len(h.sessions[userID]))
	for _, session := range h.sessions[userID] {
		out = append(out, session)
	}
	return out
}

// CloseSessions closes every live session that can be closed. Used on shutdown.
func (h *Hub) CloseSessions() int {
	closed := 0
	for _, session := range h.allSessions() {
		if closer, ok := session.(io.Closer); ok {
			_ = closer.Close()
			closed++
		}
	}
	return closed
}

func (h *Hub) allSessions() []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Session, 0)
	for _, userSessions := range h.sessions {
		for _, session := range userSessions {
			out = append(out, session)
		}
	}
	return out
}

// BroadcastPresence sends the full online set to every live session. Broadcasts are
// serialized so a later snapshot is never queued ahead of an earlier one.
func (h *Hub) BroadcastPresence() {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	frame, err := json.Marshal(newEvent(EventPresenceUpdate, PresencePayload{Users: h.OnlineUsers()}))
	if err != nil {
		commonlog.Errorf("event=presence action=broadcast status=failed error=%v", err)
		return
	}
	count := h.deliver(EventPresenceUpdate, frame, h.allSessions())
	commonlog.Debugf("event=presence action=broadcast status=ok fanout_count=%d", count)
}

// PushToUser delivers ev to the user's local sessions and, when Redis is attached, to
// sessions on other instances. It returns the local fan-out count.
func (h *Hub) PushToUser(userID string, ev Event) int {
	frame, err := json.Marshal(ev)
	if err != nil {
		commonlog.Errorf("event=live_push action=encode status=failed type=%s user_id=%s error=%v", ev.Type, userID, err)
		return 0
	}
	count := h.deliver(ev.Type, frame, h.SessionsFor(userID))
	h.publishPushUser(userID, ev.Type, frame)
	return count
}

func (h *Hub) deliver(eventType string, frame []byte, sessions []Session) int {
	count := 0
	for _, session := range sessions {
		if err := session.Send(frame); err != nil {
			livePushesTotal.WithLabelValues(eventType, "dropped").Inc()
			commonlog.Warnf("event=live_push action=send status=failed type=%s user_id=%s session_id=%s error=%v", eventType, session.UserID(), session.ID(), err)
			continue
		}
		livePushesTotal.WithLabelValues(eventType, "ok").Inc()
		count++
	}
	return count
}

func (h *Hub) publishPushUser(userID, eventType string, frame []byte) {
	h.mu.RLock()
	redisClient := h.redis
	h.mu.RUnlock()
	if redisClient == nil {
		return
	}
	b, err := json.Marshal(hubEvent{Kind: "push_user", Origin: h.instanceID, UserID: userID, Payload: frame})
	if err != nil {
		return
	}
	if err := redisClient.Publish(context.Background(), hubEventsChannel, b).Err(); err != nil {
		commonlog.Warnf("event=messaging_hub action=publish status=failed kind=push_user type=%s user_id=%s error=%v", eventType, userID, err)
	}
}

func (h *Hub) consumeEvents(ctx context.Context, sub *redis.PubSub) {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		var event hubEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			commonlog.Warnf("event=messaging_hub action=consume status=failed error=%v", err)
			continue
		}
		if event.Origin == h.instanceID || event.Kind != "push_user" || len(event.Payload) == 0 {
			continue
		}
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(event.Payload, &head)
		count := h.deliver(head.Type, event.Payload, h.SessionsFor(event.UserID))
		commonlog.Debugf("event=messaging_hub action=consume status=ok kind=%s type=%s user_id=%s fanout_count=%d", event.Kind, head.Type, event.UserID, count)
	}
}
