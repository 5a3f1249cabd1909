package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"jobtalk/server/common/auth"
	commonlog "jobtalk/server/common/log"
	"jobtalk/server/common/middleware"
	"jobtalk/server/common/transport/httpresp"
	"jobtalk/server/messaging/domain"
)

type identityVerifier interface {
	Authenticate(token string) (auth.Identity, error)
}

// RealtimeService serves the live channel: one websocket per device session.
type RealtimeService struct {
	verifier       identityVerifier
	hub            *Hub
	delivery       *DeliveryService
	upgrader       websocket.Upgrader
	commandTimeout time.Duration
}

func NewRealtimeService(verifier identityVerifier, hub *Hub, delivery *DeliveryService, allowedOrigins []string, commandTimeout time.Duration) *RealtimeService {
	return &RealtimeService{
		verifier: verifier,
		hub:      hub,
		delivery: delivery,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		commandTimeout: commandTimeout,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := map[string]struct{}{}
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// HandleWS authenticates before upgrading, so a rejected credential never creates a session.
func (s *RealtimeService) HandleWS(c *gin.Context) {
	token, ok := middleware.BearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
		return
	}
	identity, err := s.verifier.Authenticate(token)
	if err != nil {
		commonlog.Warnf("event=live_connect action=authenticate status=failed remote=%s error=%v", c.ClientIP(), err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		commonlog.Warnf("event=live_connect action=upgrade status=failed user_id=%s error=%v", identity.UserID, err)
		return
	}
	session := NewWSSession(identity.UserID, conn)
	s.hub.RegisterSession(session)
	defer func() {
		s.hub.UnregisterSession(session)
		_ = session.Close()
	}()

	s.sendEvent(session, newEvent(EventSessionConnected, SessionConnectedPayload{
		SessionID:   session.ID(),
		UserID:      identity.UserID,
		ConnectedAt: time.Now().UTC(),
	}))

	sender := domain.Participant{UserID: identity.UserID, Name: identity.Name, Email: identity.Email, Role: identity.Role}
	session.prepareRead()
	for {
		raw, err := session.readFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				commonlog.Debugf("event=live_connect action=read status=closed user_id=%s session_id=%s error=%v", identity.UserID, session.ID(), err)
			}
			return
		}
		s.dispatch(c.Request.Context(), session, sender, raw)
	}
}

func (s *RealtimeService) dispatch(ctx context.Context, session *WSSession, sender domain.Participant, raw []byte) {
	var env ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError(session, domain.Validation("invalid frame"))
		return
	}
	switch env.Type {
	case ClientMessageReceived:
		var receipt ReceiptPayload
		if err := json.Unmarshal(env.Data, &receipt); err != nil {
			s.sendError(session, domain.Validation("invalid receipt payload"))
			return
		}
		if err := s.delivery.HandleReceipt(ctx, sender.UserID, receipt); err != nil {
			s.sendError(session, err)
		}
	case ClientMessageSend:
		var in domain.SendInput
		if err := json.Unmarshal(env.Data, &in); err != nil {
			s.sendError(session, domain.Validation("invalid message payload"))
			return
		}
		cmdCtx, cancel := s.commandContext(ctx)
		defer cancel()
		if _, err := s.delivery.Send(cmdCtx, SourceLive, sender, in); err != nil {
			s.sendError(session, err)
		}
	default:
		s.sendError(session, domain.Validationf("unsupported event type %q", env.Type))
	}
}

func (s *RealtimeService) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.commandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.commandTimeout)
}

func (s *RealtimeService) sendError(session *WSSession, err error) {
	payload := ErrorPayload{Error: httpresp.ErrInternal}
	var derr *domain.Error
	if errors.As(err, &derr) {
		payload = ErrorPayload{Error: derr.Error(), Code: string(derr.Kind)}
	} else {
		commonlog.Errorf("event=live_command action=dispatch status=failed user_id=%s session_id=%s error=%v", session.UserID(), session.ID(), err)
	}
	s.sendEvent(session, newEvent(EventError, payload))
}

func (s *RealtimeService) sendEvent(session *WSSession, ev Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := session.Send(frame); err != nil {
		commonlog.Warnf("event=live_push action=send status=failed type=%s user_id=%s session_id=%s error=%v", ev.Type, session.UserID(), session.ID(), err)
	}
}
