package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	commonauth "jobtalk/server/common/auth"
	commonlog "jobtalk/server/common/log"
	"jobtalk/server/common/middleware"
	"jobtalk/server/common/transport/httpresp"
	"jobtalk/server/messaging/domain"
	"jobtalk/server/messaging/service"
)

type Handler struct {
	conversations  *service.ConversationService
	delivery       *service.DeliveryService
	notifications  *service.NotificationService
	hub            *service.Hub
	realtime       *service.RealtimeService
	auth           *commonauth.Service
	requestTimeout time.Duration
}

func NewHandler(conversations *service.ConversationService, delivery *service.DeliveryService, notifications *service.NotificationService, hub *service.Hub, realtime *service.RealtimeService, auth *commonauth.Service, requestTimeout time.Duration) *Handler {
	return &Handler{
		conversations:  conversations,
		delivery:       delivery,
		notifications:  notifications,
		hub:            hub,
		realtime:       realtime,
		auth:           auth,
		requestTimeout: requestTimeout,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpresp.HealthResponse{Status: "ok"})
	})
	r.GET("/health/ready", h.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", h.realtime.HandleWS)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth), middleware.RequestTimeout(h.requestTimeout))
	{
		api.GET("/conversations", h.listConversations)
		api.GET("/conversations/:id", h.getConversationMessages)
		api.POST("/messages", h.sendMessage)
		api.GET("/messages/unread-count", h.unreadMessageCount)
		api.GET("/notifications", h.listNotifications)
		api.PATCH("/notifications/:id/read", h.markNotificationRead)
		api.POST("/notifications/read-all", h.markAllNotificationsRead)
		api.GET("/presence", h.presence)
	}

	internal := r.Group("/api/internal/v1")
	internal.Use(middleware.AuthRequired(h.auth), middleware.RequireRoles(commonauth.RoleAdmin), middleware.RequestTimeout(h.requestTimeout))
	internal.POST("/notifications", h.createNotification)
}

func (h *Handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.conversations.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, httpresp.HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, httpresp.HealthResponse{Status: "ok"})
}

func (h *Handler) listConversations(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	items, err := h.conversations.ListConversationsForUser(c.Request.Context(), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) getConversationMessages(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	items, err := h.conversations.GetMessages(c.Request.Context(), strings.TrimSpace(c.Param("id")), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) sendMessage(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	var req domain.SendInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewCodedErrorResponse(string(domain.KindValidation), err.Error()))
		return
	}
	result, err := h.delivery.Send(c.Request.Context(), service.SourceHTTP, caller, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) unreadMessageCount(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	count, err := h.conversations.UnreadMessageCount(c.Request.Context(), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": count})
}

func (h *Handler) listNotifications(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, domain.Validation("limit must be an integer"))
			return
		}
		limit = parsed
	}
	unreadOnly := false
	if raw := strings.TrimSpace(c.Query("unreadOnly")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(c, domain.Validation("unreadOnly must be a boolean"))
			return
		}
		unreadOnly = parsed
	}
	list, err := h.notifications.List(c.Request.Context(), caller.UserID, limit, unreadOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	n, err := h.notifications.MarkRead(c.Request.Context(), strings.TrimSpace(c.Param("id")), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) markAllNotificationsRead(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	count, err := h.notifications.MarkAllRead(c.Request.Context(), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewCountResponse(count))
}

func (h *Handler) presence(c *gin.Context) {
	c.JSON(http.StatusOK, service.PresencePayload{Users: h.hub.OnlineUsers()})
}

func (h *Handler) createNotification(c *gin.Context) {
	var req struct {
		UserID string                  `json:"userId" binding:"required"`
		Type   domain.NotificationType `json:"type" binding:"required"`
		Title  string                  `json:"title" binding:"required"`
		Body   string                  `json:"body"`
		Link   string                  `json:"link"`
		Meta   map[string]any          `json:"meta"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewCodedErrorResponse(string(domain.KindValidation), err.Error()))
		return
	}
	if !req.Type.Valid() {
		writeError(c, domain.Validationf("unknown notification type %q", req.Type))
		return
	}
	n := h.notifications.Notify(c.Request.Context(), domain.NotifyInput{
		UserID: req.UserID,
		Type:   req.Type,
		Title:  req.Title,
		Body:   req.Body,
		Link:   req.Link,
		Meta:   req.Meta,
	})
	if n == nil {
		writeError(c, domain.Validation("notification was not created"))
		return
	}
	c.JSON(http.StatusCreated, n)
}

func callerFromContext(c *gin.Context) (domain.Participant, bool) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return domain.Participant{}, false
	}
	return domain.Participant{UserID: identity.UserID, Name: identity.Name, Email: identity.Email, Role: identity.Role}, true
}

func statusFor(err error) int {
	var derr *domain.Error
	if errors.As(err, &derr) {
		switch derr.Kind {
		case domain.KindValidation:
			return http.StatusBadRequest
		case domain.KindUnauthorized:
			return http.StatusUnauthorized
		case domain.KindForbidden:
			return http.StatusForbidden
		case domain.KindNotFound:
			return http.StatusNotFound
		case domain.KindConflict:
			return http.StatusConflict
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		commonlog.Errorf("event=http_request action=%s status=failed path=%s error=%v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, httpresp.NewErrorResponse(httpresp.ErrInternal))
		return
	case http.StatusGatewayTimeout:
		commonlog.Warnf("event=http_request action=%s status=timeout path=%s error=%v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, httpresp.NewErrorResponse(httpresp.ErrRequestTimeout))
		return
	}
	var derr *domain.Error
	errors.As(err, &derr)
	c.JSON(status, httpresp.NewCodedErrorResponse(string(derr.Kind), err.Error()))
}
