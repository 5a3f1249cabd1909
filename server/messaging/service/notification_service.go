package service

import (
	"context"
	"strings"

	commonlog "jobtalk/server/common/log"
	"jobtalk/server/messaging/domain"
)

type NotificationService struct {
	store     NotificationStore
	hub       *Hub
	publisher EventPublisher
}

func NewNotificationService(store NotificationStore, hub *Hub, publisher EventPublisher) *NotificationService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &NotificationService{store: store, hub: hub, publisher: publisher}
}

type NotificationList struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int64                 `json:"unreadCount"`
}

// Notify persists a notification and pushes it to the user's live sessions. It never
// fails the caller: invalid input or a store error is logged and yields nil.
func (s *NotificationService) Notify(ctx context.Context, in domain.NotifyInput) *domain.Notification {
	userID := strings.TrimSpace(in.UserID)
	title := strings.TrimSpace(in.Title)
	if userID == "" || title == "" || !in.Type.Valid() {
		commonlog.Warnf("event=notification action=create status=rejected user_id=%s type=%s reason=invalid_input", userID, in.Type)
		return nil
	}
	created, err := s.store.CreateNotification(ctx, domain.Notification{
		UserID: userID,
		Type:   in.Type,
		Title:  domain.Truncate(title, domain.MaxNotificationTitle),
		Body:   domain.Truncate(strings.TrimSpace(in.Body), domain.MaxNotificationBody),
		Link:   strings.TrimSpace(in.Link),
		Meta:   in.Meta,
	})
	if err != nil {
		commonlog.Errorf("event=notification action=create status=failed user_id=%s type=%s error=%v", userID, in.Type, err)
		return nil
	}
	notificationsCreatedTotal.WithLabelValues(string(created.Type)).Inc()

	fanout := s.hub.PushToUser(userID, newEvent(EventNotificationNew, NotificationPayload{Notification: created}))
	if err := s.publisher.Publish(ctx, RoutingNotificationCreated, created); err != nil {
		commonlog.Warnf("event=notification action=publish status=failed notification_id=%s error=%v", created.ID, err)
	}
	commonlog.Infof("event=notification action=create status=ok notification_id=%s user_id=%s type=%s fanout_count=%d", created.ID, userID, created.Type, fanout)
	return &created
}

func (s *NotificationService) List(ctx context.Context, userID string, limit int, unreadOnly bool) (NotificationList, error) {
	if limit <= 0 {
		limit = domain.DefaultNotificationsLimit
	}
	if limit > domain.MaxNotificationsLimit {
		limit = domain.MaxNotificationsLimit
	}
	items, err := s.store.ListNotifications(ctx, userID, limit, unreadOnly)
	if err != nil {
		return NotificationList{}, err
	}
	unread, err := s.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return NotificationList{}, err
	}
	return NotificationList{Notifications: items, UnreadCount: unread}, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID string) (domain.Notification, error) {
	n, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return domain.Notification{}, err
	}
	if n.UserID != userID {
		return domain.Notification{}, domain.Forbidden("notification belongs to another user")
	}
	if n.IsRead {
		return n, nil
	}
	if err := s.store.MarkNotificationRead(ctx, notificationID, userID); err != nil {
		return domain.Notification{}, err
	}
	n.IsRead = true
	return n, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}
