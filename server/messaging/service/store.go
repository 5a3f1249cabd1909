package service

import (
	"context"
	"time"

	"jobtalk/server/messaging/domain"
)

type ConversationStore interface {
	Ping(ctx context.Context) error
	UpsertUser(ctx context.Context, user domain.Participant) error
	FindConversation(ctx context.Context, pair [2]string, jobID *string) (domain.Conversation, error)
	CreateConversation(ctx context.Context, pair [2]string, jobID *string) (domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	ListConversationSummaries(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	InsertMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	GetMessage(ctx context.Context, id string) (domain.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string, readAt time.Time) (int64, error)
	CountUnreadMessages(ctx context.Context, userID string) (int64, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int, unreadOnly bool) ([]domain.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int64, error)
	GetNotification(ctx context.Context, id string) (domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
}

// JobDirectory receives job titles announced by the jobs service.
type JobDirectory interface {
	UpsertJob(ctx context.Context, jobID, title string) error
}
