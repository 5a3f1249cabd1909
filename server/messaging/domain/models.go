package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxMessageBodyLength      = 2000
	MaxNotificationTitle      = 120
	MaxNotificationBody       = 500
	MessagePreviewLength      = 140
	DefaultNotificationsLimit = 20
	MaxNotificationsLimit     = 100
)

type NotificationType string

const (
	NotificationMessage     NotificationType = "message"
	NotificationInterview   NotificationType = "interview"
	NotificationApplication NotificationType = "application"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationMessage, NotificationInterview, NotificationApplication:
		return true
	}
	return false
}

// Participant is the display information of a user taking part in a conversation.
type Participant struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Conversation is unique per normalized participant pair and optional job.
type Conversation struct {
	ID            string    `json:"id"`
	Participants  [2]string `json:"participants"`
	JobID         *string   `json:"jobId,omitempty"`
	LastMessageID *string   `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (c Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Peer returns the other participant, or "" if userID is not a participant.
func (c Conversation) Peer(userID string) string {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Body           string     `json:"body"`
	JobID          *string    `json:"jobId,omitempty"`
	IsRead         bool       `json:"isRead"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type ConversationSummary struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	JobID        *string       `json:"jobId,omitempty"`
	JobTitle     *string       `json:"jobTitle,omitempty"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UnreadCount  int64         `json:"unreadCount"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body,omitempty"`
	Link      string           `json:"link,omitempty"`
	Meta      map[string]any   `json:"meta,omitempty"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

type SendInput struct {
	Content        string `json:"content"`
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId"`
	JobID          string `json:"jobId"`
	ClientMsgID    string `json:"clientMsgId"`
}

type NotifyInput struct {
	UserID string
	Type   NotificationType
	Title  string
	Body   string
	Link   string
	Meta   map[string]any
}

// NormalizePair orders two user ids so a pair has one canonical form regardless of caller order.
func NormalizePair(a, b string) [2]string {
	if b < a {
		return [2]string{b, a}
	}
	return [2]string{a, b}
}

// NormalizeJobID maps a blank job reference to nil.
func NormalizeJobID(jobID *string) *string {
	if jobID == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*jobID)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func SameJob(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ValidateMessageBody trims body and checks the 1..MaxMessageBodyLength rune bound.
func ValidateMessageBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", Validation("message content is required")
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageBodyLength {
		return "", Validationf("message content must be at most %d characters", MaxMessageBodyLength)
	}
	return trimmed, nil
}

// Truncate shortens s to at most limit runes, marking the cut with "...".
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit <= 3 {
		return string(runes[:limit])
	}
	return strings.TrimSpace(string(runes[:limit-3])) + "..."
}
