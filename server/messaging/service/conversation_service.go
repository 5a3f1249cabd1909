package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"jobtalk/server/messaging/domain"
)

type ConversationService struct {
	store ConversationStore
	now   func() time.Time
}

func NewConversationService(store ConversationStore) *ConversationService {
	return &ConversationService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// FindOrCreateConversation returns the single thread for the unordered pair and job,
// creating it on first use.
func (s *ConversationService) FindOrCreateConversation(ctx context.Context, userA, userB string, jobID *string) (domain.Conversation, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return domain.Conversation{}, domain.Validation("both participants are required")
	}
	if userA == userB {
		return domain.Conversation{}, domain.Validation("cannot message yourself")
	}
	pair := domain.NormalizePair(userA, userB)
	job := domain.NormalizeJobID(jobID)

	conv, err := s.store.FindConversation(ctx, pair, job)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Conversation{}, err
	}
	return s.store.CreateConversation(ctx, pair, job)
}

func (s *ConversationService) ListConversationsForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	return s.store.ListConversationSummaries(ctx, userID)
}

// GetMessages returns the thread oldest first and marks everything addressed to userID as read.
func (s *ConversationService) GetMessages(ctx context.Context, conversationID, userID string) ([]domain.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, domain.Forbidden("not a participant of this conversation")
	}
	if _, err := s.store.MarkConversationRead(ctx, conv.ID, userID, s.now()); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conv.ID)
}

// ResolveConversation picks the thread a send targets: an existing conversation the
// sender belongs to, or the sender/receiver thread for the job.
func (s *ConversationService) ResolveConversation(ctx context.Context, senderID string, in domain.SendInput) (domain.Conversation, error) {
	if conversationID := strings.TrimSpace(in.ConversationID); conversationID != "" {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if err != nil {
			return domain.Conversation{}, err
		}
		if !conv.HasParticipant(senderID) {
			return domain.Conversation{}, domain.Forbidden("not a participant of this conversation")
		}
		return conv, nil
	}
	receiverID := strings.TrimSpace(in.ReceiverID)
	if receiverID == "" {
		return domain.Conversation{}, domain.Validation("receiverId or conversationId is required")
	}
	jobID := in.JobID
	return s.FindOrCreateConversation(ctx, senderID, receiverID, &jobID)
}

func (s *ConversationService) AppendMessage(ctx context.Context, conv domain.Conversation, senderID, body string, jobID *string) (domain.Message, error) {
	body, err := domain.ValidateMessageBody(body)
	if err != nil {
		return domain.Message{}, err
	}
	if !conv.HasParticipant(senderID) {
		return domain.Message{}, domain.Forbidden("not a participant of this conversation")
	}
	job := domain.NormalizeJobID(jobID)
	if job == nil {
		job = conv.JobID
	}
	return s.store.InsertMessage(ctx, domain.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     conv.Peer(senderID),
		Body:           body,
		JobID:          job,
	})
}

func (s *ConversationService) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	return s.store.GetMessage(ctx, messageID)
}

func (s *ConversationService) UnreadMessageCount(ctx context.Context, userID string) (int64, error) {
	return s.store.CountUnreadMessages(ctx, userID)
}

// RememberParticipant mirrors the caller's display info so summaries can show it.
func (s *ConversationService) RememberParticipant(ctx context.Context, p domain.Participant) error {
	if strings.TrimSpace(p.UserID) == "" {
		return nil
	}
	return s.store.UpsertUser(ctx, p)
}

func (s *ConversationService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
