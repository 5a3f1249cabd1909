package service

import (
	"context"
	"strings"

	commonlog "jobtalk/server/common/log"
	"jobtalk/server/messaging/domain"
)

const (
	SourceHTTP = "http"
	SourceLive = "ws"

	messageNotificationTitle = "New message"
)

type SendResult struct {
	Message        domain.Message `json:"message"`
	ConversationID string         `json:"conversationId"`
}

// DeliveryService runs the send and receipt protocol on top of the conversation store,
// the presence hub and the notification broadcaster.
type DeliveryService struct {
	conversations *ConversationService
	notifications *NotificationService
	hub           *Hub
	publisher     EventPublisher
	idempotency   Idempotency
}

func NewDeliveryService(conversations *ConversationService, notifications *NotificationService, hub *Hub, publisher EventPublisher, idempotency Idempotency) *DeliveryService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &DeliveryService{
		conversations: conversations,
		notifications: notifications,
		hub:           hub,
		publisher:     publisher,
		idempotency:   idempotency,
	}
}

func (s *DeliveryService) Send(ctx context.Context, source string, sender domain.Participant, in domain.SendInput) (SendResult, error) {
	body, err := domain.ValidateMessageBody(in.Content)
	if err != nil {
		return SendResult{}, err
	}
	if err := s.conversations.RememberParticipant(ctx, sender); err != nil {
		commonlog.Warnf("event=directory action=upsert_user status=failed user_id=%s error=%v", sender.UserID, err)
	}

	idempotencyKey := ""
	if clientMsgID := strings.TrimSpace(in.ClientMsgID); clientMsgID != "" && s.idempotency != nil {
		idempotencyKey = sendIdempotencyKey(sender.UserID, clientMsgID)
		claimed, err := s.idempotency.Claim(ctx, idempotencyKey)
		if err != nil {
			return SendResult{}, err
		}
		if !claimed {
			return SendResult{}, domain.Conflict("duplicate clientMsgId")
		}
	}

	msg, err := s.persist(ctx, sender.UserID, body, in)
	if err != nil {
		if idempotencyKey != "" {
			s.idempotency.Release(context.WithoutCancel(ctx), idempotencyKey)
		}
		commonlog.Warnf("event=message action=send status=failed source=%s user_id=%s error=%v", source, sender.UserID, err)
		return SendResult{}, err
	}
	messagesSentTotal.WithLabelValues(source).Inc()

	payload := MessagePayload{ConversationID: msg.ConversationID, Message: msg}
	receiverFanout := s.hub.PushToUser(msg.ReceiverID, newEvent(EventMessageNew, payload))
	senderFanout := s.hub.PushToUser(msg.SenderID, newEvent(EventMessageSent, payload))

	// The message is committed; side effects must not be lost to a caller that went away.
	detached := context.WithoutCancel(ctx)
	senderName := sender.Name
	if senderName == "" {
		senderName = sender.UserID
	}
	s.notifications.Notify(detached, domain.NotifyInput{
		UserID: msg.ReceiverID,
		Type:   domain.NotificationMessage,
		Title:  messageNotificationTitle,
		Body:   domain.Truncate(msg.Body, domain.MessagePreviewLength),
		Link:   "/messages/" + msg.ConversationID,
		Meta: map[string]any{
			"conversationId": msg.ConversationID,
			"messageId":      msg.ID,
			"senderId":       msg.SenderID,
			"senderName":     senderName,
		},
	})
	if err := s.publisher.Publish(detached, RoutingMessageCreated, msg); err != nil {
		commonlog.Warnf("event=message action=publish status=failed message_id=%s error=%v", msg.ID, err)
	}

	commonlog.Infof("event=message action=send status=ok source=%s conversation_id=%s message_id=%s sender_id=%s receiver_id=%s receiver_fanout=%d sender_fanout=%d", source, msg.ConversationID, msg.ID, msg.SenderID, msg.ReceiverID, receiverFanout, senderFanout)
	return SendResult{Message: msg, ConversationID: msg.ConversationID}, nil
}

func (s *DeliveryService) persist(ctx context.Context, senderID, body string, in domain.SendInput) (domain.Message, error) {
	conv, err := s.conversations.ResolveConversation(ctx, senderID, in)
	if err != nil {
		return domain.Message{}, err
	}
	jobID := in.JobID
	return s.conversations.AppendMessage(ctx, conv, senderID, body, &jobID)
}

// HandleReceipt relays a receiver's "message:received" to the original sender's live
// sessions. Only the message's receiver may acknowledge it, and only to its sender.
// Nothing is stored; an offline sender never learns of the delivery.
func (s *DeliveryService) HandleReceipt(ctx context.Context, receiverID string, receipt ReceiptPayload) error {
	messageID := strings.TrimSpace(receipt.MessageID)
	senderID := strings.TrimSpace(receipt.SenderID)
	if messageID == "" || senderID == "" {
		return domain.Validation("messageId and senderId are required")
	}
	if senderID == receiverID {
		return domain.Validation("cannot acknowledge your own message")
	}
	msg, err := s.conversations.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ReceiverID != receiverID || msg.SenderID != senderID {
		commonlog.Warnf("event=message action=receipt status=rejected message_id=%s sender_id=%s receiver_id=%s", messageID, senderID, receiverID)
		return domain.Forbidden("not the receiver of this message")
	}
	fanout := s.hub.PushToUser(msg.SenderID, newEvent(EventMessageDelivered, DeliveredPayload{MessageID: msg.ID}))
	receiptsRelayedTotal.Inc()
	commonlog.Debugf("event=message action=receipt status=ok message_id=%s sender_id=%s receiver_id=%s fanout_count=%d", msg.ID, msg.SenderID, receiverID, fanout)
	return nil
}
