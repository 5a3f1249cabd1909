package service

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobtalk/server/messaging/domain"
	"jobtalk/server/messaging/repository"
)

func TestSendCreatesConversationOnFirstMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	result, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello", ReceiverID: bob.UserID})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ConversationID)
	assert.Equal(t, "Hello", result.Message.Body)
	assert.Equal(t, bob.UserID, result.Message.ReceiverID)

	for _, user := range []string{alice.UserID, bob.UserID} {
		items, err := f.conversations.ListConversationsForUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, result.ConversationID, items[0].ID)
		require.NotNil(t, items[0].LastMessage)
		assert.Equal(t, "Hello", items[0].LastMessage.Body)
	}
	assert.Equal(t, []string{RoutingNotificationCreated, RoutingMessageCreated}, f.publisher.published())
}

func TestFetchMarksReceiverMessagesRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	result, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello", ReceiverID: bob.UserID})
	require.NoError(t, err)

	list, err := f.notifications.List(ctx, bob.UserID, 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.UnreadCount)

	items, err := f.conversations.ListConversationsForUser(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), items[0].UnreadCount)

	messages, err := f.conversations.GetMessages(ctx, result.ConversationID, bob.UserID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Hello", messages[0].Body)
	require.NotNil(t, messages[0].ReadAt)
	firstReadAt := *messages[0].ReadAt

	items, err = f.conversations.ListConversationsForUser(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Zero(t, items[0].UnreadCount)

	again, err := f.conversations.GetMessages(ctx, result.ConversationID, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, firstReadAt, *again[0].ReadAt)
}

func TestSendRejectsOversizedBodyWithoutMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: strings.Repeat("x", 2001), ReceiverID: bob.UserID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	items, err := f.conversations.ListConversationsForUser(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Empty(t, items)
	list, err := f.notifications.List(ctx, bob.UserID, 0, false)
	require.NoError(t, err)
	assert.Empty(t, list.Notifications)
}

func TestNonParticipantCannotReadOrWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	result, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello", ReceiverID: bob.UserID})
	require.NoError(t, err)

	messages, err := f.conversations.GetMessages(ctx, result.ConversationID, carol.UserID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Nil(t, messages)

	_, err = f.delivery.Send(ctx, SourceHTTP, carol, domain.SendInput{Content: "hi", ConversationID: result.ConversationID})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.conversations.GetMessages(ctx, "missing", alice.UserID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSendRequiresAResolvableConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello", ReceiverID: alice.UserID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello", ConversationID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationIsUniquePerPairAndJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	job := "job-7"

	ab, err := f.conversations.FindOrCreateConversation(ctx, alice.UserID, bob.UserID, nil)
	require.NoError(t, err)
	ba, err := f.conversations.FindOrCreateConversation(ctx, bob.UserID, alice.UserID, nil)
	require.NoError(t, err)
	assert.Equal(t, ab.ID, ba.ID)

	scoped, err := f.conversations.FindOrCreateConversation(ctx, bob.UserID, alice.UserID, &job)
	require.NoError(t, err)
	assert.NotEqual(t, ab.ID, scoped.ID)

	sent, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "About the role", ReceiverID: bob.UserID, JobID: job})
	require.NoError(t, err)
	assert.Equal(t, scoped.ID, sent.ConversationID)
	require.NotNil(t, sent.Message.JobID)
	assert.Equal(t, job, *sent.Message.JobID)

	blank := "  "
	unscoped, err := f.conversations.FindOrCreateConversation(ctx, alice.UserID, bob.UserID, &blank)
	require.NoError(t, err)
	assert.Equal(t, ab.ID, unscoped.ID)
}

func TestSendPushesToBothSidesAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	bobPhone := newRecordingSession(bob.UserID)
	aliceOtherTab := newRecordingSession(alice.UserID)
	f.hub.RegisterSession(bobPhone)
	f.hub.RegisterSession(aliceOtherTab)

	body := strings.Repeat("long message ", 20)
	result, err := f.delivery.Send(ctx, SourceLive, alice, domain.SendInput{Content: body, ReceiverID: bob.UserID})
	require.NoError(t, err)

	var incoming MessagePayload
	bobPhone.lastOf(t, EventMessageNew, &incoming)
	assert.Equal(t, result.ConversationID, incoming.ConversationID)
	assert.Equal(t, result.Message.ID, incoming.Message.ID)

	var echoed MessagePayload
	aliceOtherTab.lastOf(t, EventMessageSent, &echoed)
	assert.Equal(t, result.Message.ID, echoed.Message.ID)
	assert.Empty(t, aliceOtherTab.framesOf(EventMessageNew))

	var pushed NotificationPayload
	bobPhone.lastOf(t, EventNotificationNew, &pushed)
	n := pushed.Notification
	assert.Equal(t, domain.NotificationMessage, n.Type)
	assert.Equal(t, "New message", n.Title)
	assert.Equal(t, "/messages/"+result.ConversationID, n.Link)
	assert.LessOrEqual(t, len([]rune(n.Body)), domain.MessagePreviewLength)
	assert.Equal(t, result.Message.ID, n.Meta["messageId"])
	assert.Equal(t, "Alice", n.Meta["senderName"])
}

func TestOfflineReceiverStillGetsDurableNotification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.False(t, f.hub.IsOnline(bob.UserID))

	_, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Are you there?", ReceiverID: bob.UserID})
	require.NoError(t, err)

	list, err := f.notifications.List(ctx, bob.UserID, 10, true)
	require.NoError(t, err)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, int64(1), list.UnreadCount)
}

func TestPublishFailureDoesNotFailSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.publisher.err = assert.AnError

	_, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello", ReceiverID: bob.UserID})
	assert.NoError(t, err)
}

func TestReceiptIsRelayedToSenderSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	aliceTab := newRecordingSession(alice.UserID)
	f.hub.RegisterSession(aliceTab)

	sent, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello", ReceiverID: bob.UserID})
	require.NoError(t, err)
	messageID := sent.Message.ID

	require.NoError(t, f.delivery.HandleReceipt(ctx, bob.UserID, ReceiptPayload{MessageID: messageID, SenderID: alice.UserID}))
	var delivered DeliveredPayload
	aliceTab.lastOf(t, EventMessageDelivered, &delivered)
	assert.Equal(t, messageID, delivered.MessageID)

	assert.ErrorIs(t, f.delivery.HandleReceipt(ctx, bob.UserID, ReceiptPayload{SenderID: alice.UserID}), domain.ErrValidation)
	assert.ErrorIs(t, f.delivery.HandleReceipt(ctx, alice.UserID, ReceiptPayload{MessageID: messageID, SenderID: alice.UserID}), domain.ErrValidation)
}

func TestReceiptOnlyFromTheMessageReceiver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	aliceTab := newRecordingSession(alice.UserID)
	f.hub.RegisterSession(aliceTab)

	sent, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello", ReceiverID: bob.UserID})
	require.NoError(t, err)
	messageID := sent.Message.ID

	err = f.delivery.HandleReceipt(ctx, carol.UserID, ReceiptPayload{MessageID: messageID, SenderID: alice.UserID})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	err = f.delivery.HandleReceipt(ctx, bob.UserID, ReceiptPayload{MessageID: messageID, SenderID: carol.UserID})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	err = f.delivery.HandleReceipt(ctx, bob.UserID, ReceiptPayload{MessageID: "missing", SenderID: alice.UserID})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Empty(t, aliceTab.framesOf(EventMessageDelivered))
}

func TestReceiptForOfflineSenderIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	sent, err := f.delivery.Send(ctx, SourceHTTP, carol, domain.SendInput{Content: "Hello", ReceiverID: alice.UserID})
	require.NoError(t, err)
	require.False(t, f.hub.IsOnline(carol.UserID))

	assert.NoError(t, f.delivery.HandleReceipt(ctx, alice.UserID, ReceiptPayload{MessageID: sent.Message.ID, SenderID: carol.UserID}))
}

type cancelAwareStore struct {
	*repository.MemoryStore
}

func (s cancelAwareStore) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Notification{}, err
	}
	return s.MemoryStore.CreateNotification(ctx, n)
}

func TestCommittedSendSurvivesCallerCancellation(t *testing.T) {
	store := repository.NewMemoryStore()
	hub := NewHub()
	publisher := &recordingPublisher{}
	conversations := NewConversationService(store)
	notifications := NewNotificationService(cancelAwareStore{store}, hub, publisher)
	delivery := NewDeliveryService(conversations, notifications, hub, publisher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := delivery.Send(ctx, SourceLive, alice, domain.SendInput{Content: "Hello", ReceiverID: bob.UserID})
	require.NoError(t, err)

	list, err := notifications.List(context.Background(), bob.UserID, 10, false)
	require.NoError(t, err)
	assert.Len(t, list.Notifications, 1)
	assert.Contains(t, publisher.published(), RoutingMessageCreated)
}

func TestDuplicateClientMsgIDIsRejected(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, NewRedisIdempotency(client))

	in := domain.SendInput{Content: "Hello", ReceiverID: bob.UserID, ClientMsgID: "c-1"}
	_, err := f.delivery.Send(ctx, SourceHTTP, alice, in)
	require.NoError(t, err)

	_, err = f.delivery.Send(ctx, SourceHTTP, alice, in)
	assert.ErrorIs(t, err, domain.ErrConflict)

	messages, err := f.store.ListConversationSummaries(ctx, alice.UserID)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	ttl := mr.TTL(sendIdempotencyKey(alice.UserID, "c-1"))
	assert.Equal(t, sendIdempotencyTTL, ttl)
}

func TestFailedSendReleasesClientMsgID(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, NewRedisIdempotency(client))

	_, err := f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello", ConversationID: "missing", ClientMsgID: "c-9"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, mr.Exists(sendIdempotencyKey(alice.UserID, "c-9")))

	_, err = f.delivery.Send(ctx, SourceHTTP, alice, domain.SendInput{Content: "Hello", ReceiverID: bob.UserID, ClientMsgID: "c-9"})
	assert.NoError(t, err)
}
