package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobtalk/server/messaging/domain"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresStore) UpsertUser(ctx context.Context, user domain.Participant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users(user_id, name, email, role)
		VALUES($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET name=EXCLUDED.name, email=EXCLUDED.email, role=EXCLUDED.role
	`, user.UserID, user.Name, user.Email, user.Role)
	return err
}

func (r *PostgresStore) UpsertJob(ctx context.Context, jobID, title string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs(job_id, title) VALUES($1, $2)
		ON CONFLICT (job_id) DO UPDATE SET title=EXCLUDED.title
	`, jobID, title)
	return err
}

const conversationColumns = `conversation_id, participant_a, participant_b, job_id, last_message_id, created_at, updated_at`

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	var conv domain.Conversation
	err := row.Scan(&conv.ID, &conv.Participants[0], &conv.Participants[1], &conv.JobID, &conv.LastMessageID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, domain.NotFound("conversation not found")
	}
	return conv, err
}

func (r *PostgresStore) FindConversation(ctx context.Context, pair [2]string, jobID *string) (domain.Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a=$1 AND participant_b=$2 AND COALESCE(job_id, '')=COALESCE($3, '')
	`, pair[0], pair[1], jobID))
}

// CreateConversation inserts the pair+job thread, or returns the row a concurrent
// caller created first.
func (r *PostgresStore) CreateConversation(ctx context.Context, pair [2]string, jobID *string) (domain.Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, `
		INSERT INTO conversations(conversation_id, participant_a, participant_b, job_id)
		VALUES($1, $2, $3, $4)
		ON CONFLICT (participant_a, participant_b, (COALESCE(job_id, ''))) DO NOTHING
		RETURNING `+conversationColumns,
		uuid.NewString(), pair[0], pair[1], jobID))
	if errors.Is(err, domain.ErrNotFound) {
		return r.FindConversation(ctx, pair, jobID)
	}
	return conv, err
}

func (r *PostgresStore) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE conversation_id=$1
	`, id))
}

func (r *PostgresStore) ListConversationSummaries(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			c.conversation_id,
			c.participant_a,
			COALESCE(ua.name, ''),
			COALESCE(ua.email, ''),
			COALESCE(ua.role, ''),
			c.participant_b,
			COALESCE(ub.name, ''),
			COALESCE(ub.email, ''),
			COALESCE(ub.role, ''),
			c.job_id,
			j.title,
			m.message_id,
			m.sender_id,
			m.receiver_id,
			m.body,
			m.job_id,
			m.is_read,
			m.read_at,
			m.created_at,
			(
				SELECT COUNT(*)::BIGINT
				FROM messages um
				WHERE um.conversation_id = c.conversation_id
				  AND um.receiver_id = $1
				  AND um.is_read = FALSE
			) AS unread_count,
			c.updated_at
		FROM conversations c
		LEFT JOIN users ua ON ua.user_id = c.participant_a
		LEFT JOIN users ub ON ub.user_id = c.participant_b
		LEFT JOIN jobs j ON j.job_id = c.job_id
		LEFT JOIN messages m ON m.message_id = c.last_message_id
		WHERE c.participant_a = $1 OR c.participant_b = $1
		ORDER BY c.updated_at DESC, c.conversation_id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ConversationSummary, 0)
	for rows.Next() {
		var (
			item          domain.ConversationSummary
			a, b          domain.Participant
			lastID        *string
			lastSender    *string
			lastReceiver  *string
			lastBody      *string
			lastJobID     *string
			lastIsRead    *bool
			lastReadAt    *time.Time
			lastCreatedAt *time.Time
		)
		if err := rows.Scan(
			&item.ID,
			&a.UserID, &a.Name, &a.Email, &a.Role,
			&b.UserID, &b.Name, &b.Email, &b.Role,
			&item.JobID,
			&item.JobTitle,
			&lastID, &lastSender, &lastReceiver, &lastBody, &lastJobID, &lastIsRead, &lastReadAt, &lastCreatedAt,
			&item.UnreadCount,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Participants = []domain.Participant{a, b}
		if lastID != nil {
			item.LastMessage = &domain.Message{
				ID:             *lastID,
				ConversationID: item.ID,
				SenderID:       deref(lastSender),
				ReceiverID:     deref(lastReceiver),
				Body:           deref(lastBody),
				JobID:          lastJobID,
				IsRead:         lastIsRead != nil && *lastIsRead,
				ReadAt:         lastReadAt,
			}
			if lastCreatedAt != nil {
				item.LastMessage.CreatedAt = *lastCreatedAt
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// InsertMessage stores msg and moves the conversation's last-message pointer forward
// in one transaction. A concurrent newer message is never overwritten by an older one.
func (r *PostgresStore) InsertMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO messages(message_id, conversation_id, sender_id, receiver_id, body, job_id)
			VALUES($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`, msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Body, msg.JobID).Scan(&msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE conversations
			SET last_message_id=$2, updated_at=$3
			WHERE conversation_id=$1 AND updated_at <= $3
		`, msg.ConversationID, msg.ID, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	msg.IsRead = false
	msg.ReadAt = nil
	return msg, nil
}

const messageColumns = `message_id, conversation_id, sender_id, receiver_id, body, job_id, is_read, read_at, created_at`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Body, &m.JobID, &m.IsRead, &m.ReadAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, domain.NotFound("message not found")
	}
	return m, err
}

func (r *PostgresStore) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE message_id=$1
	`, id))
}

func (r *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id=$1
		ORDER BY created_at ASC, message_id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, userID string, readAt time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET is_read=TRUE, read_at=$3
		WHERE conversation_id=$1 AND receiver_id=$2 AND is_read=FALSE
	`, conversationID, userID, readAt)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *PostgresStore) CountUnreadMessages(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)::BIGINT FROM messages WHERE receiver_id=$1 AND is_read=FALSE
	`, userID).Scan(&count)
	return count, err
}

const notificationColumns = `notification_id, user_id, type, title, body, link, meta, is_read, created_at`

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var (
		n    domain.Notification
		kind string
		meta []byte
	)
	err := row.Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Body, &n.Link, &meta, &n.IsRead, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Notification{}, domain.NotFound("notification not found")
	}
	if err != nil {
		return domain.Notification{}, err
	}
	n.Type = domain.NotificationType(kind)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Meta); err != nil {
			return domain.Notification{}, fmt.Errorf("decode notification meta: %w", err)
		}
	}
	if len(n.Meta) == 0 {
		n.Meta = nil
	}
	return n, nil
}

func (r *PostgresStore) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	meta := []byte("{}")
	if len(n.Meta) > 0 {
		raw, err := json.Marshal(n.Meta)
		if err != nil {
			return domain.Notification{}, fmt.Errorf("encode notification meta: %w", err)
		}
		meta = raw
	}
	return scanNotification(r.pool.QueryRow(ctx, `
		INSERT INTO notifications(notification_id, user_id, type, title, body, link, meta)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+notificationColumns,
		n.ID, n.UserID, string(n.Type), n.Title, n.Body, n.Link, meta))
}

func (r *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int, unreadOnly bool) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id=$1 AND ($2::BOOLEAN = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC, notification_id DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *PostgresStore) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)::BIGINT FROM notifications WHERE user_id=$1 AND is_read=FALSE
	`, userID).Scan(&count)
	return count, err
}

func (r *PostgresStore) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	return scanNotification(r.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+` FROM notifications WHERE notification_id=$1
	`, id))
}

func (r *PostgresStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read=TRUE WHERE notification_id=$1 AND user_id=$2
	`, id, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.NotFound("notification not found")
	}
	return nil
}

func (r *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read=TRUE WHERE user_id=$1 AND is_read=FALSE
	`, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
