package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"jobtalk/server/common/infra/mq"
	commonlog "jobtalk/server/common/log"
	"jobtalk/server/messaging/domain"
)

const collaboratorQueue = "messaging.collaborator-events"

var collaboratorBindings = []string{"application.#", "interview.#", "job.#"}

var errNotificationRejected = errors.New("notification rejected")

// CollaboratorEvent is what the applications, interviews and jobs services publish.
type CollaboratorEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		UserID   string         `json:"userId"`
		Title    string         `json:"title"`
		Body     string         `json:"body"`
		Link     string         `json:"link"`
		Meta     map[string]any `json:"meta"`
		JobID    string         `json:"jobId"`
		JobTitle string         `json:"jobTitle"`
	} `json:"data"`
}

// CollaboratorConsumer turns application and interview events into notifications and
// keeps the job title mirror current.
type CollaboratorConsumer struct {
	conn          *amqp.Connection
	notifications *NotificationService
	jobs          JobDirectory
}

func NewCollaboratorConsumer(conn *amqp.Connection, notifications *NotificationService, jobs JobDirectory) *CollaboratorConsumer {
	return &CollaboratorConsumer{conn: conn, notifications: notifications, jobs: jobs}
}

// Start declares and binds the queue, then consumes until ctx is done.
func (c *CollaboratorConsumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	if err := mq.DeclareExchange(ch); err != nil {
		_ = ch.Close()
		return err
	}
	if _, err := ch.QueueDeclare(collaboratorQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return err
	}
	for _, key := range collaboratorBindings {
		if err := ch.QueueBind(collaboratorQueue, key, mq.ExchangeEvents, false, nil); err != nil {
			_ = ch.Close()
			return err
		}
	}
	deliveries, err := ch.ConsumeWithContext(ctx, collaboratorQueue, "messaging", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}
	go func() {
		defer ch.Close()
		for d := range deliveries {
			if err := c.HandleDelivery(ctx, d.RoutingKey, d.Body); err != nil {
				commonlog.Warnf("event=collaborator_event action=consume status=failed routing_key=%s error=%v", d.RoutingKey, err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}()
	commonlog.Infof("event=collaborator_event action=subscribe status=ok queue=%s bindings=%s", collaboratorQueue, strings.Join(collaboratorBindings, ","))
	return nil
}

func (c *CollaboratorConsumer) HandleDelivery(ctx context.Context, routingKey string, body []byte) error {
	var event CollaboratorEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode collaborator event: %w", err)
	}
	if jobID := strings.TrimSpace(event.Data.JobID); jobID != "" && strings.TrimSpace(event.Data.JobTitle) != "" && c.jobs != nil {
		if err := c.jobs.UpsertJob(ctx, jobID, strings.TrimSpace(event.Data.JobTitle)); err != nil {
			return fmt.Errorf("upsert job: %w", err)
		}
	}

	var kind domain.NotificationType
	switch prefix, _, _ := strings.Cut(routingKey, "."); prefix {
	case "application":
		kind = domain.NotificationApplication
	case "interview":
		kind = domain.NotificationInterview
	case "job":
		return nil
	default:
		return fmt.Errorf("unroutable key %q", routingKey)
	}

	meta := event.Data.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	meta["event"] = routingKey
	if event.Data.JobID != "" {
		meta["jobId"] = event.Data.JobID
	}
	n := c.notifications.Notify(ctx, domain.NotifyInput{
		UserID: event.Data.UserID,
		Type:   kind,
		Title:  event.Data.Title,
		Body:   event.Data.Body,
		Link:   event.Data.Link,
		Meta:   meta,
	})
	if n == nil {
		return errNotificationRejected
	}
	return nil
}
