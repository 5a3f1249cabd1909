package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"

	commonauth "jobtalk/server/common/auth"
	"jobtalk/server/common/infra/cache"
	"jobtalk/server/common/infra/db"
	"jobtalk/server/common/infra/mq"
	commonlog "jobtalk/server/common/log"
	"jobtalk/server/messaging/api"
	"jobtalk/server/messaging/repository"
	"jobtalk/server/messaging/service"
)

const tokenTTL = 24 * time.Hour

type messagingStore interface {
	service.ConversationStore
	service.NotificationStore
	service.JobDirectory
}

type Server struct {
	HTTPServer *http.Server
	hub        *service.Hub
	cancel     context.CancelFunc
	closers    []func()
}

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	s := &Server{cancel: cancel}
	fail := func(err error) (*Server, error) {
		s.close()
		return nil, err
	}

	store, err := s.openStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	hub := service.NewHub()
	s.hub = hub
	var idempotency service.Idempotency
	if cfg.RedisEnabled {
		client := cache.NewClient(cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		s.closers = append(s.closers, func() { _ = client.Close() })
		if err := cache.Ping(ctx, client); err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		hub.UseRedis(client)
		if err := hub.StartRedisSubscriber(bgCtx); err != nil {
			return fail(fmt.Errorf("subscribe redis: %w", err))
		}
		idempotency = service.NewRedisIdempotency(client)
		commonlog.Infof("event=messaging_boot action=redis status=ok addr=%s", cfg.RedisAddr)
	}

	var (
		publisher service.EventPublisher = service.NopPublisher{}
		mqConn    *amqp.Connection
	)
	if cfg.UseMQ {
		mqConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			return fail(fmt.Errorf("connect lavinmq: %w", err))
		}
		s.closers = append(s.closers, func() { _ = mqConn.Close() })
		amqpPublisher, err := service.NewAMQPPublisher(mqConn)
		if err != nil {
			return fail(fmt.Errorf("open amqp publisher: %w", err))
		}
		s.closers = append(s.closers, amqpPublisher.Close)
		publisher = amqpPublisher
	}

	auth := commonauth.NewService(cfg.JWTSecret, tokenTTL)
	conversations := service.NewConversationService(store)
	notifications := service.NewNotificationService(store, hub, publisher)
	delivery := service.NewDeliveryService(conversations, notifications, hub, publisher, idempotency)
	realtime := service.NewRealtimeService(auth, hub, delivery, cfg.AllowedOrigins, cfg.RequestTimeout)

	if mqConn != nil {
		consumer := service.NewCollaboratorConsumer(mqConn, notifications, store)
		if err := consumer.Start(bgCtx); err != nil {
			return fail(fmt.Errorf("start collaborator consumer: %w", err))
		}
	}

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	api.NewHandler(conversations, delivery, notifications, hub, realtime, auth, cfg.RequestTimeout).RegisterRoutes(r)

	s.HTTPServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	commonlog.Infof("event=messaging_boot action=init status=ok store=%s redis=%t mq=%t", cfg.StoreDriver, cfg.RedisEnabled, cfg.UseMQ)
	return s, nil
}

func (s *Server) openStore(ctx context.Context, cfg Config) (messagingStore, error) {
	if cfg.StoreDriver == StoreDriverMemory {
		return repository.NewMemoryStore(), nil
	}
	pool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s.closers = append(s.closers, pool.Close)
	if cfg.MigrateOnStart {
		if err := repository.ApplyMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return repository.NewPostgresStore(pool), nil
}

func (s *Server) close() {
	s.cancel()
	if s.hub != nil {
		s.hub.StopRedisSubscriber()
		if closed := s.hub.CloseSessions(); closed > 0 {
			commonlog.Infof("event=server action=close_sessions status=ok count=%d", closed)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	s.close()
	return err
}
