package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"session-chat-service/internal/auth"
	"session-chat-service/internal/chat"
	"session-chat-service/internal/config"
	"session-chat-service/internal/db"
	grpcclient "session-chat-service/internal/grpc"
	"session-chat-service/internal/handlers"
	"session-chat-service/internal/middleware"
	"session-chat-service/internal/notify"
	"session-chat-service/internal/observability"
	"session-chat-service/internal/rabbitmq"
	"session-chat-service/internal/registry"
	"session-chat-service/internal/repositories"
	"session-chat-service/internal/signaling"
	"session-chat-service/internal/telemetry"
	"session-chat-service/internal/ws"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	sessionStore, messageStore := openStores(cfg.Database)
	transport := openTransport(ctx, cfg.Signaling)

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	log.Printf("rabbitmq publisher mode=%s reason=%s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	if rabbitmq.PublisherMode(publisher) == "amqp" {
		observability.SetPublisher(publisher)
	} else {
		log.Printf("ws events disabled: rabbitmq unavailable")
	}
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, cfg.AMQP.ServiceName, cfg.Server.Environment)

	validator, authorizer, closeAuth := openAuth(cfg.Auth)
	defer closeAuth()

	notifier, closeNotifier := openNotifier(cfg.Notify, publisher)
	defer closeNotifier()

	reg := registry.New(sessionStore, authorizer, transport,
		registry.WithMaxAudioCapacity(cfg.Sessions.MaxAudioCapacity),
		registry.WithNotifier(notifier),
		registry.WithAudit(audit),
	)
	sender := chat.NewSender(sessionStore, messageStore, transport, audit)
	hub := ws.NewHub(transport)

	sessionHandler := handlers.NewSessionHandler(reg)
	messageHandler := handlers.NewMessageHandler(sender)
	sessionWS := ws.NewSessionWebSocketHandler(hub, reg, validator)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(handlers.RequestID())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(validator)
	api := router.Group("/", authMiddleware)
	api.POST("/sessions", sessionHandler.CreateSession)
	api.GET("/sessions/:session_id", sessionHandler.GetSession)
	api.POST("/sessions/:session_id/join", sessionHandler.JoinSession)
	api.POST("/sessions/:session_id/leave", sessionHandler.LeaveSession)
	api.POST("/sessions/:session_id/close", sessionHandler.CloseSession)
	api.GET("/sessions/:session_id/messages", messageHandler.GetMessages)
	api.POST("/sessions/:session_id/messages", messageHandler.PostMessage)
	handlers.RegisterDebugRoutes(api, audit, cfg.Server.DebugRoutes)

	router.GET("/ws/sessions/:session_id", sessionWS.Handle)

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}
	go func() {
		log.Printf("session-chat-service listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}

func openStores(cfg config.DatabaseConfig) (repositories.SessionRepository, repositories.SessionMessageRepository) {
	if cfg.Driver == "memory" {
		log.Printf("using in-memory session store")
		store := repositories.NewMemoryStore()
		return store, store
	}
	database, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	return repositories.NewSessionRepo(database), repositories.NewSessionMessageRepo(database)
}

func openTransport(ctx context.Context, cfg config.SignalingConfig) signaling.Transport {
	if cfg.Backend == "memory" {
		log.Printf("using in-memory signaling broker, single node only")
		return signaling.NewMemoryBroker().Transport()
	}
	transport, err := signaling.NewRedisTransport(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	return transport
}

// openAuth prefers a local JWT secret; otherwise tokens and privileges are
// checked by auth-service over gRPC.
func openAuth(cfg config.AuthConfig) (middleware.TokenValidator, registry.Authorizer, func()) {
	if cfg.JWTSecret != "" {
		log.Printf("auth: local jwt validation, %d privileged users", len(cfg.PrivilegedUserIDs))
		return auth.NewJWTValidator(cfg.JWTSecret), registry.NewStaticAuthorizer(cfg.PrivilegedUserIDs), func() {}
	}

	conn, err := grpcclient.Dial(cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to connect to auth grpc: %v", err)
	}
	client := grpcclient.NewAuthClient(conn)
	return client, client, func() { _ = conn.Close() }
}

func openNotifier(cfg config.NotifyConfig, publisher rabbitmq.Publisher) (notify.Notifier, func()) {
	switch cfg.Backend {
	case "asynq":
		n, err := notify.NewAsynqNotifier(cfg.RedisURL)
		if err != nil {
			log.Printf("asynq notifier disabled: %v", err)
			return notify.Nop{}, func() {}
		}
		return n, func() {
			if err := n.Close(); err != nil {
				log.Printf("asynq notifier close: %v", err)
			}
		}
	case "amqp":
		return notify.NewAMQPNotifier(publisher), func() {}
	default:
		return notify.Nop{}, func() {}
	}
}
