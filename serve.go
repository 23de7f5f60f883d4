package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"inbox-service/internal/adapters"
	"inbox-service/internal/db"
	inboxgrpc "inbox-service/internal/grpc"
	"inbox-service/internal/handlers"
	"inbox-service/internal/inbox"
	"inbox-service/internal/logging"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
	"inbox-service/internal/presence"
	"inbox-service/internal/rabbitmq"
	"inbox-service/internal/repositories"
	"inbox-service/internal/telemetry"
	"inbox-service/internal/typing"
	"inbox-service/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, websocket and gRPC servers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Environment,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}

	database, err := db.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer database.Close()
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, database); err != nil {
			return err
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("noop_reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, "inbox-service", cfg.Environment)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	presenceRepo := repositories.NewPresenceRepo(database)

	var presenceSource adapters.PresenceSource = presenceRepo
	if cfg.Presence.GRPCAddr != "" {
		conn, err := inboxgrpc.Dial(cfg.Presence.GRPCAddr)
		if err != nil {
			return err
		}
		defer conn.Close()
		presenceSource = inboxgrpc.NewPresenceClient(conn)
		log.Info().Str("addr", cfg.Presence.GRPCAddr).Msg("using remote presence service")
	}

	sources := make(map[models.ConversationKind]adapters.ConversationSource, len(models.Kinds))
	for _, kind := range models.Kinds {
		sources[kind] = conversationRepo
	}

	hub := ws.NewHub()
	registry := inbox.NewRegistry(inbox.Deps{
		Sources:  sources,
		Messages: messageRepo,
		Sender:   messageRepo,
		Marker:   messageRepo,
		Typing:   rabbitmq.NewTypingPublisher(publisher),
		Presence: presenceSource,
		Events:   hub,
		TypingCfg: typing.Config{
			InactivityWindow: cfg.Typing.InactivityWindow,
			DecayWindow:      cfg.Typing.DecayWindow,
		},
		Thresholds: presence.Thresholds{
			Online: cfg.Presence.OnlineWindow,
			Away:   cfg.Presence.AwayWindow,
		},
	}, logging.Component("inbox"))

	if !cfg.HTTP.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(cfg.Tracing.ServiceName), observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.NewInboxHandler(registry, audit).Register(router)
	handlers.RegisterDebugRoutes(router, audit, registry, cfg.HTTP.Debug)
	router.GET("/ws/inbox", ws.NewInboxWebSocketHandler(hub, registry, presenceRepo, messageRepo).Handle)

	httpServer := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: router}
	grpcServer, healthServer := inboxgrpc.NewServer(presenceRepo)
	lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info().Str("port", cfg.GRPC.Port).Msg("grpc server listening")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	healthServer.Shutdown()
	grpcServer.GracefulStop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
	return serveErr
}
