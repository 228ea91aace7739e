package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chatsync/internal/accounts"
	"chatsync/internal/cache"
	"chatsync/internal/chats"
	"chatsync/internal/config"
	"chatsync/internal/docstore"
	"chatsync/internal/docstore/memstore"
	"chatsync/internal/docstore/pgstore"
	"chatsync/internal/jobs"
	"chatsync/internal/logging"
	"chatsync/internal/middleware"
	"chatsync/internal/presence"
	"chatsync/internal/rabbitmq"
	"chatsync/internal/relations"
	"chatsync/internal/telemetry"
	"chatsync/internal/ws"
)

const (
	shutdownTimeout = 15 * time.Second
	jobConcurrency  = 4
)

type serveOptions struct {
	debugRoutes bool
}

func NewServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.debugRoutes, "debug-routes", false, "expose /debug endpoints")
	return cmd
}

func runServe(parent context.Context, opts *serveOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Service(logger, cfg.ServiceName, cfg.Environment)
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment, log)
	if err != nil {
		return err
	}

	store, health, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	kv, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer kv.Close()

	queue, err := openQueue(cfg, log)
	if err != nil {
		return err
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, "audit."+cfg.ServiceName, cfg.ServiceName, cfg.Environment, log)
	events := telemetry.NewEventEmitter(publisher, cfg.ServiceName, log)

	relSvc := relations.NewService(store,
		relations.WithAudit(audit),
		relations.WithEvents(events),
		relations.WithLogger(log),
	)
	queue.Register(jobs.TaskPurgeUser, relSvc.HandlePurgeTask)

	chatSvc := chats.NewService(store,
		chats.WithAudit(audit),
		chats.WithEvents(events),
		chats.WithLogger(log),
		chats.WithMaxImageBytes(cfg.MaxImageBytes),
	)
	accSvc := accounts.NewService(store, queue,
		accounts.WithEvents(events),
		accounts.WithLogger(log),
	)

	auth := middleware.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL)
	hub := ws.NewHub(ws.NewTrackerFactory(store,
		presence.WithCache(kv),
		presence.WithInterval(cfg.PresenceInterval),
		presence.WithIdleThreshold(cfg.PresenceIdleThreshold),
		presence.WithLogger(log),
	), log)

	router := newRouter(routerDeps{
		service:   cfg.ServiceName,
		log:       log,
		auth:      auth,
		accounts:  accSvc,
		relations: relSvc,
		chats:     chatSvc,
		sync:      ws.NewSyncHandler(auth, store, chatSvc, hub, events, log),
		audit:     audit,
		sessions:  hub.Sessions,
		health:    health,
		debug:     opts.debugRoutes,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		if err := queue.Run(ctx); err != nil {
			errc <- fmt.Errorf("jobs: %w", err)
		}
	}()
	go func() {
		log.WithFields(logrus.Fields{
			"port":      cfg.Port,
			"store":     cfg.StoreDriver,
			"publisher": rabbitmq.PublisherMode(publisher),
		}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errc:
		log.WithError(runErr).Error("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	hub.CloseAll()
	if err := hub.Drain(shutdownCtx); err != nil {
		log.WithError(err).Warn("sync sessions still open")
	}
	if err := queue.Close(); err != nil {
		log.WithError(err).Warn("jobs shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracing shutdown")
	}
	return runErr
}

func openStore(ctx context.Context, cfg config.Config, log *logrus.Entry) (docstore.Store, func(context.Context) error, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store; data is lost on exit")
		return memstore.New(log), nil, nil
	}
	s, err := pgstore.Connect(ctx, cfg.DBDSN, log)
	if err != nil {
		return nil, nil, err
	}
	return s, s.DB().PingContext, nil
}

func openCache(ctx context.Context, cfg config.Config, log *logrus.Entry) (cache.Cache, error) {
	if cfg.RedisURL == "" {
		log.Info("redis not configured, using in-process cache")
		return cache.NewMemory(), nil
	}
	c, err := cache.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func openQueue(cfg config.Config, log *logrus.Entry) (jobs.Queue, error) {
	if cfg.RedisURL == "" {
		return jobs.NewInline(log), nil
	}
	q, err := jobs.NewAsynq(cfg.RedisURL, jobConcurrency, log)
	if err != nil {
		return nil, err
	}
	return q, nil
}
