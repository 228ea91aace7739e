package cli

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chatsync/internal/handlers"
	"chatsync/internal/middleware"
	"chatsync/internal/observability"
	"chatsync/internal/telemetry"
	"chatsync/internal/ws"
)

type routerDeps struct {
	service   string
	log       *logrus.Entry
	auth      *middleware.Authenticator
	accounts  handlers.AccountsService
	relations handlers.RelationsService
	chats     handlers.ChatsService
	sync      *ws.SyncHandler
	audit     *telemetry.AuditEmitter
	sessions  handlers.SessionCounter
	health    func(ctx context.Context) error
	debug     bool
}

func newRouter(d routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(d.service),
		observability.RequestIDMiddleware(),
		observability.HTTPMetricsMiddleware(),
		requestLogger(d.log),
	)

	router.GET("/healthz", handlers.Health(d.health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if d.sync != nil {
		router.GET("/ws/sync", d.sync.Handle)
	}

	api := router.Group("/", middleware.AuthMiddleware(d.auth))
	handlers.NewAccountHandler(d.accounts).Routes(api)
	handlers.NewRelationsHandler(d.relations).Routes(api)
	handlers.NewChatHandler(d.chats).Routes(api)
	handlers.RegisterDebugRoutes(api, d.audit, d.sessions, d.debug)

	return router
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": c.GetString(observability.RequestIDContextKey),
		})
		if id := middleware.UserID(c); id != "" {
			entry = entry.WithField("user_id", id)
		}
		if len(c.Errors) > 0 {
			entry.WithField("err", c.Errors.String()).Error("request failed")
			return
		}
		entry.Debug("request")
	}
}
