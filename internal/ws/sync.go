package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chatsync/internal/apperrors"
	"chatsync/internal/docstore"
	"chatsync/internal/middleware"
	"chatsync/internal/models"
	"chatsync/internal/observability"
	"chatsync/internal/realtime"
	"chatsync/internal/telemetry"
)

const wsKind = "sync"

// ChatAccess is what a sync session needs from the chat store.
type ChatAccess interface {
	EnsureParticipant(ctx context.Context, chatID, userID string) (models.Chat, error)
	MarkRead(ctx context.Context, chatID, userID string) error
}

// SyncHandler serves GET /ws/sync. Each connection gets its own realtime
// store streaming snapshot events and a lazily opened message listener.
type SyncHandler struct {
	auth     *middleware.Authenticator
	watcher  docstore.Watcher
	chats    ChatAccess
	hub      *Hub
	events   *telemetry.EventEmitter
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

func NewSyncHandler(auth *middleware.Authenticator, watcher docstore.Watcher, chats ChatAccess, hub *Hub, events *telemetry.EventEmitter, log *logrus.Entry) *SyncHandler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SyncHandler{
		auth:    auth,
		watcher: watcher,
		chats:   chats,
		hub:     hub,
		events:  events,
		log:     log.WithField("component", "ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates, upgrades and starts the session.
func (h *SyncHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chatsync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if token == "" {
		token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
	}
	userID, expiresAt, err := h.auth.Validate(token)
	if err != nil {
		span.SetStatus(codes.Error, "invalid token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	span.SetAttributes(attribute.String("user_id", userID))

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromContext(ctx),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	conn := NewConnection(info, wsConn)
	conn.Start()

	// the session outlives the request; keep only the request id
	sessCtx := observability.WithRequestID(context.Background(), info.RequestID)
	s := &session{
		h:       h,
		conn:    conn,
		ctx:     sessCtx,
		log:     h.log.WithFields(logrus.Fields{"user_id": userID, "conn_id": info.ConnID}),
		expires: expiresAt,
	}
	s.start()
	go s.readLoop()
}

type session struct {
	h       *SyncHandler
	conn    *Connection
	ctx     context.Context
	log     *logrus.Entry
	expires time.Time

	presence   Presence
	store      *realtime.Store
	view       *realtime.ChatView
	unsub      docstore.Unsubscribe
	stopNotify func()
	expiry     *time.Timer
}

func (s *session) start() {
	userID := s.conn.Info.UserID
	observability.IncWSActive(wsKind)
	observability.IncWSEvent(wsKind, "ws_connect")
	s.h.events.Emit(s.ctx, telemetry.EventWSConnected, userID, "", s.conn.Info.attrs(""))

	s.presence = s.h.hub.Join(s.conn)
	s.store = realtime.NewStore(s.h.watcher, s.log)
	s.stopNotify = s.store.OnChange(func(snap models.Snapshot) {
		s.send(models.SyncEvent{Type: models.EventSnapshot, Snapshot: &snap})
	})
	s.view = realtime.NewChatView(s.store,
		func(chatID string, msgs []models.Message) {
			if msgs == nil {
				msgs = []models.Message{}
			}
			s.send(models.SyncEvent{Type: models.EventMessages, ChatID: chatID, Messages: msgs})
		},
		func(chatID string, err error) {
			s.log.WithError(err).WithField("chat_id", chatID).Warn("message listener failed")
			s.send(models.SyncEvent{Type: models.EventError, ChatID: chatID, Error: apperrors.ResultOf(apperrors.FromStore(err)).Error})
		},
	)
	s.unsub = s.store.SubscribeToAllData(userID)
	s.expiry = time.AfterFunc(time.Until(s.expires), func() {
		s.conn.Close(closeTokenGone, "token expired")
	})
}

func (s *session) send(ev models.SyncEvent) {
	if err := s.conn.SendJSON(ev); err != nil {
		s.log.WithError(err).Debug("sync event dropped")
		return
	}
	observability.IncWSEvent(wsKind, ev.Type)
}

func (s *session) readLoop() {
	var reason string
	defer func() { s.finish(reason) }()

	s.conn.prepareRead()
	for {
		_, data, err := s.conn.ws.ReadMessage()
		if err != nil {
			reason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, closeTokenGone) {
				observability.IncWSEvent(wsKind, "ws_error")
			}
			return
		}
		var frame models.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.send(models.SyncEvent{Type: models.EventError, Error: "malformed frame"})
			continue
		}
		s.handle(frame)
	}
}

func (s *session) handle(frame models.ClientFrame) {
	userID := s.conn.Info.UserID
	observability.IncWSEvent(wsKind, "frame_"+frame.Type)
	switch frame.Type {
	case models.FrameActivity:
		s.presence.Activity()
	case models.FrameViewChat:
		s.presence.Activity()
		if _, err := s.h.chats.EnsureParticipant(s.ctx, frame.ChatID, userID); err != nil {
			s.send(models.SyncEvent{Type: models.EventError, ChatID: frame.ChatID, Error: apperrors.ResultOf(err).Error})
			return
		}
		if err := s.h.chats.MarkRead(s.ctx, frame.ChatID, userID); err != nil {
			s.log.WithError(err).WithField("chat_id", frame.ChatID).Debug("mark read failed")
		}
		s.view.Open(frame.ChatID)
	case models.FrameCloseChat:
		s.view.Close()
	default:
		s.send(models.SyncEvent{Type: models.EventError, Error: "unknown frame type"})
	}
}

func (s *session) finish(reason string) {
	s.expiry.Stop()
	s.view.Close()
	s.stopNotify()
	s.unsub()
	s.conn.Close(websocket.CloseNormalClosure, "")
	s.h.hub.Leave(s.conn)

	observability.DecWSActive(wsKind)
	observability.IncWSEvent(wsKind, "ws_disconnect")
	s.h.events.Emit(s.ctx, telemetry.EventWSDisconnected, s.conn.Info.UserID, "", s.conn.Info.attrs(reason))
	s.log.WithField("reason", reason).Debug("sync session closed")
}
