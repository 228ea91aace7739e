package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"chatsync/internal/presence"
)

const offlineWriteTimeout = 5 * time.Second

// Presence is the part of a presence tracker a session drives.
type Presence interface {
	Activity()
	Run(ctx context.Context)
	Stop(ctx context.Context)
}

// TrackerFactory builds the presence tracker of a user.
type TrackerFactory func(userID string) Presence

// NewTrackerFactory adapts presence.NewTracker.
func NewTrackerFactory(w presence.Writer, opts ...presence.Option) TrackerFactory {
	return func(userID string) Presence {
		return presence.NewTracker(userID, w, opts...)
	}
}

type userSessions struct {
	conns   map[*Connection]struct{}
	tracker Presence
	cancel  context.CancelFunc
}

// Hub maintains the open sync sessions per user. All sessions of a user share
// one presence tracker; it is started by the first session and stopped,
// writing offline, when the last one leaves.
type Hub struct {
	newTracker TrackerFactory
	log        *logrus.Entry

	mu       sync.Mutex
	users    map[string]*userSessions
	stopping map[string]chan struct{}
	open     sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(newTracker TrackerFactory, log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		newTracker: newTracker,
		log:        log.WithField("component", "ws_hub"),
		users:      make(map[string]*userSessions),
		stopping:   make(map[string]chan struct{}),
	}
}

// Join registers conn and returns the user's presence tracker. While the
// previous tracker of the user is still writing offline, Join waits for it so
// the new tracker's online write lands last.
func (h *Hub) Join(conn *Connection) Presence {
	userID := conn.Info.UserID
	h.mu.Lock()
	for {
		if _, ok := h.users[userID]; ok {
			break
		}
		done, ok := h.stopping[userID]
		if !ok {
			break
		}
		h.mu.Unlock()
		<-done
		h.mu.Lock()
	}
	defer h.mu.Unlock()
	us, ok := h.users[userID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		us = &userSessions{
			conns:   make(map[*Connection]struct{}),
			tracker: h.newTracker(userID),
			cancel:  cancel,
		}
		h.users[userID] = us
		go us.tracker.Run(ctx)
	}
	if _, dup := us.conns[conn]; !dup {
		us.conns[conn] = struct{}{}
		h.open.Add(1)
	}
	return us.tracker
}

// Leave removes conn. When it was the user's last session the tracker is
// stopped and the user is written offline.
func (h *Hub) Leave(conn *Connection) {
	userID := conn.Info.UserID
	h.mu.Lock()
	us, ok := h.users[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := us.conns[conn]; !ok {
		h.mu.Unlock()
		return
	}
	defer h.open.Done()
	delete(us.conns, conn)
	if len(us.conns) > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.users, userID)
	done := make(chan struct{})
	h.stopping[userID] = done
	h.mu.Unlock()

	us.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), offlineWriteTimeout)
	us.tracker.Stop(ctx)
	cancel()

	h.mu.Lock()
	if h.stopping[userID] == done {
		delete(h.stopping, userID)
	}
	h.mu.Unlock()
	close(done)
	h.log.WithField("user_id", userID).Debug("last session left")
}

// Sessions returns the number of open sessions of userID.
func (h *Hub) Sessions(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if us, ok := h.users[userID]; ok {
		return len(us.conns)
	}
	return 0
}

// CloseAll disconnects every session. Their read loops then leave the hub.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0)
	for _, us := range h.users {
		for c := range us.conns {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

// Drain waits until every session has left or ctx is done.
func (h *Hub) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.open.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
