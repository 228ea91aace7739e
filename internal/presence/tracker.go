// Package presence derives a user's online/away status from activity and
// persists status changes to the user record.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chatsync/internal/cache"
	"chatsync/internal/models"
	"chatsync/internal/observability"
)

const (
	DefaultInterval      = 30 * time.Second
	DefaultIdleThreshold = 5 * time.Minute
)

// Clock reads the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Writer persists presence fields.
type Writer interface {
	UpdatePresence(ctx context.Context, id string, status models.Status, lastSeen time.Time) error
}

// Tracker is the presence state machine of one session.
type Tracker struct {
	userID   string
	writer   Writer
	cache    cache.Cache
	clock    Clock
	interval time.Duration
	idle     time.Duration
	log      *logrus.Entry

	mu          sync.Mutex
	lastActive  time.Time
	lastWritten models.Status

	stopOnce sync.Once
	stopped  chan struct{}
}

type Option func(*Tracker)

func WithClock(c Clock) Option { return func(t *Tracker) { t.clock = c } }

func WithCache(c cache.Cache) Option { return func(t *Tracker) { t.cache = c } }

func WithLogger(l *logrus.Entry) Option { return func(t *Tracker) { t.log = l } }

func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithIdleThreshold(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.idle = d
		}
	}
}

// NewTracker creates a tracker for userID. Creation counts as activity.
func NewTracker(userID string, w Writer, opts ...Option) *Tracker {
	t := &Tracker{
		userID:   userID,
		writer:   w,
		clock:    systemClock{},
		interval: DefaultInterval,
		idle:     DefaultIdleThreshold,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.WithFields(logrus.Fields{"component": "presence", "user_id": userID})
	t.lastActive = t.clock.Now()
	return t
}

// CacheKey is where the last written status of userID is mirrored.
func CacheKey(userID string) string {
	return "presence:last:" + userID
}

// Activity records user input.
func (t *Tracker) Activity() {
	now := t.clock.Now()
	t.mu.Lock()
	if now.After(t.lastActive) {
		t.lastActive = now
	}
	t.mu.Unlock()
}

// Status evaluates the status at the current time.
func (t *Tracker) Status() models.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(t.clock.Now())
}

func (t *Tracker) statusLocked(now time.Time) models.Status {
	if now.Sub(t.lastActive) > t.idle {
		return models.StatusAway
	}
	return models.StatusOnline
}

// Tick evaluates the status and writes it when it differs from the last
// written one. Failed writes are not remembered, so the next tick retries.
// Until the tracker has written once itself, the last status is read from the
// cache mirror on every tick, so an offline write by another tracker of the
// same user is noticed and overwritten.
func (t *Tracker) Tick(ctx context.Context) {
	select {
	case <-t.stopped:
		return
	default:
	}

	now := t.clock.Now()
	t.mu.Lock()
	status := t.statusLocked(now)
	lastSeen := now
	if status != models.StatusOnline {
		lastSeen = t.lastActive
	}
	last := t.lastWritten
	t.mu.Unlock()

	if last == "" {
		if status == t.cached(ctx) {
			return
		}
	} else if status == last {
		return
	}
	t.write(ctx, status, lastSeen)
}

// Run ticks every interval until ctx is canceled or Stop is called. The
// first tick happens immediately.
func (t *Tracker) Run(ctx context.Context) {
	t.Tick(ctx)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopped:
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Stop ends Run and writes offline regardless of the last written status.
func (t *Tracker) Stop(ctx context.Context) {
	t.stopOnce.Do(func() { close(t.stopped) })
	t.mu.Lock()
	lastSeen := t.lastActive
	t.mu.Unlock()
	t.write(ctx, models.StatusOffline, lastSeen)
}

func (t *Tracker) write(ctx context.Context, status models.Status, lastSeen time.Time) {
	if err := t.writer.UpdatePresence(ctx, t.userID, status, lastSeen); err != nil {
		observability.IncPresenceWrite(string(status), "error")
		t.log.WithError(err).WithField("status", status).Debug("presence write failed")
		return
	}
	observability.IncPresenceWrite(string(status), "ok")
	t.remember(ctx, status)
}

func (t *Tracker) remember(ctx context.Context, status models.Status) {
	t.mu.Lock()
	t.lastWritten = status
	t.mu.Unlock()
	if t.cache == nil {
		return
	}
	if err := t.cache.Set(ctx, CacheKey(t.userID), string(status), t.idle); err != nil {
		t.log.WithError(err).Debug("presence cache write failed")
	}
}

func (t *Tracker) cached(ctx context.Context) models.Status {
	if t.cache == nil {
		return ""
	}
	v, err := t.cache.Get(ctx, CacheKey(t.userID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			t.log.WithError(err).Debug("presence cache read failed")
		}
		return ""
	}
	status := models.Status(v)
	if !status.Valid() {
		return ""
	}
	return status
}
