package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chatsync/internal/observability"
)

// Collections named in change notifications.
const (
	CollectionUsers    = "users"
	CollectionChats    = "chats"
	CollectionMessages = "messages"
)

// Change identifies a committed write. For messages Key is the chat id.
type Change struct {
	Collection string
	Key        string
}

// Affects reports whether q may observe a different result after c.
func (c Change) Affects(q Query) bool {
	switch c.Collection {
	case CollectionUsers:
		switch q.Kind {
		case QueryUser:
			return q.ID == c.Key
		case QueryUsersListedBy:
			return true
		}
	case CollectionChats:
		return q.Kind == QueryChatsOf
	case CollectionMessages:
		return q.Kind == QueryMessagesOf && q.ID == c.Key
	}
	return false
}

// EvalFunc computes the current result of a query.
type EvalFunc func(ctx context.Context, q Query) (Result, error)

const evalTimeout = 10 * time.Second

// Feed runs live queries for a store. Each listener owns a goroutine that
// re-evaluates its query when poked; pokes coalesce, so a burst of commits
// yields at least one emission that reflects the latest state, and emissions
// of one listener are delivered in order.
type Feed struct {
	eval EvalFunc
	log  *logrus.Entry

	mu       sync.Mutex
	watchers map[uint64]*watcher
	nextID   uint64
	closed   bool
}

type watcher struct {
	query   Query
	onData  func(Result)
	onError func(error)
	poke    chan struct{}
	done    chan struct{}
	exited  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewFeed builds a Feed evaluating queries with eval.
func NewFeed(eval EvalFunc, log *logrus.Entry) *Feed {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Feed{
		eval:     eval,
		log:      log.WithField("component", "docstore.feed"),
		watchers: make(map[uint64]*watcher),
	}
}

// Watch registers a listener. The current result is delivered as soon as it
// has been evaluated, then again after every relevant change.
func (f *Feed) Watch(q Query, onData func(Result), onError func(error)) Unsubscribe {
	w := &watcher{
		query:   q,
		onData:  onData,
		onError: onError,
		poke:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		w.cancel()
		if onError != nil {
			go onError(ErrClosed)
		}
		return func() {}
	}
	f.nextID++
	id := f.nextID
	f.watchers[id] = w
	f.mu.Unlock()

	observability.IncLiveListeners()
	w.poke <- struct{}{}
	go w.run(f.eval, f.log)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			_, live := f.watchers[id]
			delete(f.watchers, id)
			f.mu.Unlock()
			// Close may have stopped it already
			if live {
				w.stop()
			}
		})
	}
}

// Notify pokes every listener whose query may be affected by c.
func (f *Feed) Notify(changes ...Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.watchers {
		for _, c := range changes {
			if c.Affects(w.query) {
				w.wake()
				break
			}
		}
	}
}

// NotifyAll pokes every listener, used when changes may have been missed.
func (f *Feed) NotifyAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.watchers {
		w.wake()
	}
}

// Len returns the number of open listeners.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

// Close stops every listener. Later Watch calls report ErrClosed.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	watchers := make([]*watcher, 0, len(f.watchers))
	for id, w := range f.watchers {
		watchers = append(watchers, w)
		delete(f.watchers, id)
	}
	f.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
}

func (w *watcher) wake() {
	select {
	case w.poke <- struct{}{}:
	default:
	}
}

func (w *watcher) stop() {
	close(w.done)
	w.cancel()
	<-w.exited
	observability.DecLiveListeners()
}

func (w *watcher) run(eval EvalFunc, log *logrus.Entry) {
	defer close(w.exited)
	for {
		select {
		case <-w.done:
			return
		case <-w.poke:
		}

		ctx, cancel := context.WithTimeout(w.ctx, evalTimeout)
		res, err := eval(ctx, w.query)
		cancel()

		select {
		case <-w.done:
			return
		default:
		}

		if err != nil {
			log.WithError(err).WithField("query", w.query.String()).Warn("live query evaluation failed")
			if w.onError != nil {
				w.onError(err)
			}
			continue
		}
		if w.onData != nil {
			w.onData(res)
		}
	}
}
