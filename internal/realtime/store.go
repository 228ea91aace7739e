// Package realtime multiplexes the live queries of one signed-in user into a
// single aggregated snapshot.
package realtime

import (
	"sync"

	"github.com/sirupsen/logrus"

	"chatsync/internal/docstore"
	"chatsync/internal/ledger"
	"chatsync/internal/models"
)

type stream int

const (
	streamProfile stream = iota
	streamFriends
	streamChats
	streamReceived
	streamSent
	streamBlocked
	streamCount
)

var streamNames = [streamCount]string{"profile", "friends", "chats", "received_requests", "sent_requests", "blocked"}

func (st stream) String() string { return streamNames[st] }

// Store holds the aggregated view of one user. Only its own stream callbacks
// write to it. Listeners registered with OnChange run one at a time, in
// emission order, and may call Snapshot but must not tear the subscription
// down from inside the callback.
type Store struct {
	watcher docstore.Watcher
	log     *logrus.Entry

	// emitMu orders apply+notify so listeners see snapshots in sequence.
	emitMu sync.Mutex

	mu         sync.Mutex
	subscribed bool
	gen        uint64
	userID     string
	unsubs     []docstore.Unsubscribe
	ready      [streamCount]bool
	errs       [streamCount]error

	profile  *models.User
	friends  []models.User
	chats    []models.Chat
	received []models.User
	sent     []models.User
	blocked  []models.User
	snap     models.Snapshot

	listeners    map[uint64]func(models.Snapshot)
	nextListener uint64
}

// NewStore creates an unsubscribed store in the loading state.
func NewStore(w docstore.Watcher, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		watcher:   w,
		log:       log.WithField("component", "realtime"),
		snap:      initialSnapshot(),
		listeners: make(map[uint64]func(models.Snapshot)),
	}
}

func initialSnapshot() models.Snapshot {
	return models.Snapshot{
		Friends:          []models.User{},
		Chats:            []models.Chat{},
		SentRequests:     []models.User{},
		ReceivedRequests: []models.User{},
		BlockedUsers:     []models.User{},
		Loading:          true,
	}
}

// SubscribeToAllData opens the six live queries of userID. While a
// subscription is active further calls do nothing and return a no-op
// unsubscribe. The returned function stops every listener before it returns
// and resets the store so a new subscription can be opened.
func (s *Store) SubscribeToAllData(userID string) docstore.Unsubscribe {
	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		s.log.WithField("user_id", userID).Debug("already subscribed")
		return func() {}
	}
	s.subscribed = true
	s.gen++
	gen := s.gen
	s.userID = userID
	s.resetLocked()
	s.mu.Unlock()

	queries := [streamCount]docstore.Query{
		streamProfile:  docstore.UserDoc(userID),
		streamFriends:  docstore.UsersListedBy(userID, models.FieldFriends),
		streamChats:    docstore.ChatsOf(userID),
		streamReceived: docstore.UsersListedBy(userID, models.FieldReceivedRequests),
		streamSent:     docstore.UsersListedBy(userID, models.FieldSentRequests),
		streamBlocked:  docstore.UsersListedBy(userID, models.FieldBlocked),
	}
	unsubs := make([]docstore.Unsubscribe, 0, streamCount)
	for i, q := range queries {
		st := stream(i)
		unsubs = append(unsubs, s.watcher.Watch(q,
			func(res docstore.Result) { s.apply(gen, st, res) },
			func(err error) { s.fail(gen, st, err) },
		))
	}

	s.mu.Lock()
	if s.gen != gen {
		// torn down while the listeners were being opened
		s.mu.Unlock()
		for _, u := range unsubs {
			u()
		}
		return func() {}
	}
	s.unsubs = unsubs
	s.mu.Unlock()

	s.log.WithField("user_id", userID).Debug("subscribed")
	var once sync.Once
	return func() { once.Do(func() { s.teardown(gen) }) }
}

func (s *Store) teardown(gen uint64) {
	s.mu.Lock()
	if !s.subscribed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.subscribed = false
	unsubs := s.unsubs
	s.unsubs = nil
	userID := s.userID
	s.userID = ""
	s.resetLocked()
	s.mu.Unlock()

	// callbacks may be in flight and need s.mu, so stop them unlocked
	for _, u := range unsubs {
		u()
	}
	s.log.WithField("user_id", userID).Debug("unsubscribed")
}

func (s *Store) resetLocked() {
	s.ready = [streamCount]bool{}
	s.errs = [streamCount]error{}
	s.profile = nil
	s.friends, s.chats, s.received, s.sent, s.blocked = nil, nil, nil, nil, nil
	s.snap = initialSnapshot()
}

func (s *Store) apply(gen uint64, st stream, res docstore.Result) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	switch st {
	case streamProfile:
		s.profile = res.User
	case streamFriends:
		s.friends = res.Users
	case streamChats:
		s.chats = res.Chats
	case streamReceived:
		s.received = res.Users
	case streamSent:
		s.sent = res.Users
	case streamBlocked:
		s.blocked = res.Users
	}
	s.ready[st] = true
	s.errs[st] = nil
	s.rebuildLocked()
	snap, listeners := s.snap.Clone(), s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// fail records a stream error. Data already delivered stays in place.
func (s *Store) fail(gen uint64, st stream, err error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.errs[st] = err
	s.log.WithError(err).WithFields(logrus.Fields{"user_id": s.userID, "stream": st.String()}).Warn("stream error")
	s.rebuildLocked()
	snap, listeners := s.snap.Clone(), s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (s *Store) rebuildLocked() {
	me := s.userID
	blockedIDs := make(map[string]struct{})
	for _, u := range s.blocked {
		blockedIDs[u.ID] = struct{}{}
	}
	if s.profile != nil {
		for _, id := range s.profile.Blocked {
			blockedIDs[id] = struct{}{}
		}
	}
	visible := func(u models.User) bool {
		_, hidden := blockedIDs[u.ID]
		return !hidden && !ledger.Contains(u, models.FieldBlocked, me)
	}

	snap := models.Snapshot{
		Friends:          []models.User{},
		SentRequests:     []models.User{},
		ReceivedRequests: []models.User{},
		BlockedUsers:     []models.User{},
		Chats:            []models.Chat{},
	}
	for _, u := range s.friends {
		if visible(u) && ledger.Contains(u, models.FieldFriends, me) {
			snap.Friends = append(snap.Friends, u.PublicProfile())
		}
	}
	for _, u := range s.sent {
		if visible(u) && ledger.Contains(u, models.FieldReceivedRequests, me) {
			snap.SentRequests = append(snap.SentRequests, u.PublicProfile())
		}
	}
	for _, u := range s.received {
		if visible(u) && ledger.Contains(u, models.FieldSentRequests, me) {
			snap.ReceivedRequests = append(snap.ReceivedRequests, u.PublicProfile())
		}
	}
	for _, u := range s.blocked {
		snap.BlockedUsers = append(snap.BlockedUsers, u.PublicProfile())
	}
	for _, c := range s.chats {
		snap.Chats = append(snap.Chats, c.Clone())
	}
	if s.profile != nil {
		p := s.profile.Clone()
		snap.Profile = &p
	}

	snap.Loading = false
	for _, r := range s.ready {
		if !r {
			snap.Loading = true
			break
		}
	}
	for _, err := range s.errs {
		if err != nil {
			snap.Error = err.Error()
			break
		}
	}
	s.snap = snap
}

func (s *Store) listenersLocked() []func(models.Snapshot) {
	out := make([]func(models.Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

// Snapshot returns a copy of the current aggregated view.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Subscribed reports whether SubscribeToAllData is active.
func (s *Store) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// OnChange registers fn to receive every new snapshot and returns a function
// removing it.
func (s *Store) OnChange(fn func(models.Snapshot)) func() {
	s.mu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SubscribeToMessages opens a live query over the messages of chatID.
func (s *Store) SubscribeToMessages(chatID string, onData func([]models.Message), onError func(error)) docstore.Unsubscribe {
	return s.watcher.Watch(docstore.MessagesOf(chatID),
		func(res docstore.Result) {
			if onData != nil {
				onData(res.Messages)
			}
		},
		onError,
	)
}
