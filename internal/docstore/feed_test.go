package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/models"
)

func countingEval(calls *atomic.Int32) EvalFunc {
	return func(ctx context.Context, q Query) (Result, error) {
		n := calls.Add(1)
		return Result{Query: q, Users: make([]models.User, n)}, nil
	}
}

func TestChangeAffects(t *testing.T) {
	cases := []struct {
		name   string
		change Change
		query  Query
		want   bool
	}{
		{"same user", Change{CollectionUsers, "a"}, UserDoc("a"), true},
		{"other user", Change{CollectionUsers, "b"}, UserDoc("a"), false},
		{"listed users", Change{CollectionUsers, "b"}, UsersListedBy("a", models.FieldFriends), true},
		{"chat list", Change{CollectionChats, "c1"}, ChatsOf("a"), true},
		{"chat vs user", Change{CollectionChats, "c1"}, UserDoc("a"), false},
		{"messages same chat", Change{CollectionMessages, "c1"}, MessagesOf("c1"), true},
		{"messages other chat", Change{CollectionMessages, "c2"}, MessagesOf("c1"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.change.Affects(tc.query))
		})
	}
}

func TestFeedDeliversInitialResult(t *testing.T) {
	var calls atomic.Int32
	f := NewFeed(countingEval(&calls), nil)
	defer f.Close()

	got := make(chan Result, 1)
	unsub := f.Watch(UserDoc("a"), func(r Result) { got <- r }, nil)
	defer unsub()

	select {
	case r := <-got:
		assert.Equal(t, UserDoc("a"), r.Query)
	case <-time.After(time.Second):
		t.Fatal("no initial result")
	}
	assert.Equal(t, 1, f.Len())
}

func TestFeedNotifyOnlyAffectedWatchers(t *testing.T) {
	var calls atomic.Int32
	f := NewFeed(countingEval(&calls), nil)
	defer f.Close()

	var userHits, msgHits atomic.Int32
	u1 := f.Watch(UserDoc("a"), func(Result) { userHits.Add(1) }, nil)
	u2 := f.Watch(MessagesOf("c1"), func(Result) { msgHits.Add(1) }, nil)
	defer u1()
	defer u2()

	require.Eventually(t, func() bool { return userHits.Load() == 1 && msgHits.Load() == 1 }, time.Second, 5*time.Millisecond)

	f.Notify(Change{Collection: CollectionMessages, Key: "c1"})
	require.Eventually(t, func() bool { return msgHits.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), userHits.Load())
}

func TestFeedReportsEvaluationErrors(t *testing.T) {
	boom := errors.New("boom")
	f := NewFeed(func(ctx context.Context, q Query) (Result, error) {
		return Result{}, boom
	}, nil)
	defer f.Close()

	errs := make(chan error, 1)
	unsub := f.Watch(ChatsOf("a"), func(Result) { t.Error("unexpected data") }, func(err error) { errs <- err })
	defer unsub()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("no error delivered")
	}
}

func TestFeedNoCallbackAfterUnsubscribe(t *testing.T) {
	var calls atomic.Int32
	f := NewFeed(countingEval(&calls), nil)
	defer f.Close()

	var mu sync.Mutex
	stopped := false
	var late atomic.Bool
	unsub := f.Watch(ChatsOf("a"), func(Result) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			late.Store(true)
		}
	}, nil)

	for i := 0; i < 50; i++ {
		f.Notify(Change{Collection: CollectionChats, Key: "c"})
	}
	unsub()
	mu.Lock()
	stopped = true
	mu.Unlock()

	for i := 0; i < 10; i++ {
		f.Notify(Change{Collection: CollectionChats, Key: "c"})
	}
	time.Sleep(20 * time.Millisecond)
	assert.False(t, late.Load())
	assert.Equal(t, 0, f.Len())

	// idempotent
	unsub()
}

func TestFeedCloseStopsWatchers(t *testing.T) {
	var calls atomic.Int32
	f := NewFeed(countingEval(&calls), nil)
	unsub := f.Watch(UserDoc("a"), func(Result) {}, nil)

	f.Close()
	assert.Equal(t, 0, f.Len())
	unsub()

	errs := make(chan error, 1)
	f.Watch(UserDoc("a"), nil, func(err error) { errs <- err })
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("closed feed accepted a watcher")
	}
}
