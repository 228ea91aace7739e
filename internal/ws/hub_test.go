package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresence struct {
	mu       sync.Mutex
	activity int
	running  bool
	stops    int
	stopGate chan struct{}
}

func (p *fakePresence) Activity() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activity++
}

func (p *fakePresence) Run(ctx context.Context) {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	<-ctx.Done()
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

func (p *fakePresence) Stop(context.Context) {
	p.mu.Lock()
	gate := p.stopGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePresence) snapshot() (activity int, running bool, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activity, p.running, p.stops
}

type fakeFactory struct {
	mu       sync.Mutex
	trackers map[string][]*fakePresence
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{trackers: make(map[string][]*fakePresence)}
}

func (f *fakeFactory) build(userID string) Presence {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePresence{}
	f.trackers[userID] = append(f.trackers[userID], p)
	return p
}

func (f *fakeFactory) of(userID string) []*fakePresence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePresence(nil), f.trackers[userID]...)
}

func TestHubSharesTrackerBetweenSessions(t *testing.T) {
	factory := newFakeFactory()
	hub := NewHub(factory.build, nil)

	first := NewConnection(ConnInfo{ConnID: "c1", UserID: "u1"}, nil)
	second := NewConnection(ConnInfo{ConnID: "c2", UserID: "u1"}, nil)

	p1 := hub.Join(first)
	p2 := hub.Join(second)
	assert.Same(t, p1, p2)
	assert.Equal(t, 2, hub.Sessions("u1"))
	require.Len(t, factory.of("u1"), 1)

	tracker := factory.of("u1")[0]
	require.Eventually(t, func() bool { _, running, _ := tracker.snapshot(); return running }, time.Second, 5*time.Millisecond)

	hub.Leave(first)
	_, _, stops := tracker.snapshot()
	assert.Equal(t, 0, stops, "another session is still open")

	hub.Leave(second)
	_, _, stops = tracker.snapshot()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 0, hub.Sessions("u1"))
	require.Eventually(t, func() bool { _, running, _ := tracker.snapshot(); return !running }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, hub.Drain(ctx))
}

func TestHubDrainWaitsForSessions(t *testing.T) {
	hub := NewHub(newFakeFactory().build, nil)
	conn := NewConnection(ConnInfo{UserID: "u1"}, nil)
	hub.Join(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, hub.Drain(ctx), context.DeadlineExceeded)

	hub.Leave(conn)
	assert.NoError(t, hub.Drain(context.Background()))
}

func TestHubNewTrackerAfterLastLeave(t *testing.T) {
	factory := newFakeFactory()
	hub := NewHub(factory.build, nil)

	conn := NewConnection(ConnInfo{UserID: "u1"}, nil)
	hub.Join(conn)
	hub.Leave(conn)
	hub.Leave(conn)

	hub.Join(NewConnection(ConnInfo{UserID: "u1"}, nil))
	assert.Len(t, factory.of("u1"), 2)
	_, _, stops := factory.of("u1")[0].snapshot()
	assert.Equal(t, 1, stops)
}

func TestHubJoinWaitsForPendingOfflineWrite(t *testing.T) {
	factory := newFakeFactory()
	hub := NewHub(factory.build, nil)

	first := NewConnection(ConnInfo{ConnID: "c1", UserID: "u1"}, nil)
	hub.Join(first)
	old := factory.of("u1")[0]
	gate := make(chan struct{})
	old.mu.Lock()
	old.stopGate = gate
	old.mu.Unlock()

	left := make(chan struct{})
	go func() {
		hub.Leave(first)
		close(left)
	}()
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, pending := hub.stopping["u1"]
		return pending
	}, time.Second, 5*time.Millisecond)

	joined := make(chan Presence)
	go func() { joined <- hub.Join(NewConnection(ConnInfo{ConnID: "c2", UserID: "u1"}, nil)) }()

	select {
	case <-joined:
		t.Fatal("join finished before the offline write")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Len(t, factory.of("u1"), 1)

	close(gate)
	var p Presence
	select {
	case p = <-joined:
	case <-time.After(time.Second):
		t.Fatal("join still blocked after the offline write")
	}
	<-left

	_, _, stops := old.snapshot()
	assert.Equal(t, 1, stops)
	require.Len(t, factory.of("u1"), 2)
	assert.Same(t, factory.of("u1")[1], p)
	assert.Equal(t, 1, hub.Sessions("u1"))
}
