package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/quickies-app/realtime-backend/model"
)

type memoryStore struct {
	mu     sync.Mutex
	states map[string]model.UserPresence
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: map[string]model.UserPresence{}}
}

func (m *memoryStore) SetPresence(_ context.Context, p model.UserPresence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[p.UserId] = p
	return nil
}

func (m *memoryStore) GetPresence(_ context.Context, userId string) (model.UserPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.states[userId]; ok {
		return p, nil
	}
	return model.UserPresence{UserId: userId, State: model.PresenceOffline}, nil
}

type fakeRegistry struct {
	mu          sync.Mutex
	failing     bool
	commitments map[string]func()
	armIds      map[string]int64
	nextArm     int64
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		commitments: map[string]func(){},
		armIds:      map[string]int64{},
	}
}

// OnDisconnect cancels by arm identity, like the transport hub: cancelling a
// superseded commitment never disarms the one that replaced it.
func (r *fakeRegistry) OnDisconnect(userId string, fn func()) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return nil, errors.New("no live session")
	}
	armId := r.nextArm
	r.nextArm++
	r.commitments[userId] = fn
	r.armIds[userId] = armId
	return func() {
		r.mu.Lock()
		if r.armIds[userId] == armId {
			delete(r.commitments, userId)
			delete(r.armIds, userId)
		}
		r.mu.Unlock()
	}, nil
}

func (r *fakeRegistry) current(userId string) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitments[userId]
}

func (r *fakeRegistry) fire(userId string) {
	r.mu.Lock()
	fn, ok := r.commitments[userId]
	delete(r.commitments, userId)
	r.mu.Unlock()
	if ok {
		fn()
	}
}

func (r *fakeRegistry) armed(userId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.commitments[userId]
	return ok
}

func TestActiveIsPureFunctionOfStaleness(t *testing.T) {
	cfg := DefaultConfig()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := model.UserPresence{UserId: "u1", State: model.PresenceOnline, LastChanged: t0}

	// online at t0 with no heartbeat: still active at +60s, stale at +121s
	require.True(t, Active(p, t0.Add(60*time.Second), cfg))
	require.False(t, Active(p, t0.Add(121*time.Second), cfg))

	p.State = model.PresenceOffline
	require.False(t, Active(p, t0.Add(time.Second), cfg))
}

func TestConnectGoesOnlineAndArmsCommitment(t *testing.T) {
	store := newMemoryStore()
	registry := newFakeRegistry()
	tracker, err := NewTracker(store, registry, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, tracker.Connect(context.Background(), "u1"))

	p, err := store.GetPresence(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, model.PresenceOnline, p.State)
	require.True(t, registry.armed("u1"))
}

func TestConnectDefaultsOfflineWhenCommitmentFails(t *testing.T) {
	store := newMemoryStore()
	registry := newFakeRegistry()
	registry.failing = true
	tracker, err := NewTracker(store, registry, DefaultConfig())
	require.NoError(t, err)

	// never crashes the caller: false offline beats false online forever
	require.NoError(t, tracker.Connect(context.Background(), "u1"))

	p, err := store.GetPresence(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, model.PresenceOffline, p.State)
}

func TestTransportFiredCommitmentSetsOffline(t *testing.T) {
	store := newMemoryStore()
	registry := newFakeRegistry()
	tracker, err := NewTracker(store, registry, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, tracker.Connect(context.Background(), "u1"))
	registry.fire("u1")

	p, err := store.GetPresence(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, model.PresenceOffline, p.State)
}

func TestStaleCommitmentDoesNotEvictReconnectedSession(t *testing.T) {
	store := newMemoryStore()
	registry := newFakeRegistry()
	tracker, err := NewTracker(store, registry, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, tracker.Connect(context.Background(), "u1"))
	stale := registry.current("u1")

	// reconnect supersedes the first session before its teardown finishes
	require.NoError(t, tracker.Connect(context.Background(), "u1"))

	// the old session's transport teardown now fires the stale commitment;
	// a stale offline write is tolerated, losing the live session's
	// commitment is not
	stale()
	require.True(t, registry.armed("u1"))

	require.NoError(t, tracker.Heartbeat(context.Background(), "u1"))
	p, err := store.GetPresence(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, model.PresenceOnline, p.State)

	// the tracker still holds the live cancel and can disarm it cleanly
	require.NoError(t, tracker.Disconnect(context.Background(), "u1"))
	require.False(t, registry.armed("u1"))
}

func TestExplicitDisconnectCancelsCommitment(t *testing.T) {
	store := newMemoryStore()
	registry := newFakeRegistry()
	tracker, err := NewTracker(store, registry, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, tracker.Connect(context.Background(), "u1"))
	require.NoError(t, tracker.Disconnect(context.Background(), "u1"))

	require.False(t, registry.armed("u1"))
	p, err := store.GetPresence(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, model.PresenceOffline, p.State)
}

func TestHeartbeatRefreshesLastChanged(t *testing.T) {
	store := newMemoryStore()
	registry := newFakeRegistry()
	tracker, err := NewTracker(store, registry, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, tracker.Connect(context.Background(), "u1"))
	before, _ := store.GetPresence(context.Background(), "u1")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, tracker.Heartbeat(context.Background(), "u1"))

	after, _ := store.GetPresence(context.Background(), "u1")
	require.True(t, after.LastChanged.After(before.LastChanged))
}

func TestConfigRejectsLazyHeartbeat(t *testing.T) {
	cfg := Config{HeartbeatInterval: 70 * time.Second, Timeout: 120 * time.Second}
	require.Error(t, cfg.Validate())

	_, err := NewTracker(newMemoryStore(), newFakeRegistry(), cfg)
	require.Error(t, err)
}
