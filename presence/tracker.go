package presence

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/quickies-app/realtime-backend/model"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

// Defaults taken from the product's tuning; both are configurable and
// validated so a single missed beat can never read as a timeout.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTimeout           = 120 * time.Second
)

type Config struct {
	HeartbeatInterval time.Duration
	Timeout           time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		Timeout:           DefaultTimeout,
	}
}

func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 || c.Timeout <= 0 {
		return errors.New("presence intervals must be positive")
	}
	if c.HeartbeatInterval >= c.Timeout/2 {
		return errors.New("heartbeat interval must be below half the presence timeout")
	}
	return nil
}

// CommitmentRegistry arms a server-side write that fires when the transport
// connection drops, even if the client never says goodbye. Implemented by
// the websocket transport hub.
type CommitmentRegistry interface {
	OnDisconnect(userId string, fn func()) (cancel func(), err error)
}

// Store is the write-only presence sink. Reads flow through live
// subscriptions on the presence collection; GetPresence exists for the lazy
// staleness check.
type Store interface {
	SetPresence(ctx context.Context, p model.UserPresence) error
	GetPresence(ctx context.Context, userId string) (model.UserPresence, error)
}

// Tracker maintains per-user online/offline state with heartbeat and
// disconnect semantics. Staleness is evaluated lazily at read time, never by
// a background sweep.
type Tracker struct {
	store    Store
	registry CommitmentRegistry
	cfg      Config

	mu      sync.Mutex
	cancels map[string]*commitment
}

// commitment identifies one armed disconnect write, so a stale session's
// fired commitment can never evict a newer session's entry.
type commitment struct {
	cancel func()
}

func NewTracker(store Store, registry CommitmentRegistry, cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		store:    store,
		registry: registry,
		cfg:      cfg,
		cancels:  map[string]*commitment{},
	}, nil
}

// Connect registers the user as online and arms the deferred set-offline
// commitment. If the commitment itself cannot be armed, presence silently
// defaults to offline: a false "offline" is acceptable, a false "online"
// forever is not.
func (t *Tracker) Connect(ctx context.Context, userId string) error {
	if err := t.write(ctx, userId, model.PresenceConnecting); err != nil {
		return err
	}

	entry := &commitment{}
	cancel, err := t.registry.OnDisconnect(userId, func() {
		if err := t.write(context.Background(), userId, model.PresenceOffline); err != nil {
			Logger.LogV2.Errorf("disconnect commitment write failed for %s: %v", userId, err)
		}
		// the commitment has fired, forget it without re-invoking cancel.
		// Only this commitment's own entry may be removed: a reconnect may
		// already have replaced it with the new session's.
		t.mu.Lock()
		if t.cancels[userId] == entry {
			delete(t.cancels, userId)
		}
		t.mu.Unlock()
	})
	if err != nil {
		Logger.LogV2.Errorf("cannot arm disconnect commitment for %s, defaulting offline: %v", userId, err)
		return t.write(ctx, userId, model.PresenceOffline)
	}
	entry.cancel = cancel

	t.mu.Lock()
	if prev, ok := t.cancels[userId]; ok {
		// reconnect before the old session was torn down
		prev.cancel()
	}
	t.cancels[userId] = entry
	t.mu.Unlock()

	return t.write(ctx, userId, model.PresenceOnline)
}

// Heartbeat refreshes LastChanged while connected, distinguishing a frozen
// client from one that is connected but idle.
func (t *Tracker) Heartbeat(ctx context.Context, userId string) error {
	return t.write(ctx, userId, model.PresenceOnline)
}

// Disconnect is the explicit clean shutdown: offline immediately, the armed
// commitment cancelled.
func (t *Tracker) Disconnect(ctx context.Context, userId string) error {
	t.dropCancel(userId)
	return t.write(ctx, userId, model.PresenceOffline)
}

// IsActive consults the store once and applies the pure staleness rule.
func (t *Tracker) IsActive(ctx context.Context, userId string) (bool, error) {
	p, err := t.store.GetPresence(ctx, userId)
	if err != nil {
		return false, err
	}
	return Active(p, time.Now(), t.cfg), nil
}

// Active is the pure liveness predicate: online and fresher than the
// timeout. No I/O.
func Active(p model.UserPresence, now time.Time, cfg Config) bool {
	if p.State != model.PresenceOnline {
		return false
	}
	return now.Sub(p.LastChanged) < cfg.Timeout
}

func (t *Tracker) write(ctx context.Context, userId string, state model.PresenceState) error {
	return t.store.SetPresence(ctx, model.UserPresence{
		UserId:      userId,
		State:       state,
		LastChanged: time.Now(),
	})
}

func (t *Tracker) dropCancel(userId string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.cancels[userId]; ok {
		entry.cancel()
		delete(t.cancels, userId)
	}
}
