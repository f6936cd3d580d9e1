package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/quickies-app/realtime-backend/store"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

const (
	// DefaultCoalesceWindow bounds how long observed events are batched
	// before the merged changeset is delivered to the caller.
	DefaultCoalesceWindow = 25 * time.Millisecond

	retryBaseBackoff = 100 * time.Millisecond
	retryMaxBackoff  = 5 * time.Second

	mergeBufferSize = 256
)

// OnChange receives one merged changeset per delivery. All three categories
// may be populated; no ordering is guaranteed across chunks.
type OnChange func(store.Changeset)

// Unsubscribe tears down every underlying chunk subscription atomically and
// blocks until no further callback can fire.
type Unsubscribe func()

// Multiplexer manages many concurrent live-query registrations against the
// backend's 10-item membership-query limit. An oversized query is split into
// ceil(n/10) chunk subscriptions whose changesets are merged into one logical
// stream, deduplicated by document id, preferring the most recent write.
type Multiplexer struct {
	watcher        store.Watcher
	coalesceWindow time.Duration
}

func NewMultiplexer(w store.Watcher) *Multiplexer {
	return &Multiplexer{watcher: w, coalesceWindow: DefaultCoalesceWindow}
}

// NewMultiplexerWithWindow is used by tests that need a tighter delivery
// cadence than the default.
func NewMultiplexerWithWindow(w store.Watcher, window time.Duration) *Multiplexer {
	return &Multiplexer{watcher: w, coalesceWindow: window}
}

// Watch registers a live query. onChange is invoked serially, one merged
// changeset at a time, starting with the initial snapshot delivered as
// additions. The returned Unsubscribe releases every chunk.
func (m *Multiplexer) Watch(ctx context.Context, q store.Query, onChange OnChange) (Unsubscribe, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	merged := make(chan store.DocEvent, mergeBufferSize)
	var chunkWg sync.WaitGroup
	for _, chunk := range q.Chunk() {
		chunkWg.Add(1)
		go func(c store.Query) {
			defer chunkWg.Done()
			m.runChunk(watchCtx, c, merged)
		}(chunk)
	}

	// merged closes once every chunk has wound down, which releases the
	// merge loop below.
	go func() {
		chunkWg.Wait()
		close(merged)
	}()

	done := make(chan struct{})
	go m.mergeLoop(watchCtx, merged, onChange, done)

	return func() {
		cancel()
		<-done
	}, nil
}

// runChunk drives one chunk subscription: subscribe to the event stream
// first, then snapshot, so no write is lost in between. Duplicate
// observations are harmless, dedup happens in the merge. A failed chunk is
// retried with backoff on its own; sibling chunks keep delivering.
func (m *Multiplexer) runChunk(ctx context.Context, q store.Query, merged chan<- store.DocEvent) {
	backoff := retryBaseBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		events, err := m.watcher.Events(ctx, q.Collection)
		if err != nil {
			Logger.LogV2.Errorf("chunk subscribe failed on %s, retrying: %v", q.Collection, err)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		snapshot, err := m.watcher.Snapshot(ctx, q)
		if err != nil {
			Logger.LogV2.Errorf("chunk snapshot failed on %s/%s, retrying: %v", q.Collection, q.Field, err)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = retryBaseBackoff

		for _, doc := range snapshot {
			if !forward(ctx, merged, store.DocEvent{Kind: store.ChangeAdded, Collection: q.Collection, Doc: doc}) {
				return
			}
		}

		streamClosed := false
		for !streamClosed {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					streamClosed = true
					break
				}
				if !q.Matches(ev.Doc.Fields) {
					continue
				}
				if !forward(ctx, merged, ev) {
					return
				}
			}
		}

		// stream closed while the watch is still live: transient, resync
		// this chunk from a fresh snapshot
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// mergeLoop folds chunk events into one changeset per coalesce window and
// delivers it. Closing done guarantees no callback fires after Unsubscribe
// returns.
func (m *Multiplexer) mergeLoop(ctx context.Context, merged <-chan store.DocEvent, onChange OnChange, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.coalesceWindow)
	defer ticker.Stop()

	pending := store.NewChangeset()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-merged:
			if !ok {
				return
			}
			pending.Apply(ev)
		case <-ticker.C:
			if pending.Empty() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			onChange(pending)
			pending = store.NewChangeset()
		}
	}
}

func forward(ctx context.Context, merged chan<- store.DocEvent, ev store.DocEvent) bool {
	select {
	case merged <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > retryMaxBackoff {
		return retryMaxBackoff
	}
	return next
}
