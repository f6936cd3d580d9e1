package feed

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/store"
	"github.com/quickies-app/realtime-backend/subscription"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

// Pagination window sizing: the consumer starts with InitialWindow items and
// grows by WindowStep each time it signals it reached the window's end. No
// refetch happens on growth; the accumulator is already resident from the
// live watch.
const (
	InitialWindow = 15
	WindowStep    = 15
)

// FollowSource resolves the authors whose posts belong in a user's feed.
type FollowSource interface {
	Following(ctx context.Context, userId string) ([]string, error)
}

// Aggregator builds live feeds: a chunked watch over every followed author
// plus the user themself, merged into one ordered, deduplicated view.
type Aggregator struct {
	mux     *subscription.Multiplexer
	follows FollowSource
}

func NewAggregator(mux *subscription.Multiplexer, follows FollowSource) *Aggregator {
	return &Aggregator{mux: mux, follows: follows}
}

// BuildFeed resolves following(userId) ∪ {userId} and opens the chunked
// watch. An empty following list degrades to the user's own posts, never an
// error. The caller must Close the feed when the session ends.
func (a *Aggregator) BuildFeed(ctx context.Context, userId string) (*Feed, error) {
	following, err := a.follows.Following(ctx, userId)
	if err != nil {
		return nil, errors.Wrap(err, "resolve following")
	}

	authorIds := append([]string{userId}, without(following, userId)...)

	f := &Feed{
		entries: map[string]model.Quickie{},
		window:  InitialWindow,
		out:     make(chan []model.Quickie, 1),
	}
	unsubscribe, err := a.mux.Watch(ctx, store.Query{
		Collection: store.CollectionQuickies,
		Field:      "authorId",
		In:         authorIds,
		Limit:      store.DefaultChunkLimit,
	}, f.apply)
	if err != nil {
		return nil, errors.Wrap(err, "feed watch")
	}
	f.unsubscribe = unsubscribe
	return f, nil
}

// BuildTagStream opens the same live machinery over a set of tags instead of
// authors, serving mentions and topic views. Oversized tag sets chunk the
// same way following lists do.
func (a *Aggregator) BuildTagStream(ctx context.Context, tags []string) (*Feed, error) {
	f := &Feed{
		entries: map[string]model.Quickie{},
		window:  InitialWindow,
		out:     make(chan []model.Quickie, 1),
	}
	unsubscribe, err := a.mux.Watch(ctx, store.Query{
		Collection: store.CollectionQuickies,
		Field:      "tag",
		In:         tags,
		Limit:      store.DefaultChunkLimit,
	}, f.apply)
	if err != nil {
		return nil, errors.Wrap(err, "tag watch")
	}
	f.unsubscribe = unsubscribe
	return f, nil
}

// Feed is a restartable, infinite live sequence. Every underlying change
// re-sorts the accumulator and re-emits the full ordered window, not a
// delta; n is bounded by the pagination window so the re-sort stays cheap.
type Feed struct {
	mu          sync.Mutex
	entries     map[string]model.Quickie
	window      int
	out         chan []model.Quickie
	unsubscribe subscription.Unsubscribe
	closed      bool
}

// Out delivers the current ordered view after every change. A slow consumer
// only ever sees the newest view; intermediate ones are superseded.
func (f *Feed) Out() <-chan []model.Quickie {
	return f.out
}

// Snapshot returns the current window without waiting for a change.
func (f *Feed) Snapshot() []model.Quickie {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view()
}

// ExtendWindow grows the visible window by WindowStep, capped at the
// accumulator size, and re-emits. Called on the consumer's end-of-window
// visibility signal.
func (f *Feed) ExtendWindow() {
	f.mu.Lock()
	f.window += WindowStep
	view := f.view()
	f.mu.Unlock()
	f.emit(view)
}

// Close releases all underlying chunk subscriptions atomically. No view is
// emitted after Close returns.
func (f *Feed) Close() {
	f.unsubscribe()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	close(f.out)
}

// apply is the multiplexer callback: fold one merged changeset into the
// accumulator and re-emit the sorted view. Additions, modifications, and
// removals must all be handled.
func (f *Feed) apply(cs store.Changeset) {
	f.mu.Lock()
	for id, doc := range cs.Added {
		if q, ok := decodeQuickie(doc); ok {
			f.entries[id] = q
		}
	}
	for id, doc := range cs.Modified {
		if q, ok := decodeQuickie(doc); ok {
			f.entries[id] = q
		}
	}
	for id := range cs.Removed {
		delete(f.entries, id)
	}
	view := f.view()
	f.mu.Unlock()
	f.emit(view)
}

// view sorts the accumulator createdAt descending. Posts the server has not
// acknowledged yet (nil CreatedAt) sort to the front, keeping the author's
// optimistic local write on top until the timestamp lands. Ties break
// stably by id.
func (f *Feed) view() []model.Quickie {
	sorted := make([]model.Quickie, 0, len(f.entries))
	for _, q := range f.entries {
		sorted = append(sorted, q)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return Less(sorted[i], sorted[j])
	})

	limit := f.window
	if limit > len(sorted) {
		limit = len(sorted)
	}

	var window []model.Quickie
	if err := copier.CopyWithOption(&window, sorted[:limit], copier.Option{DeepCopy: true}); err != nil {
		Logger.LogV2.Errorf("feed view copy: %v", err)
		return sorted[:limit]
	}
	return window
}

func (f *Feed) emit(view []model.Quickie) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for {
		select {
		case f.out <- view:
			return
		default:
			// drop the superseded view
			select {
			case <-f.out:
			default:
			}
		}
	}
}

// Less orders two posts for the feed: nil CreatedAt first, then CreatedAt
// descending, then id for a stable tie-break.
func Less(a, b model.Quickie) bool {
	switch {
	case a.CreatedAt == nil && b.CreatedAt == nil:
		return a.Id < b.Id
	case a.CreatedAt == nil:
		return true
	case b.CreatedAt == nil:
		return false
	case a.CreatedAt.Equal(*b.CreatedAt):
		return a.Id < b.Id
	default:
		return a.CreatedAt.After(*b.CreatedAt)
	}
}

func decodeQuickie(doc store.Document) (model.Quickie, bool) {
	var q model.Quickie
	if err := json.Unmarshal(doc.Data, &q); err != nil {
		Logger.LogV2.Errorf("dropping undecodable quickie %s: %v", doc.ID, err)
		return model.Quickie{}, false
	}
	return q, true
}

func without(ids []string, exclude string) []string {
	var filtered []string
	for _, id := range ids {
		if id != exclude {
			filtered = append(filtered, id)
		}
	}
	return filtered
}
