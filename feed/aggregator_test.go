package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/store"
	"github.com/quickies-app/realtime-backend/subscription"
)

const (
	testCoalesceWindow = 5 * time.Millisecond
	convergeTimeout    = 2 * time.Second
)

type fakeFollows struct {
	following map[string][]string
}

func (f *fakeFollows) Following(_ context.Context, userId string) ([]string, error) {
	return f.following[userId], nil
}

type fakeWatcher struct {
	mu   sync.Mutex
	docs []store.Document
	subs []chan store.DocEvent
}

func (f *fakeWatcher) Snapshot(_ context.Context, q store.Query) ([]store.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []store.Document
	for _, doc := range f.docs {
		if q.Matches(doc.Fields) {
			matched = append(matched, doc)
		}
	}
	return matched, nil
}

func (f *fakeWatcher) Events(ctx context.Context, _ string) (<-chan store.DocEvent, error) {
	ch := make(chan store.DocEvent, 64)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeWatcher) emit(kind store.ChangeKind, q model.Quickie) {
	doc, _ := store.QuickieDocument(q)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- store.DocEvent{Kind: kind, Collection: store.CollectionQuickies, Doc: doc}
	}
}

func quickieAt(id, authorId string, at *time.Time) model.Quickie {
	return model.Quickie{Id: id, AuthorId: authorId, CreatedAt: at, UpdatedAt: time.Now()}
}

func storedDoc(q model.Quickie) store.Document {
	doc, _ := store.QuickieDocument(q)
	return doc
}

func feedIds(view []model.Quickie) []string {
	ids := make([]string, len(view))
	for i, q := range view {
		ids[i] = q.Id
	}
	return ids
}

func newTestAggregator(watcher *fakeWatcher, follows *fakeFollows) *Aggregator {
	return NewAggregator(subscription.NewMultiplexerWithWindow(watcher, testCoalesceWindow), follows)
}

func TestFeedWithEmptyFollowingServesOwnPosts(t *testing.T) {
	now := time.Now()
	watcher := &fakeWatcher{docs: []store.Document{
		storedDoc(quickieAt("p1", "userA", &now)),
		storedDoc(quickieAt("p-other", "stranger", &now)),
	}}
	agg := newTestAggregator(watcher, &fakeFollows{following: map[string][]string{}})

	f, err := agg.BuildFeed(context.Background(), "userA")
	require.NoError(t, err)
	defer f.Close()

	require.Eventually(t, func() bool {
		view := f.Snapshot()
		return len(view) == 1 && view[0].Id == "p1"
	}, convergeTimeout, time.Millisecond)
}

func TestFeedConvergesOnCreateAndDelete(t *testing.T) {
	// user A posts p1; follower B sees it once the watch attaches; A
	// deletes p1 and both feeds converge to empty
	now := time.Now()
	p1 := quickieAt("p1", "userA", &now)
	watcher := &fakeWatcher{docs: []store.Document{storedDoc(p1)}}
	agg := newTestAggregator(watcher, &fakeFollows{following: map[string][]string{
		"userB": {"userA"},
	}})

	feedA, err := agg.BuildFeed(context.Background(), "userA")
	require.NoError(t, err)
	defer feedA.Close()
	feedB, err := agg.BuildFeed(context.Background(), "userB")
	require.NoError(t, err)
	defer feedB.Close()

	require.Eventually(t, func() bool {
		return len(feedA.Snapshot()) == 1 && len(feedB.Snapshot()) == 1
	}, convergeTimeout, time.Millisecond)

	watcher.emit(store.ChangeRemoved, p1)

	require.Eventually(t, func() bool {
		return len(feedA.Snapshot()) == 0 && len(feedB.Snapshot()) == 0
	}, convergeTimeout, time.Millisecond)
}

func TestFeedOrderingPendingWritesFirst(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	older := base.Add(-time.Hour)

	watcher := &fakeWatcher{docs: []store.Document{
		storedDoc(quickieAt("p-old", "userA", &older)),
		storedDoc(quickieAt("p-new", "userA", &base)),
		storedDoc(quickieAt("p-pending", "userA", nil)),
	}}
	agg := newTestAggregator(watcher, &fakeFollows{following: map[string][]string{}})

	f, err := agg.BuildFeed(context.Background(), "userA")
	require.NoError(t, err)
	defer f.Close()

	require.Eventually(t, func() bool {
		return len(f.Snapshot()) == 3
	}, convergeTimeout, time.Millisecond)

	require.Equal(t, []string{"p-pending", "p-new", "p-old"}, feedIds(f.Snapshot()))
}

func TestFeedTieBreakIsStable(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := quickieAt("a", "u", &at)
	b := quickieAt("b", "u", &at)

	require.True(t, Less(a, b))
	require.False(t, Less(b, a))
}

func TestFeedWindowGrowsWithoutRefetch(t *testing.T) {
	now := time.Now()
	var docs []store.Document
	for i := 0; i < 40; i++ {
		at := now.Add(-time.Duration(i) * time.Minute)
		docs = append(docs, storedDoc(quickieAt(postId(i), "userA", &at)))
	}
	watcher := &fakeWatcher{docs: docs}
	agg := newTestAggregator(watcher, &fakeFollows{following: map[string][]string{}})

	f, err := agg.BuildFeed(context.Background(), "userA")
	require.NoError(t, err)
	defer f.Close()

	require.Eventually(t, func() bool {
		return len(f.Snapshot()) == InitialWindow
	}, convergeTimeout, time.Millisecond)

	f.ExtendWindow()
	require.Eventually(t, func() bool {
		return len(f.Snapshot()) == 30
	}, convergeTimeout, time.Millisecond)

	f.ExtendWindow()
	require.Eventually(t, func() bool {
		return len(f.Snapshot()) == 40
	}, convergeTimeout, time.Millisecond)

	// window is capped at the accumulator size
	f.ExtendWindow()
	require.Equal(t, 40, len(f.Snapshot()))
}

func TestTagStreamSurfacesMentions(t *testing.T) {
	now := time.Now()
	tagged := model.Quickie{Id: "p-tagged", AuthorId: "someone", CreatedAt: &now, UpdatedAt: now}
	raw, err := json.Marshal([]string{"golang"})
	require.NoError(t, err)
	tagged.Tags = datatypes.JSON(raw)

	watcher := &fakeWatcher{docs: []store.Document{storedDoc(tagged)}}
	agg := newTestAggregator(watcher, &fakeFollows{following: map[string][]string{}})

	f, err := agg.BuildTagStream(context.Background(), []string{"golang"})
	require.NoError(t, err)
	defer f.Close()

	require.Eventually(t, func() bool {
		view := f.Snapshot()
		return len(view) == 1 && view[0].Id == "p-tagged"
	}, convergeTimeout, time.Millisecond)
}

func postId(i int) string {
	return "post-" + string(rune('a'+i/10)) + string(rune('0'+i%10))
}
