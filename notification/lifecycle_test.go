package notification

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/store"
	"github.com/quickies-app/realtime-backend/utils"
)

const testFade = 20 * time.Millisecond

func testRouter(t *testing.T) *Router {
	t.Helper()
	if os.Getenv("DB_CONNECTION_STRING") == "" && os.Getenv("DB_HOST") == "" {
		t.Skip("postgres not configured")
	}
	db, err := utils.GetDBConnection()
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	r := NewRouter(store.NewStore(db, store.NewBus()), utils.NewRedisStatusStore())
	r.fade = testFade
	return r
}

func emit(t *testing.T, r *Router, n model.Notification) model.Notification {
	t.Helper()
	require.NoError(t, r.Emit(context.Background(), n))
	ns, err := r.List(context.Background(), n.UserId)
	require.NoError(t, err)
	require.NotEmpty(t, ns)
	return ns[0]
}

func TestMarkReadIsIdempotent(t *testing.T) {
	r := testRouter(t)
	recipient := uuid.New().String()
	n := emit(t, r, Like(uuid.New().String(), recipient, "q1"))

	require.NoError(t, r.MarkRead(context.Background(), n.Id))
	require.NoError(t, r.MarkRead(context.Background(), n.Id))

	count, err := r.countUnread(context.Background(), recipient)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestMarkReadUnknownNotification(t *testing.T) {
	r := testRouter(t)
	err := r.MarkRead(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDismissDeletesAfterFade(t *testing.T) {
	r := testRouter(t)
	recipient := uuid.New().String()
	n := emit(t, r, Comment(uuid.New().String(), recipient, "q1", "nice"))

	require.NoError(t, r.Dismiss(context.Background(), n.Id))

	// phase one: marked but still present, still counted unread
	ns, err := r.List(context.Background(), recipient)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	require.True(t, ns[0].PendingRemoval)
	count, err := r.countUnread(context.Background(), recipient)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// phase two: the row is gone once the fade elapses
	require.Eventually(t, func() bool {
		ns, err := r.List(context.Background(), recipient)
		return err == nil && len(ns) == 0
	}, time.Second, 5*time.Millisecond)

	count, err = r.countUnread(context.Background(), recipient)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestReapFinishesInterruptedDismissals(t *testing.T) {
	r := testRouter(t)
	// a fade that never elapses within the test stands in for a restart
	// between the two dismissal phases
	r.fade = time.Hour
	recipient := uuid.New().String()
	n := emit(t, r, Like(uuid.New().String(), recipient, "q1"))

	require.NoError(t, r.Dismiss(context.Background(), n.Id))

	ns, err := r.List(context.Background(), recipient)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	require.True(t, ns[0].PendingRemoval)

	reaped, err := r.ReapDismissed(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, reaped, 1)

	ns, err = r.List(context.Background(), recipient)
	require.NoError(t, err)
	require.Empty(t, ns)
	count, err := r.countUnread(context.Background(), recipient)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestUnreadFallsBackToAuthoritativeCount(t *testing.T) {
	r := testRouter(t)
	recipient := uuid.New().String()
	emit(t, r, Like(uuid.New().String(), recipient, "q1"))
	emit(t, r, Follow(uuid.New().String(), recipient))

	count, err := r.Unread(context.Background(), recipient)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestListNewestFirst(t *testing.T) {
	r := testRouter(t)
	recipient := uuid.New().String()

	first := Like(uuid.New().String(), recipient, "q1")
	first.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, r.Emit(context.Background(), first))
	require.NoError(t, r.Emit(context.Background(), Follow(uuid.New().String(), recipient)))

	ns, err := r.List(context.Background(), recipient)
	require.NoError(t, err)
	require.Len(t, ns, 2)
	require.Equal(t, model.NotificationFollow, ns[0].Type)
	require.Equal(t, model.NotificationLike, ns[1].Type)
}
