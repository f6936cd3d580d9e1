package follow

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/notification"
	"github.com/quickies-app/realtime-backend/store"
	"github.com/quickies-app/realtime-backend/utils"
)

func testService(t *testing.T) *Service {
	t.Helper()
	if os.Getenv("DB_CONNECTION_STRING") == "" && os.Getenv("DB_HOST") == "" {
		t.Skip("postgres not configured")
	}
	db, err := utils.GetDBConnection()
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	st := store.NewStore(db, store.NewBus())
	return NewService(st, notification.NewRouter(st, utils.NewRedisStatusStore()))
}

func createUser(t *testing.T, s *Service, private bool) model.User {
	t.Helper()
	u := model.User{
		Id:        uuid.New().String(),
		Name:      "tester",
		Handle:    uuid.New().String(),
		IsPrivate: private,
	}
	require.NoError(t, s.store.DB.Create(&u).Error)
	return u
}

func counters(t *testing.T, s *Service, userId string) (followers, following int64) {
	t.Helper()
	var u model.User
	require.NoError(t, s.store.DB.Where("id = ?", userId).First(&u).Error)
	return u.FollowersCount, u.FollowingCount
}

func TestFollowIsIdempotent(t *testing.T) {
	s := testService(t)
	a := createUser(t, s, false)
	b := createUser(t, s, false)

	require.NoError(t, s.Follow(context.Background(), a.Id, b.Id))
	require.NoError(t, s.Follow(context.Background(), a.Id, b.Id))

	followers, _ := counters(t, s, b.Id)
	_, following := counters(t, s, a.Id)
	require.Equal(t, int64(1), followers)
	require.Equal(t, int64(1), following)

	ids, err := s.Following(context.Background(), a.Id)
	require.NoError(t, err)
	require.Equal(t, []string{b.Id}, ids)
}

func TestUnfollowAbsentEdgeIsNoop(t *testing.T) {
	s := testService(t)
	a := createUser(t, s, false)
	b := createUser(t, s, false)

	require.NoError(t, s.Unfollow(context.Background(), a.Id, b.Id))

	followers, _ := counters(t, s, b.Id)
	require.Equal(t, int64(0), followers)
}

func TestFollowUnfollowRoundTrip(t *testing.T) {
	s := testService(t)
	a := createUser(t, s, false)
	b := createUser(t, s, false)

	require.NoError(t, s.Follow(context.Background(), a.Id, b.Id))
	require.NoError(t, s.Unfollow(context.Background(), a.Id, b.Id))
	// double unfollow decrements nothing
	require.NoError(t, s.Unfollow(context.Background(), a.Id, b.Id))

	followers, _ := counters(t, s, b.Id)
	_, following := counters(t, s, a.Id)
	require.Equal(t, int64(0), followers)
	require.Equal(t, int64(0), following)
}

func TestFollowRejectsSelfAndUnknown(t *testing.T) {
	s := testService(t)
	a := createUser(t, s, false)

	err := s.Follow(context.Background(), a.Id, a.Id)
	require.ErrorIs(t, err, store.ErrPermissionDenied)

	err = s.Follow(context.Background(), a.Id, uuid.New().String())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPrivateAccountGatesBehindRequest(t *testing.T) {
	s := testService(t)
	requester := createUser(t, s, false)
	target := createUser(t, s, true)

	require.NoError(t, s.Follow(context.Background(), requester.Id, target.Id))

	// no edge yet
	ids, err := s.Following(context.Background(), requester.Id)
	require.NoError(t, err)
	require.Empty(t, ids)
	followers, _ := counters(t, s, target.Id)
	require.Equal(t, int64(0), followers)

	require.NoError(t, s.Accept(context.Background(), requester.Id, target.Id))

	ids, err = s.Following(context.Background(), requester.Id)
	require.NoError(t, err)
	require.Equal(t, []string{target.Id}, ids)
	followers, _ = counters(t, s, target.Id)
	require.Equal(t, int64(1), followers)

	// the request settled, a second accept conflicts
	err = s.Accept(context.Background(), requester.Id, target.Id)
	require.ErrorIs(t, err, store.ErrStateConflict)
}

func TestDeclineLeavesGraphUntouched(t *testing.T) {
	s := testService(t)
	requester := createUser(t, s, false)
	target := createUser(t, s, true)

	require.NoError(t, s.Follow(context.Background(), requester.Id, target.Id))
	require.NoError(t, s.Decline(context.Background(), requester.Id, target.Id))

	ids, err := s.Following(context.Background(), requester.Id)
	require.NoError(t, err)
	require.Empty(t, ids)

	err = s.Decline(context.Background(), requester.Id, target.Id)
	require.ErrorIs(t, err, store.ErrStateConflict)
}
