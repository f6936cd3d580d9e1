package engagement

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/notification"
	"github.com/quickies-app/realtime-backend/store"
	"github.com/quickies-app/realtime-backend/utils"
)

const concurrentLikers = 20

type noopMedia struct{}

func (noopMedia) DeleteByReference(context.Context, string) error { return nil }

func testService(t *testing.T) *Service {
	t.Helper()
	if os.Getenv("DB_CONNECTION_STRING") == "" && os.Getenv("DB_HOST") == "" {
		t.Skip("postgres not configured")
	}
	db, err := utils.GetDBConnection()
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	st := store.NewStore(db, store.NewBus())
	router := notification.NewRouter(st, utils.NewRedisStatusStore())
	return NewService(st, router, noopMedia{})
}

func createPost(t *testing.T, s *Service, authorId string) model.Quickie {
	t.Helper()
	q, err := s.CreateQuickie(context.Background(), model.Quickie{
		AuthorId: authorId,
		Text:     "hello",
	})
	require.NoError(t, err)
	return q
}

func requireLikeInvariant(t *testing.T, s *Service, quickieId string) int {
	t.Helper()
	q, err := s.GetQuickie(context.Background(), quickieId)
	require.NoError(t, err)
	likes, err := q.LikeSet()
	require.NoError(t, err)
	require.Equal(t, int64(len(likes)), q.LikesCount)
	return len(likes)
}

func TestConcurrentLikesKeepCounterConsistent(t *testing.T) {
	s := testService(t)
	q := createPost(t, s, uuid.New().String())

	var wg sync.WaitGroup
	errs := make(chan error, concurrentLikers)
	for i := 0; i < concurrentLikers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Like(context.Background(), fmt.Sprintf("liker-%s-%d", q.Id, i), q.Id)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, concurrentLikers, requireLikeInvariant(t, s, q.Id))
}

func TestLikeIsIdempotent(t *testing.T) {
	s := testService(t)
	q := createPost(t, s, uuid.New().String())
	liker := uuid.New().String()

	require.NoError(t, s.Like(context.Background(), liker, q.Id))
	require.NoError(t, s.Like(context.Background(), liker, q.Id))

	require.Equal(t, 1, requireLikeInvariant(t, s, q.Id))
}

func TestUnlikeRemovesExactlyOnce(t *testing.T) {
	s := testService(t)
	q := createPost(t, s, uuid.New().String())
	liker := uuid.New().String()

	require.NoError(t, s.Like(context.Background(), liker, q.Id))
	require.NoError(t, s.Unlike(context.Background(), liker, q.Id))
	require.NoError(t, s.Unlike(context.Background(), liker, q.Id))

	require.Equal(t, 0, requireLikeInvariant(t, s, q.Id))
}

func TestCommentsKeepCounterPaired(t *testing.T) {
	s := testService(t)
	q := createPost(t, s, uuid.New().String())

	for i := 0; i < 3; i++ {
		err := s.AddComment(context.Background(), q.Id, model.Comment{
			Text:   fmt.Sprintf("comment %d", i),
			UserId: uuid.New().String(),
		})
		require.NoError(t, err)
	}

	got, err := s.GetQuickie(context.Background(), q.Id)
	require.NoError(t, err)
	comments, err := got.CommentList()
	require.NoError(t, err)
	require.Equal(t, int64(3), got.CommentsCount)
	require.Len(t, comments, 3)
	// append order is display order
	require.Equal(t, "comment 0", comments[0].Text)
	require.Equal(t, "comment 2", comments[2].Text)
}

func TestDeleteRequiresAuthor(t *testing.T) {
	s := testService(t)
	author := uuid.New().String()
	q := createPost(t, s, author)

	err := s.DeleteQuickie(context.Background(), q.Id, "someone-else")
	require.ErrorIs(t, err, store.ErrPermissionDenied)

	require.NoError(t, s.DeleteQuickie(context.Background(), q.Id, author))
	_, err = s.GetQuickie(context.Background(), q.Id)
	require.ErrorIs(t, err, store.ErrNotFound)
}
