package follow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/notification"
	"github.com/quickies-app/realtime-backend/store"
)

// Service manages the directed follow graph. Edge existence and the
// denormalized follower/following counters move in the same transaction, and
// every transition is idempotent: an already-consistent edge is a no-op that
// touches no counter.
type Service struct {
	store  *store.Store
	router *notification.Router
}

func NewService(st *store.Store, router *notification.Router) *Service {
	return &Service{store: st, router: router}
}

// Follow creates the follower -> followee edge. For private followees a
// pending FollowRequest gates the edge instead; the edge is only created on
// acceptance.
func (s *Service) Follow(ctx context.Context, followerId, followeeId string) error {
	if followerId == followeeId {
		return errors.Wrap(store.ErrPermissionDenied, "cannot follow yourself")
	}

	var followee model.User
	err := s.store.DB.WithContext(ctx).Where("id = ?", followeeId).First(&followee).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(store.ErrNotFound, "user %s", followeeId)
	}
	if err != nil {
		return errors.Wrap(err, "followee lookup")
	}

	if followee.IsPrivate {
		return s.requestFollow(ctx, followerId, followeeId)
	}

	created, err := s.createEdge(ctx, followerId, followeeId)
	if err != nil {
		return err
	}
	if !created {
		// edge already existed, nothing to notify
		return nil
	}
	return s.router.Emit(ctx, notification.Follow(followerId, followeeId))
}

// Unfollow removes the edge if present. Removing an absent edge is a no-op
// and decrements nothing.
func (s *Service) Unfollow(ctx context.Context, followerId, followeeId string) error {
	return s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("follower_id = ? AND followee_id = ?", followerId, followeeId).
			Delete(&model.FollowEdge{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "edge delete")
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return adjustCounters(tx, followerId, followeeId, -1)
	})
}

// Accept turns a pending request into an edge. Deciding a request that is
// not pending conflicts rather than silently re-applying.
func (s *Service) Accept(ctx context.Context, requesterId, targetId string) error {
	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.FollowRequest{}).
			Where("requester_id = ? AND target_id = ? AND status = ?", requesterId, targetId, model.FollowRequestPending).
			Update("status", model.FollowRequestAccepted)
		if res.Error != nil {
			return errors.Wrap(res.Error, "request accept")
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(store.ErrStateConflict, "no pending request %s -> %s", requesterId, targetId)
		}

		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.FollowEdge{
			Id:         uuid.New().String(),
			CreatedAt:  time.Now(),
			FollowerId: requesterId,
			FolloweeId: targetId,
		})
		if res.Error != nil {
			return errors.Wrap(res.Error, "edge create")
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return adjustCounters(tx, requesterId, targetId, 1)
	})
	if err != nil {
		return err
	}
	// tell the requester they are now following
	return s.router.Emit(ctx, notification.Follow(targetId, requesterId))
}

// Decline settles a pending request without ever touching the graph.
func (s *Service) Decline(ctx context.Context, requesterId, targetId string) error {
	res := s.store.DB.WithContext(ctx).Model(&model.FollowRequest{}).
		Where("requester_id = ? AND target_id = ? AND status = ?", requesterId, targetId, model.FollowRequestPending).
		Update("status", model.FollowRequestDeclined)
	if res.Error != nil {
		return errors.Wrap(res.Error, "request decline")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(store.ErrStateConflict, "no pending request %s -> %s", requesterId, targetId)
	}
	return nil
}

// Following lists the ids a user follows, the input to their feed watch.
func (s *Service) Following(ctx context.Context, userId string) ([]string, error) {
	var ids []string
	err := s.store.DB.WithContext(ctx).Model(&model.FollowEdge{}).
		Where("follower_id = ?", userId).
		Pluck("followee_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "following list")
	}
	return ids, nil
}

// Followers lists the ids following a user.
func (s *Service) Followers(ctx context.Context, userId string) ([]string, error) {
	var ids []string
	err := s.store.DB.WithContext(ctx).Model(&model.FollowEdge{}).
		Where("followee_id = ?", userId).
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "followers list")
	}
	return ids, nil
}

func (s *Service) requestFollow(ctx context.Context, requesterId, targetId string) error {
	res := s.store.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.FollowRequest{
			Id:          uuid.New().String(),
			RequesterId: requesterId,
			TargetId:    targetId,
			Status:      model.FollowRequestPending,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "follow request create")
	}
	if res.RowsAffected == 0 {
		// request already on file, don't re-notify
		return nil
	}
	return s.router.Emit(ctx, notification.FollowRequest(requesterId, targetId))
}

func (s *Service) createEdge(ctx context.Context, followerId, followeeId string) (bool, error) {
	created := false
	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.FollowEdge{
			Id:         uuid.New().String(),
			CreatedAt:  time.Now(),
			FollowerId: followerId,
			FolloweeId: followeeId,
		})
		if res.Error != nil {
			return errors.Wrap(res.Error, "edge create")
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		return adjustCounters(tx, followerId, followeeId, 1)
	})
	return created, err
}

// adjustCounters moves both denormalized counters by delta using atomic
// column expressions, exactly once per edge transition.
func adjustCounters(tx *gorm.DB, followerId, followeeId string, delta int) error {
	err := tx.Model(&model.User{}).Where("id = ?", followerId).
		UpdateColumn("following_count", gorm.Expr("following_count + ?", delta)).Error
	if err != nil {
		return errors.Wrap(err, "following counter")
	}
	err = tx.Model(&model.User{}).Where("id = ?", followeeId).
		UpdateColumn("followers_count", gorm.Expr("followers_count + ?", delta)).Error
	if err != nil {
		return errors.Wrap(err, "followers counter")
	}
	return nil
}
