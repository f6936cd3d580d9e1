package presence

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/store"
	"github.com/quickies-app/realtime-backend/utils"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

// StoreBackend persists presence writes, mirrors the snapshot into redis for
// the hot read path, and publishes each transition on the presence topic so
// any number of concurrent viewers converge through their subscriptions.
type StoreBackend struct {
	store *store.Store
	redis *utils.RedisStatusStore
}

func NewStoreBackend(st *store.Store, redis *utils.RedisStatusStore) *StoreBackend {
	return &StoreBackend{store: st, redis: redis}
}

var _ Store = (*StoreBackend)(nil)

func (b *StoreBackend) SetPresence(ctx context.Context, p model.UserPresence) error {
	err := b.store.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "last_changed"}),
	}).Create(&p).Error
	if err != nil {
		return errors.Wrap(err, "presence write")
	}

	if err := b.redis.SetPresenceSnapshot(ctx, p.UserId, string(p.State), p.LastChanged); err != nil {
		// redis only shortcuts reads, the row stays authoritative
		Logger.LogV2.Errorf("presence snapshot mirror failed for %s: %v", p.UserId, err)
	}

	b.store.PublishChange(store.ChangeModified, store.CollectionPresence, store.PresenceDocument(p))
	return nil
}

func (b *StoreBackend) GetPresence(ctx context.Context, userId string) (model.UserPresence, error) {
	if state, lastChanged, err := b.redis.GetPresenceSnapshot(ctx, userId); err == nil && state != "" {
		return model.UserPresence{
			UserId:      userId,
			State:       model.PresenceState(state),
			LastChanged: lastChanged,
		}, nil
	}

	var p model.UserPresence
	err := b.store.DB.WithContext(ctx).Where("user_id = ?", userId).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// never connected, treat as offline rather than erroring
		return model.UserPresence{UserId: userId, State: model.PresenceOffline}, nil
	}
	if err != nil {
		return model.UserPresence{}, errors.Wrap(err, "presence read")
	}
	return p, nil
}
