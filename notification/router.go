package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/store"
	"github.com/quickies-app/realtime-backend/utils"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

// FadeDuration is the minimum gap between the two dismissal phases, giving
// consumers room for their fade transition before the row disappears.
const FadeDuration = 500 * time.Millisecond

// Router creates, classifies, and delivers notification events, tracks
// read/unread state, and supports two-phase dismissal. Unread badge counts
// are always recomputed from the authoritative set after a mutation, never
// decremented speculatively.
type Router struct {
	store *store.Store
	redis *utils.RedisStatusStore

	// overridable in tests so two-phase dismissal is observable without
	// waiting out the real fade
	fade time.Duration
}

func NewRouter(st *store.Store, redis *utils.RedisStatusStore) *Router {
	return &Router{store: st, redis: redis, fade: FadeDuration}
}

// Emit creates one notification unless the action is self-triggered. A user
// liking their own post produces nothing, for every trigger type.
func (r *Router) Emit(ctx context.Context, n model.Notification) error {
	built, created, err := r.EmitInTx(r.store.DB.WithContext(ctx), n)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	r.AfterCommit(ctx, []model.Notification{built})
	return nil
}

// EmitInTx creates the notification row inside the caller's transaction so
// callers with complete-or-none semantics (moderation) can tie delivery to
// their own commit. The caller must pass the returned notification to
// AfterCommit once the transaction commits.
func (r *Router) EmitInTx(tx *gorm.DB, n model.Notification) (model.Notification, bool, error) {
	if n.FromUserId == n.UserId {
		return model.Notification{}, false, nil
	}
	if n.Id == "" {
		n.Id = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if err := tx.Create(&n).Error; err != nil {
		return model.Notification{}, false, errors.Wrap(err, "notification create")
	}
	return n, true, nil
}

// AfterCommit publishes committed notifications to live watchers and
// refreshes each distinct recipient's badge count.
func (r *Router) AfterCommit(ctx context.Context, ns []model.Notification) {
	recipients := map[string]bool{}
	for _, n := range ns {
		doc, err := store.NotificationDocument(n)
		if err != nil {
			Logger.LogV2.Errorf("notification document for %s: %v", n.Id, err)
			continue
		}
		r.store.PublishChange(store.ChangeAdded, store.CollectionNotifications, doc)
		recipients[n.UserId] = true
	}
	for userId := range recipients {
		r.refreshUnread(ctx, userId)
	}
}

// MarkRead idempotently flips IsRead and recomputes the recipient's badge
// from the authoritative set.
func (r *Router) MarkRead(ctx context.Context, notificationId string) error {
	var n model.Notification
	err := r.store.DB.WithContext(ctx).Where("id = ?", notificationId).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(store.ErrNotFound, "notification %s", notificationId)
	}
	if err != nil {
		return errors.Wrap(err, "notification read")
	}

	res := r.store.DB.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND is_read = false", notificationId).
		Update("is_read", true)
	if res.Error != nil {
		return errors.Wrap(res.Error, "mark read")
	}
	if res.RowsAffected > 0 {
		n.IsRead = true
		if doc, err := store.NotificationDocument(n); err == nil {
			r.store.PublishChange(store.ChangeModified, store.CollectionNotifications, doc)
		}
	}
	r.refreshUnread(ctx, n.UserId)
	return nil
}

// Dismiss removes a notification in two phases: mark for removal now, delete
// after the fade gap. An unread notification keeps counting toward the badge
// until phase two actually deletes it.
func (r *Router) Dismiss(ctx context.Context, notificationId string) error {
	var n model.Notification
	err := r.store.DB.WithContext(ctx).Where("id = ?", notificationId).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(store.ErrNotFound, "notification %s", notificationId)
	}
	if err != nil {
		return errors.Wrap(err, "notification read")
	}

	err = r.store.DB.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ?", notificationId).
		Update("pending_removal", true).Error
	if err != nil {
		return errors.Wrap(err, "dismiss phase one")
	}
	n.PendingRemoval = true
	if doc, docErr := store.NotificationDocument(n); docErr == nil {
		r.store.PublishChange(store.ChangeModified, store.CollectionNotifications, doc)
	}

	time.AfterFunc(r.fade, func() {
		bg := context.Background()
		err := r.store.DB.WithContext(bg).Where("id = ?", notificationId).Delete(&model.Notification{}).Error
		if err != nil {
			Logger.LogV2.Errorf("dismiss phase two failed for %s: %v", notificationId, err)
			return
		}
		if doc, docErr := store.NotificationDocument(n); docErr == nil {
			r.store.PublishChange(store.ChangeRemoved, store.CollectionNotifications, doc)
		}
		r.refreshUnread(bg, n.UserId)
	})
	return nil
}

// ReapDismissed finishes dismissals whose delete phase was lost, e.g. to a
// restart between the two phases. Rows already marked for removal have had
// their fade; they are deleted immediately and badges recomputed. Run at
// startup and from the periodic maintenance loop.
func (r *Router) ReapDismissed(ctx context.Context) (int, error) {
	var ns []model.Notification
	err := r.store.DB.WithContext(ctx).
		Where("pending_removal = true").
		Find(&ns).Error
	if err != nil {
		return 0, errors.Wrap(err, "reap scan")
	}

	reaped := 0
	recipients := map[string]bool{}
	for _, n := range ns {
		err := r.store.DB.WithContext(ctx).Where("id = ?", n.Id).Delete(&model.Notification{}).Error
		if err != nil {
			return reaped, errors.Wrap(err, "reap delete")
		}
		reaped++
		recipients[n.UserId] = true
		if doc, docErr := store.NotificationDocument(n); docErr == nil {
			r.store.PublishChange(store.ChangeRemoved, store.CollectionNotifications, doc)
		}
	}
	for userId := range recipients {
		r.refreshUnread(ctx, userId)
	}
	return reaped, nil
}

// List serves a user's notifications newest first. History is uncapped at
// this layer; pagination is a consumer concern.
func (r *Router) List(ctx context.Context, userId string) ([]model.Notification, error) {
	var ns []model.Notification
	err := r.store.DB.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("created_at DESC").
		Find(&ns).Error
	if err != nil {
		return nil, errors.Wrap(err, "notification list")
	}
	return ns, nil
}

// Unread returns the badge count, preferring the redis mirror and falling
// back to an authoritative recount.
func (r *Router) Unread(ctx context.Context, userId string) (int64, error) {
	if count, err := r.redis.GetUnreadCount(ctx, userId); err == nil {
		return count, nil
	}
	return r.countUnread(ctx, userId)
}

func (r *Router) refreshUnread(ctx context.Context, userId string) {
	count, err := r.countUnread(ctx, userId)
	if err != nil {
		Logger.LogV2.Errorf("unread recount failed for %s: %v", userId, err)
		return
	}
	if err := r.redis.SetUnreadCount(ctx, userId, count); err != nil {
		Logger.LogV2.Errorf("unread badge mirror failed for %s: %v", userId, err)
	}
}

func (r *Router) countUnread(ctx context.Context, userId string) (int64, error) {
	var count int64
	err := r.store.DB.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND is_read = false", userId).
		Count(&count).Error
	return count, err
}
