package engagement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/notification"
	"github.com/quickies-app/realtime-backend/store"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

// MediaStore deletes stored media by the URL embedded in a quickie.
type MediaStore interface {
	DeleteByReference(ctx context.Context, url string) error
}

// Service owns the quickie content lifecycle and its engagement counters.
// likesCount and commentsCount are only ever mutated by a single atomic
// statement paired with the set mutation itself, so they stay equal to the
// set sizes under concurrent mutators.
type Service struct {
	store  *store.Store
	router *notification.Router
	media  MediaStore
}

func NewService(st *store.Store, router *notification.Router, media MediaStore) *Service {
	return &Service{store: st, router: router, media: media}
}

// CreateQuickie persists a new post and announces it to live feed watchers.
func (s *Service) CreateQuickie(ctx context.Context, q model.Quickie) (model.Quickie, error) {
	if q.Id == "" {
		q.Id = uuid.New().String()
	}
	if q.CreatedAt == nil {
		now := time.Now()
		q.CreatedAt = &now
	}
	if len(q.Likes) == 0 {
		q.Likes = datatypes.JSON([]byte("[]"))
	}
	if len(q.Comments) == 0 {
		q.Comments = datatypes.JSON([]byte("[]"))
	}
	if len(q.Tags) == 0 {
		q.Tags = datatypes.JSON([]byte("[]"))
	}
	if err := s.store.DB.WithContext(ctx).Create(&q).Error; err != nil {
		return model.Quickie{}, errors.Wrap(err, "quickie create")
	}
	s.publish(store.ChangeAdded, q)
	return q, nil
}

// DeleteQuickie removes a post on behalf of its author. Attached media is
// deleted best-effort; orphaned moderation reports are purged by the
// reconciliation sweep, not here.
func (s *Service) DeleteQuickie(ctx context.Context, quickieId, actorId string) error {
	var q model.Quickie
	err := s.store.DB.WithContext(ctx).Where("id = ?", quickieId).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(store.ErrNotFound, "quickie %s", quickieId)
	}
	if err != nil {
		return errors.Wrap(err, "quickie read")
	}
	if q.AuthorId != actorId {
		return errors.Wrapf(store.ErrPermissionDenied, "quickie %s belongs to %s", quickieId, q.AuthorId)
	}

	if err := s.store.DB.WithContext(ctx).Where("id = ?", quickieId).Delete(&model.Quickie{}).Error; err != nil {
		return errors.Wrap(err, "quickie delete")
	}
	s.publish(store.ChangeRemoved, q)

	if q.MediaUrl != "" {
		if err := s.media.DeleteByReference(ctx, q.MediaUrl); err != nil {
			Logger.LogV2.Errorf("media cleanup failed for %s: %v", q.MediaUrl, err)
		}
	}
	return nil
}

// DeleteQuickieInTx removes a post inside the caller's transaction and hands
// back the deleted row so the caller can publish after commit. Used by
// moderation, which ties content removal to its own commit.
func (s *Service) DeleteQuickieInTx(tx *gorm.DB, quickieId string) (model.Quickie, error) {
	var q model.Quickie
	err := tx.Where("id = ?", quickieId).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Quickie{}, errors.Wrapf(store.ErrNotFound, "quickie %s", quickieId)
	}
	if err != nil {
		return model.Quickie{}, errors.Wrap(err, "quickie read")
	}
	if err := tx.Where("id = ?", quickieId).Delete(&model.Quickie{}).Error; err != nil {
		return model.Quickie{}, errors.Wrap(err, "quickie delete")
	}
	return q, nil
}

// PublishRemoved announces a removal performed inside a caller's committed
// transaction.
func (s *Service) PublishRemoved(q model.Quickie) {
	s.publish(store.ChangeRemoved, q)
}

// Like adds userId to the post's like set and bumps the counter in one
// atomic statement. Liking a post twice is a no-op; the counter moves
// exactly once per membership transition.
func (s *Service) Like(ctx context.Context, userId, quickieId string) error {
	res := s.store.DB.WithContext(ctx).Exec(
		`UPDATE quickies
		 SET likes = likes || to_jsonb(?::text),
		     likes_count = likes_count + 1,
		     updated_at = now()
		 WHERE id = ? AND NOT likes @> to_jsonb(?::text)`,
		userId, quickieId, userId,
	)
	if res.Error != nil {
		return errors.Wrap(res.Error, "like")
	}
	if res.RowsAffected == 0 {
		// already liked, or the post vanished; both are no-ops
		return nil
	}

	q, err := s.reload(ctx, quickieId)
	if err != nil {
		return err
	}
	s.publish(store.ChangeModified, q)
	return s.router.Emit(ctx, notification.Like(userId, q.AuthorId, quickieId))
}

// Unlike removes userId from the like set, decrementing exactly once.
func (s *Service) Unlike(ctx context.Context, userId, quickieId string) error {
	res := s.store.DB.WithContext(ctx).Exec(
		`UPDATE quickies
		 SET likes = likes - ?::text,
		     likes_count = likes_count - 1,
		     updated_at = now()
		 WHERE id = ? AND likes @> to_jsonb(?::text)`,
		userId, quickieId, userId,
	)
	if res.Error != nil {
		return errors.Wrap(res.Error, "unlike")
	}
	if res.RowsAffected == 0 {
		return nil
	}

	q, err := s.reload(ctx, quickieId)
	if err != nil {
		return err
	}
	s.publish(store.ChangeModified, q)
	return nil
}

// AddComment appends to the post's comment log. Comments are append-only;
// display order is CreatedAt ascending, which matches append order.
func (s *Service) AddComment(ctx context.Context, quickieId string, c model.Comment) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	element, err := json.Marshal([]model.Comment{c})
	if err != nil {
		return errors.Wrap(err, "comment encode")
	}

	res := s.store.DB.WithContext(ctx).Exec(
		`UPDATE quickies
		 SET comments = comments || ?::jsonb,
		     comments_count = comments_count + 1,
		     updated_at = now()
		 WHERE id = ?`,
		string(element), quickieId,
	)
	if res.Error != nil {
		return errors.Wrap(res.Error, "comment append")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(store.ErrNotFound, "quickie %s", quickieId)
	}

	q, err := s.reload(ctx, quickieId)
	if err != nil {
		return err
	}
	s.publish(store.ChangeModified, q)
	return s.router.Emit(ctx, notification.Comment(c.UserId, q.AuthorId, quickieId, c.Text))
}

// GetQuickie fetches one post.
func (s *Service) GetQuickie(ctx context.Context, quickieId string) (model.Quickie, error) {
	return s.reload(ctx, quickieId)
}

func (s *Service) reload(ctx context.Context, quickieId string) (model.Quickie, error) {
	var q model.Quickie
	err := s.store.DB.WithContext(ctx).Where("id = ?", quickieId).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Quickie{}, errors.Wrapf(store.ErrNotFound, "quickie %s", quickieId)
	}
	if err != nil {
		return model.Quickie{}, errors.Wrap(err, "quickie read")
	}
	return q, nil
}

func (s *Service) publish(kind store.ChangeKind, q model.Quickie) {
	doc, err := store.QuickieDocument(q)
	if err != nil {
		Logger.LogV2.Errorf("quickie document for %s: %v", q.Id, err)
		return
	}
	s.store.PublishChange(kind, store.CollectionQuickies, doc)
}
