package engagement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/store"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

// Comment rows carry denormalized author display fields (name, avatar,
// handle) for read speed. The tradeoff is eventual staleness after a profile
// edit; this backfill restores the copies best-effort and nothing correctness
// critical may depend on it having run.

// UpdateProfile saves the canonical profile fields and kicks the
// denormalized backfill for the user's existing comments.
func (s *Service) UpdateProfile(ctx context.Context, user model.User) error {
	err := s.store.DB.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", user.Id).
		Updates(map[string]interface{}{
			"name":       user.Name,
			"avatar_url": user.AvatarUrl,
			"handle":     user.Handle,
		}).Error
	if err != nil {
		return errors.Wrap(err, "profile update")
	}

	updated, err := s.BackfillCommentAuthors(ctx, user)
	if err != nil {
		Logger.LogV2.Errorf("comment backfill for %s incomplete: %v", user.Id, err)
		return nil
	}
	Logger.LogV2.Infof("comment backfill for %s touched %d quickies", user.Id, updated)
	return nil
}

// BackfillCommentAuthors rewrites the user's display fields inside every
// comment they authored. Returns how many quickies were touched.
func (s *Service) BackfillCommentAuthors(ctx context.Context, user model.User) (int, error) {
	marker := fmt.Sprintf(`[{"userId":%q}]`, user.Id)

	var quickies []model.Quickie
	err := s.store.DB.WithContext(ctx).
		Where("comments @> ?::jsonb", marker).
		Find(&quickies).Error
	if err != nil {
		return 0, errors.Wrap(err, "backfill scan")
	}

	updated := 0
	for _, q := range quickies {
		comments, err := q.CommentList()
		if err != nil {
			Logger.LogV2.Errorf("skipping corrupt comment log on %s: %v", q.Id, err)
			continue
		}
		changed := false
		for i := range comments {
			if comments[i].UserId != user.Id {
				continue
			}
			if comments[i].UserName == user.Name &&
				comments[i].UserAvatar == user.AvatarUrl &&
				comments[i].Handle == user.Handle {
				continue
			}
			comments[i].UserName = user.Name
			comments[i].UserAvatar = user.AvatarUrl
			comments[i].Handle = user.Handle
			changed = true
		}
		if !changed {
			continue
		}

		encoded, err := json.Marshal(comments)
		if err != nil {
			return updated, errors.Wrap(err, "backfill encode")
		}
		err = s.store.DB.WithContext(ctx).Model(&model.Quickie{}).
			Where("id = ?", q.Id).
			UpdateColumn("comments", string(encoded)).Error
		if err != nil {
			return updated, errors.Wrap(err, "backfill write")
		}
		updated++

		q.Comments = encoded
		s.publish(store.ChangeModified, q)
	}
	return updated, nil
}
