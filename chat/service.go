package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/store"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

// Service manages conversations and messages. Same fan-out shape as the
// feed: writes publish conversation changes, members watch their
// conversation list live.
type Service struct {
	store *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// CreateConversation opens a thread. A conversation that never receives a
// message is transient; CleanupEmpty garbage-collects it.
func (s *Service) CreateConversation(ctx context.Context, members []string, isGroup bool) (model.Conversation, error) {
	if len(members) < 2 {
		return model.Conversation{}, errors.New("conversation needs at least two members")
	}

	memberJSON, err := json.Marshal(members)
	if err != nil {
		return model.Conversation{}, errors.Wrap(err, "members encode")
	}
	c := model.Conversation{
		Id:       uuid.New().String(),
		Members:  datatypes.JSON(memberJSON),
		IsGroup:  isGroup,
		ReadBy:   datatypes.JSON([]byte("[]")),
		LastRead: datatypes.JSON([]byte("{}")),
	}
	if err := s.store.DB.WithContext(ctx).Create(&c).Error; err != nil {
		return model.Conversation{}, errors.Wrap(err, "conversation create")
	}
	s.publish(store.ChangeAdded, c)
	return c, nil
}

// SendMessage appends a message and refreshes the conversation preview. The
// sender has implicitly read their own message.
func (s *Service) SendMessage(ctx context.Context, conversationId, senderId, text, mediaUrl string) (model.Message, error) {
	now := time.Now()
	msg := model.Message{
		Id:             uuid.New().String(),
		ConversationId: conversationId,
		SenderId:       senderId,
		Text:           text,
		MediaUrl:       mediaUrl,
		Timestamp:      now,
	}

	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Conversation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", conversationId).First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(store.ErrNotFound, "conversation %s", conversationId)
		}
		if err != nil {
			return errors.Wrap(err, "conversation lookup")
		}
		if !isMember(&c, senderId) {
			return errors.Wrapf(store.ErrPermissionDenied, "%s is not in conversation %s", senderId, conversationId)
		}

		readBy, err := json.Marshal([]string{senderId})
		if err != nil {
			return errors.Wrap(err, "read-by encode")
		}
		msg.ReadBy = datatypes.JSON(readBy)
		if err := tx.Create(&msg).Error; err != nil {
			return errors.Wrap(err, "message create")
		}

		return tx.Exec(
			`UPDATE conversations
			 SET last_message = ?,
			     last_message_at = ?,
			     read_by = ?::jsonb,
			     last_read = jsonb_set(coalesce(last_read, '{}'::jsonb), ARRAY[?::text], to_jsonb(?::timestamptz))
			 WHERE id = ?`,
			text, now, string(readBy), senderId, now, conversationId,
		).Error
	})
	if err != nil {
		return model.Message{}, err
	}
	if c, err := s.get(ctx, conversationId); err == nil {
		s.publish(store.ChangeModified, c)
	}
	return msg, nil
}

// MarkRead records that a member has seen the newest message, via atomic set
// union so concurrent readers never clobber each other.
func (s *Service) MarkRead(ctx context.Context, conversationId, userId string) error {
	c, err := s.get(ctx, conversationId)
	if err != nil {
		return err
	}
	if !isMember(&c, userId) {
		return errors.Wrapf(store.ErrPermissionDenied, "%s is not in conversation %s", userId, conversationId)
	}

	err = s.store.DB.WithContext(ctx).Exec(
		`UPDATE conversations
		 SET read_by = CASE
		       WHEN read_by @> to_jsonb(?::text) THEN read_by
		       ELSE read_by || to_jsonb(?::text)
		     END,
		     last_read = jsonb_set(coalesce(last_read, '{}'::jsonb), ARRAY[?::text], to_jsonb(now()))
		 WHERE id = ?`,
		userId, userId, userId, conversationId,
	).Error
	if err != nil {
		return errors.Wrap(err, "mark read")
	}
	if c, getErr := s.get(ctx, conversationId); getErr == nil {
		s.publish(store.ChangeModified, c)
	}
	return nil
}

// CleanupEmpty deletes a conversation that never got a message. The message
// existence check runs inside the same transaction that deletes, immediately
// before the delete, so a message send racing the cleanup wins: either its
// row is visible and the conversation survives, or the send's conversation
// update blocks on our row lock until we are done.
func (s *Service) CleanupEmpty(ctx context.Context, conversationId string) (bool, error) {
	deleted := false
	var removed model.Conversation
	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Conversation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", conversationId).First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "conversation lookup")
		}

		// re-query message existence, never trust a stale flag
		var count int64
		err = tx.Model(&model.Message{}).Where("conversation_id = ?", conversationId).Count(&count).Error
		if err != nil {
			return errors.Wrap(err, "message count")
		}
		if count > 0 {
			return nil
		}

		if err := tx.Where("id = ?", conversationId).Delete(&model.Conversation{}).Error; err != nil {
			return errors.Wrap(err, "conversation delete")
		}
		deleted = true
		removed = c
		return nil
	})
	if err == nil && deleted {
		s.publish(store.ChangeRemoved, removed)
	}
	return deleted, err
}

// Messages lists a conversation's messages oldest first.
func (s *Service) Messages(ctx context.Context, conversationId string) ([]model.Message, error) {
	var msgs []model.Message
	err := s.store.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationId).
		Order("timestamp ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "message list")
	}
	return msgs, nil
}

// UnreadConversations lists threads with activity the user has not read.
func (s *Service) UnreadConversations(ctx context.Context, userId string) ([]model.Conversation, error) {
	var cs []model.Conversation
	err := s.store.DB.WithContext(ctx).
		Where("members @> to_jsonb(?::text)", userId).
		Where("NOT read_by @> to_jsonb(?::text)", userId).
		Where("last_message_at IS NOT NULL").
		Order("last_message_at DESC").
		Find(&cs).Error
	if err != nil {
		return nil, errors.Wrap(err, "unread conversations")
	}
	return cs, nil
}

func (s *Service) get(ctx context.Context, conversationId string) (model.Conversation, error) {
	var c model.Conversation
	err := s.store.DB.WithContext(ctx).Where("id = ?", conversationId).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Conversation{}, errors.Wrapf(store.ErrNotFound, "conversation %s", conversationId)
	}
	if err != nil {
		return model.Conversation{}, errors.Wrap(err, "conversation lookup")
	}
	return c, nil
}

func (s *Service) publish(kind store.ChangeKind, c model.Conversation) {
	doc, err := store.ConversationDocument(c)
	if err != nil {
		Logger.LogV2.Errorf("conversation document for %s: %v", c.Id, err)
		return
	}
	s.store.PublishChange(kind, store.CollectionConversations, doc)
}

func isMember(c *model.Conversation, userId string) bool {
	members, err := c.MemberSet()
	if err != nil {
		return false
	}
	for _, m := range members {
		if m == userId {
			return true
		}
	}
	return false
}
