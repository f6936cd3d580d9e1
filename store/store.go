package store

import (
	"context"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/quickies-app/realtime-backend/model"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

// Collection topics. One topic per document collection, mirrored between the
// snapshot queries and the event bus.
const (
	CollectionQuickies      = "quickies"
	CollectionNotifications = "notifications"
	CollectionPresence      = "presence"
	CollectionReports       = "reports"
	CollectionConversations = "conversations"
)

// DefaultChunkLimit bounds the initial snapshot of one chunk query to the
// most recent rows. The live stream keeps the view current past the bound.
const DefaultChunkLimit = 100

// Watcher is the read surface the subscription multiplexer consumes: an
// initial snapshot plus the live event stream of a collection.
type Watcher interface {
	Snapshot(ctx context.Context, q Query) ([]Document, error)
	Events(ctx context.Context, collection string) (<-chan DocEvent, error)
}

// Store binds the relational backend to the change event bus. Domain
// services perform their writes through the embedded DB handle and publish
// the resulting change through the bus so live watchers converge.
type Store struct {
	DB  *gorm.DB
	Bus *Bus
}

func NewStore(db *gorm.DB, bus *Bus) *Store {
	return &Store{DB: db, Bus: bus}
}

var _ Watcher = (*Store)(nil)

func (s *Store) Events(ctx context.Context, collection string) (<-chan DocEvent, error) {
	return s.Bus.Events(ctx, collection)
}

// Snapshot answers the initial state of a live query. The membership set
// must already satisfy the backend limit; oversized sets are the
// multiplexer's job to chunk.
func (s *Store) Snapshot(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultChunkLimit
	}

	switch {
	case q.Collection == CollectionQuickies && q.Field == "authorId":
		var quickies []model.Quickie
		err := s.DB.WithContext(ctx).
			Where("author_id IN ?", q.In).
			Order("created_at DESC NULLS FIRST").
			Limit(limit).
			Find(&quickies).Error
		if err != nil {
			return nil, errors.Wrap(err, "quickie snapshot")
		}
		return quickieDocuments(quickies)

	case q.Collection == CollectionQuickies && q.Field == "tag":
		var quickies []model.Quickie
		err := s.DB.WithContext(ctx).
			Where("jsonb_exists_any(tags, ?)", pq.Array(q.In)).
			Order("created_at DESC NULLS FIRST").
			Limit(limit).
			Find(&quickies).Error
		if err != nil {
			return nil, errors.Wrap(err, "tagged quickie snapshot")
		}
		return quickieDocuments(quickies)

	case q.Collection == CollectionNotifications && q.Field == "userId":
		var notifications []model.Notification
		err := s.DB.WithContext(ctx).
			Where("user_id IN ?", q.In).
			Order("created_at DESC").
			Limit(limit).
			Find(&notifications).Error
		if err != nil {
			return nil, errors.Wrap(err, "notification snapshot")
		}
		docs := make([]Document, 0, len(notifications))
		for _, n := range notifications {
			doc, err := NotificationDocument(n)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		return docs, nil

	case q.Collection == CollectionConversations && q.Field == "memberId":
		var conversations []model.Conversation
		err := s.DB.WithContext(ctx).
			Where("jsonb_exists_any(members, ?)", pq.Array(q.In)).
			Order("last_message_at DESC NULLS LAST").
			Limit(limit).
			Find(&conversations).Error
		if err != nil {
			return nil, errors.Wrap(err, "conversation snapshot")
		}
		docs := make([]Document, 0, len(conversations))
		for _, c := range conversations {
			doc, err := ConversationDocument(c)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		return docs, nil

	case q.Collection == CollectionReports && q.Field == "status":
		var reports []model.Report
		err := s.DB.WithContext(ctx).
			Where("status IN ?", q.In).
			Order("created_at ASC").
			Limit(limit).
			Find(&reports).Error
		if err != nil {
			return nil, errors.Wrap(err, "report snapshot")
		}
		docs := make([]Document, 0, len(reports))
		for _, r := range reports {
			doc, err := ReportDocument(r)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		return docs, nil

	case q.Collection == CollectionPresence && q.Field == "userId":
		var presences []model.UserPresence
		err := s.DB.WithContext(ctx).
			Where("user_id IN ?", q.In).
			Find(&presences).Error
		if err != nil {
			return nil, errors.Wrap(err, "presence snapshot")
		}
		docs := make([]Document, 0, len(presences))
		for _, p := range presences {
			docs = append(docs, PresenceDocument(p))
		}
		return docs, nil
	}

	return nil, errors.Errorf("unsupported snapshot query %s/%s", q.Collection, q.Field)
}

// PublishChange emits a change event after a committed write. The write has
// already happened, so a publish failure is logged and swallowed; watchers
// reconcile from the next snapshot.
func (s *Store) PublishChange(kind ChangeKind, collection string, doc Document) {
	err := s.Bus.Publish(DocEvent{Kind: kind, Collection: collection, Doc: doc})
	if err != nil {
		Logger.LogV2.Errorf("change publish failed for %s/%s: %v", collection, doc.ID, err)
	}
}

// QuickieDocument snapshots a quickie row for watchers.
func QuickieDocument(q model.Quickie) (Document, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return Document{}, err
	}
	tags, err := q.TagSet()
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:   q.Id,
		Data: data,
		Fields: map[string][]string{
			"authorId": {q.AuthorId},
			"tag":      tags,
		},
		UpdatedAt: q.UpdatedAt,
	}, nil
}

func quickieDocuments(quickies []model.Quickie) ([]Document, error) {
	docs := make([]Document, 0, len(quickies))
	for _, q := range quickies {
		doc, err := QuickieDocument(q)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func NotificationDocument(n model.Notification) (Document, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:        n.Id,
		Data:      data,
		Fields:    map[string][]string{"userId": {n.UserId}},
		UpdatedAt: n.CreatedAt,
	}, nil
}

func ReportDocument(r model.Report) (Document, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:        r.Id,
		Data:      data,
		Fields:    map[string][]string{"status": {string(r.Status)}},
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func ConversationDocument(c model.Conversation) (Document, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return Document{}, err
	}
	members, err := c.MemberSet()
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:        c.Id,
		Data:      data,
		Fields:    map[string][]string{"memberId": members},
		UpdatedAt: c.UpdatedAt,
	}, nil
}

func PresenceDocument(p model.UserPresence) Document {
	data, _ := json.Marshal(p)
	return Document{
		ID:        p.UserId,
		Data:      data,
		Fields:    map[string][]string{"userId": {p.UserId}},
		UpdatedAt: p.LastChanged,
	}
}

// Migrate creates or updates the engine's tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.FollowEdge{},
		&model.FollowRequest{},
		&model.Quickie{},
		&model.Notification{},
		&model.Report{},
		&model.Conversation{},
		&model.Message{},
		&model.UserPresence{},
	)
}
