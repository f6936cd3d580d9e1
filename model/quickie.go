package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

/*

Quickie is a data model for one content post

Id: primary key
AuthorId: user who created the post
Text: body of the post
Tags: set of tag strings, stored as a JSONB array
MediaUrl: optional object-store URL embedded by the media layer
Likes: set of userIds who liked the post, stored as a JSONB array
LikesCount: denormalized counter, mutated only by atomic ops paired with the
set mutation. Invariant: LikesCount == |Likes| after every operation.
Comments: ordered JSONB array of Comment, append only, displayed by CreatedAt
ascending. CommentsCount == |Comments| under the same pairing rule.

CreatedAt may be nil for an optimistic local write that the server has not
acknowledged yet; the feed sorts those to the front until acknowledged.

*/

type Quickie struct {
	Id            string `gorm:"primaryKey"`
	AuthorId      string `gorm:"index"`
	Text          string
	Tags          datatypes.JSON
	MediaUrl      string
	Likes         datatypes.JSON
	LikesCount    int64
	Comments      datatypes.JSON
	CommentsCount int64
	CreatedAt     *time.Time
	UpdatedAt     time.Time
}

// Comment is embedded in the parent quickie's Comments array. Author display
// fields are denormalized for read speed; the profile backfill job refreshes
// them best-effort on profile edit.
type Comment struct {
	Text       string           `json:"text"`
	UserId     string           `json:"userId"`
	UserName   string           `json:"userName"`
	UserAvatar string           `json:"userAvatar"`
	Handle     string           `json:"handle"`
	CreatedAt  time.Time        `json:"createdAt"`
	Reactions  map[string]int64 `json:"reactions,omitempty"`
}

// LikeSet decodes the JSONB likes array.
func (q *Quickie) LikeSet() ([]string, error) {
	if len(q.Likes) == 0 {
		return nil, nil
	}
	var likes []string
	err := json.Unmarshal(q.Likes, &likes)
	return likes, err
}

// CommentList decodes the JSONB comments array in stored (append) order.
func (q *Quickie) CommentList() ([]Comment, error) {
	if len(q.Comments) == 0 {
		return nil, nil
	}
	var comments []Comment
	err := json.Unmarshal(q.Comments, &comments)
	return comments, err
}

// TagSet decodes the JSONB tags array.
func (q *Quickie) TagSet() ([]string, error) {
	if len(q.Tags) == 0 {
		return nil, nil
	}
	var tags []string
	err := json.Unmarshal(q.Tags, &tags)
	return tags, err
}
