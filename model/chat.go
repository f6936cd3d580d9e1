package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

/*

Conversation is a data model for a direct or group chat thread

Members: set of participant userIds, stored as a JSONB array
LastMessage / LastMessageAt: denormalized preview of the newest message
ReadBy: members who have read the newest message
LastRead: per-member timestamp of their newest read

A conversation that never receives a message is transient and is deleted by
the cleanup pass; the pass re-queries message existence immediately before
deleting to avoid racing an in-flight send.

*/

type Conversation struct {
	Id            string `gorm:"primaryKey"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Members       datatypes.JSON
	IsGroup       bool
	LastMessage   string
	LastMessageAt *time.Time
	ReadBy        datatypes.JSON
	LastRead      datatypes.JSON
}

type Message struct {
	Id             string `gorm:"primaryKey"`
	ConversationId string `gorm:"index"`
	SenderId       string
	Text           string
	MediaUrl       string
	Timestamp      time.Time
	ReadBy         datatypes.JSON
}

// MemberSet decodes the JSONB members array.
func (c *Conversation) MemberSet() ([]string, error) {
	if len(c.Members) == 0 {
		return nil, nil
	}
	var members []string
	err := json.Unmarshal(c.Members, &members)
	return members, err
}

// LastReadMap decodes the per-member read timestamps.
func (c *Conversation) LastReadMap() (map[string]time.Time, error) {
	if len(c.LastRead) == 0 {
		return map[string]time.Time{}, nil
	}
	var m map[string]time.Time
	err := json.Unmarshal(c.LastRead, &m)
	return m, err
}
