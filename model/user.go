package model

import (
	"time"

	"gorm.io/gorm"
)

/*

User is a data model for a quickies user profile

Id: primary key, use to identify a user
CreatedAt: time when entity is created
DeletedAt: time when entity is deleted

Name: display name of a user, can be changed, don't need to be unique
Handle: unique short name, used for mentions
AvatarUrl: user's icon URL
IsPrivate: when true, follow edges are gated behind a FollowRequest
FollowersCount / FollowingCount: denormalized counters, updated transactionally
alongside the follow edge, never recomputed by scanning

*/

type User struct {
	Id             string `gorm:"primaryKey"`
	CreatedAt      time.Time
	DeletedAt      gorm.DeletedAt
	Name           string
	Handle         string `gorm:"uniqueIndex"`
	AvatarUrl      string
	Email          string
	IsPrivate      bool
	FollowersCount int64
	FollowingCount int64
}

func (u User) GetID() string        { return u.Id }
func (u User) GetName() string      { return u.Name }
func (u User) GetAvatarURL() string { return u.AvatarUrl }
