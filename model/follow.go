package model

import "time"

/*

FollowEdge is a directed follow relation (follower -> followee)

The pair (FollowerId, FolloweeId) is unique. Counter updates on the two
profiles happen in the same transaction that creates or deletes the edge so
edge existence and counters stay consistent.

*/

type FollowEdge struct {
	Id         string `gorm:"primaryKey"`
	CreatedAt  time.Time
	FollowerId string `gorm:"uniqueIndex:idx_follow_pair"`
	FolloweeId string `gorm:"uniqueIndex:idx_follow_pair"`
}

type FollowRequestStatus string

const (
	FollowRequestPending  FollowRequestStatus = "pending"
	FollowRequestAccepted FollowRequestStatus = "accepted"
	FollowRequestDeclined FollowRequestStatus = "declined"
)

/*

FollowRequest gates edge creation for private accounts

Only an accepted request creates the FollowEdge; pending and declined
requests never touch the counters.

*/

type FollowRequest struct {
	Id          string `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RequesterId string `gorm:"uniqueIndex:idx_follow_request_pair"`
	TargetId    string `gorm:"uniqueIndex:idx_follow_request_pair"`
	Status      FollowRequestStatus
}
