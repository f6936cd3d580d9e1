package model

import "time"

// NotificationType is a closed set of variants so that routing and rendering
// logic can be checked for exhaustiveness instead of dispatching on free-form
// strings.
type NotificationType string

const (
	NotificationLike          NotificationType = "like"
	NotificationComment       NotificationType = "comment"
	NotificationFollow        NotificationType = "follow"
	NotificationFollowRequest NotificationType = "follow_request"
	NotificationModeration    NotificationType = "moderation"
)

// ModerationSubtype refines NotificationModeration with the concrete outcome
// so consumers can style severity without parsing the message text.
type ModerationSubtype string

const (
	ModerationNoAction         ModerationSubtype = "no_action"
	ModerationNoViolation      ModerationSubtype = "no_violation"
	ModerationContentRemoved   ModerationSubtype = "content_removed"
	ModerationReporterThanks   ModerationSubtype = "reporter_thanks"
	ModerationAccountSuspended ModerationSubtype = "account_suspended"
)

// ModerationSender is the sentinel FromUserId on moderation-origin
// notifications, never a real user id.
const ModerationSender = "Moderation"

type NotificationSeverity string

const (
	SeverityInfo     NotificationSeverity = "info"
	SeverityWarning  NotificationSeverity = "warning"
	SeverityCritical NotificationSeverity = "critical"
)

/*

Notification is a data model for one delivered notification event

FromUserId: triggering user, or the ModerationSender sentinel
UserId: recipient
QuickieId: subject content for like/comment/moderation variants
IsRead: the only field mutated after creation
PendingRemoval: set during phase one of dismissal; the row still counts
toward unread totals until phase two deletes it

*/

type Notification struct {
	Id                string `gorm:"primaryKey"`
	Type              NotificationType
	ModerationSubtype ModerationSubtype
	FromUserId        string
	UserId            string `gorm:"index"`
	QuickieId         string
	Message           string
	CreatedAt         time.Time
	IsRead            bool
	PendingRemoval    bool
}

// Severity maps the closed variant set to styling metadata. Moderation
// severity is type-tagged, never inferred from message text.
func (n Notification) Severity() NotificationSeverity {
	if n.Type != NotificationModeration {
		return SeverityInfo
	}
	switch n.ModerationSubtype {
	case ModerationContentRemoved:
		return SeverityWarning
	case ModerationAccountSuspended:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}
