package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type ReportStatus string

const (
	ReportPending  ReportStatus = "Pending"
	ReportApproved ReportStatus = "Approved"
	ReportRejected ReportStatus = "Rejected"
)

// RejectReason is the sub-reason carried by a Rejected report and determines
// the side effects of the decision.
type RejectReason string

const (
	RejectDismiss RejectReason = "dismiss"
	RejectWarn    RejectReason = "warn"
	RejectSuspend RejectReason = "suspend"
)

/*

Report aggregates every report filed against one piece of content

Id doubles as the reported content's id: one report document per content.
Comments is the JSONB log of individual filings {date, message, user}; the
distinct user values of that log are the reporter set for notification
fan-out. UserId is the content's original author.

Approved and Rejected are terminal; the state machine refuses any decision
on a non-Pending report.

*/

type Report struct {
	Id           string `gorm:"primaryKey"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	NumReports   int64
	Comments     datatypes.JSON
	Status       ReportStatus
	RejectReason RejectReason
	Type         string
	Content      string
	UserId       string
}

// ReportComment is one filing in the report's comment log.
type ReportComment struct {
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
	User    string    `json:"user"`
}

// CommentLog decodes the JSONB filings array.
func (r *Report) CommentLog() ([]ReportComment, error) {
	if len(r.Comments) == 0 {
		return nil, nil
	}
	var log []ReportComment
	err := json.Unmarshal(r.Comments, &log)
	return log, err
}

// Reporters returns the distinct users in the comment log, in first-seen
// order. Multiple filings by the same user collapse to one entry.
func (r *Report) Reporters() ([]string, error) {
	log, err := r.CommentLog()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var reporters []string
	for _, c := range log {
		if seen[c.User] {
			continue
		}
		seen[c.User] = true
		reporters = append(reporters, c.User)
	}
	return reporters, nil
}
