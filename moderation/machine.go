package moderation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quickies-app/realtime-backend/engagement"
	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/notification"
	"github.com/quickies-app/realtime-backend/store"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Messages delivered per outcome. Consumers style by the type tag, the text
// is informational only.
const (
	msgNoAction         = "Your content was reviewed and no action was taken."
	msgNoViolation      = "The reported content was reviewed and no violation was found."
	msgContentRemoved   = "Your content was removed for violating community guidelines. This is a warning."
	msgReporterThanks   = "Thanks for your report. The content has been removed."
	msgAccountSuspended = "Your content was removed and your account has been suspended."
)

// Machine processes moderation decisions. A decision is a single logical
// transaction: content mutation, notification fan-out, and the report status
// transition commit together or not at all, so a report can never read
// Approved/Rejected without the affected parties having been informed.
type Machine struct {
	store   *store.Store
	router  *notification.Router
	content *engagement.Service
}

func NewMachine(st *store.Store, router *notification.Router, content *engagement.Service) *Machine {
	return &Machine{store: st, router: router, content: content}
}

// Report files one report against a piece of content. One report document
// aggregates every filing against the same content, keyed by the content id.
// A filing against content whose previous report already settled opens a
// fresh Pending cycle, preserving the filing log.
func (m *Machine) Report(ctx context.Context, quickieId, reporterId, message string) error {
	var updated model.Report
	err := m.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q model.Quickie
		err := tx.Where("id = ?", quickieId).First(&q).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(store.ErrNotFound, "quickie %s", quickieId)
		}
		if err != nil {
			return errors.Wrap(err, "content lookup")
		}

		filing := model.ReportComment{Date: time.Now(), Message: message, User: reporterId}

		var r model.Report
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", quickieId).First(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r, err = newReport(q, filing)
			if err != nil {
				return err
			}
			if err := tx.Create(&r).Error; err != nil {
				return errors.Wrap(err, "report create")
			}
			updated = r
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "report lookup")
		}

		log, err := r.CommentLog()
		if err != nil {
			return errors.Wrap(err, "report log decode")
		}
		log = append(log, filing)
		encoded, err := json.Marshal(log)
		if err != nil {
			return errors.Wrap(err, "report log encode")
		}

		updates := map[string]interface{}{
			"num_reports": gorm.Expr("num_reports + 1"),
			"comments":    string(encoded),
		}
		if r.Status != model.ReportPending {
			// previous cycle settled, open a new one
			updates["status"] = model.ReportPending
			updates["reject_reason"] = ""
		}
		if err := tx.Model(&model.Report{}).Where("id = ?", r.Id).Updates(updates).Error; err != nil {
			return errors.Wrap(err, "report update")
		}

		r.NumReports++
		r.Comments = encoded
		r.Status = model.ReportPending
		r.RejectReason = ""
		updated = r
		return nil
	})
	if err != nil {
		return err
	}
	m.publishReport(updated)
	return nil
}

// Decide settles a Pending report. action "approve" leaves the content
// alone; action "reject" carries a sub-reason (dismiss, warn, suspend) that
// determines side effects. Deciding a non-Pending report fails with a state
// conflict and performs no mutation. Exactly-once: a second identical call
// cannot re-delete content or re-notify anyone.
//
// Content deleted out-of-band before the decision lands takes the orphan
// path: the report is purged with zero notifications, same as the sweep, and
// the moderator sees success rather than an error.
func (m *Machine) Decide(ctx context.Context, reportId string, action Action, reason model.RejectReason) error {
	var (
		built    []model.Notification
		removed  *model.Quickie
		settled  model.Report
		orphaned bool
	)

	err := m.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		built = nil
		removed = nil
		orphaned = false

		var r model.Report
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", reportId).First(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(store.ErrNotFound, "report %s", reportId)
		}
		if err != nil {
			return errors.Wrap(err, "report lookup")
		}
		if r.Status != model.ReportPending {
			return errors.Wrapf(store.ErrStateConflict, "report %s already %s", reportId, r.Status)
		}

		// lock the content row so it cannot vanish mid-decision
		var q model.Quickie
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", r.Id).First(&q).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// the content's disappearance supersedes moderation: purge,
			// notify nobody
			if err := tx.Where("id = ?", r.Id).Delete(&model.Report{}).Error; err != nil {
				return errors.Wrap(err, "orphan purge")
			}
			settled = r
			orphaned = true
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "content check")
		}

		reporters, err := r.Reporters()
		if err != nil {
			return errors.Wrap(err, "reporter list")
		}

		var pending []model.Notification
		updates := map[string]interface{}{}

		switch {
		case action == ActionApprove:
			pending = append(pending, notification.Moderation(model.ModerationNoAction, r.UserId, r.Id, msgNoAction))
			updates["status"] = model.ReportApproved

		case action == ActionReject && reason == model.RejectDismiss:
			pending = append(pending, notification.Moderation(model.ModerationNoViolation, r.UserId, r.Id, msgNoViolation))
			for _, reporter := range reporters {
				if reporter == r.UserId {
					continue
				}
				pending = append(pending, notification.Moderation(model.ModerationNoViolation, reporter, r.Id, msgNoViolation))
			}
			updates["status"] = model.ReportRejected
			updates["reject_reason"] = model.RejectDismiss

		case action == ActionReject && (reason == model.RejectWarn || reason == model.RejectSuspend):
			q, err := m.content.DeleteQuickieInTx(tx, r.Id)
			if err != nil {
				return err
			}
			removed = &q

			authorSubtype := model.ModerationContentRemoved
			authorMsg := msgContentRemoved
			if reason == model.RejectSuspend {
				authorSubtype = model.ModerationAccountSuspended
				authorMsg = msgAccountSuspended
			}
			pending = append(pending, notification.Moderation(authorSubtype, r.UserId, r.Id, authorMsg))
			for _, reporter := range reporters {
				if reporter == r.UserId {
					continue
				}
				pending = append(pending, notification.Moderation(model.ModerationReporterThanks, reporter, r.Id, msgReporterThanks))
			}
			updates["status"] = model.ReportRejected
			updates["reject_reason"] = reason

		default:
			return errors.Errorf("unknown moderation action %q/%q", action, reason)
		}

		for _, n := range pending {
			created, ok, err := m.router.EmitInTx(tx, n)
			if err != nil {
				// the status update below never commits without delivery
				return err
			}
			if ok {
				built = append(built, created)
			}
		}

		if err := tx.Model(&model.Report{}).Where("id = ?", r.Id).Updates(updates).Error; err != nil {
			return errors.Wrap(err, "report settle")
		}

		settled = r
		settled.Status = updates["status"].(model.ReportStatus)
		if reason, ok := updates["reject_reason"].(model.RejectReason); ok {
			settled.RejectReason = reason
		}
		return nil
	})
	if err != nil {
		return err
	}

	if orphaned {
		if doc, docErr := store.ReportDocument(settled); docErr == nil {
			m.store.PublishChange(store.ChangeRemoved, store.CollectionReports, doc)
		}
		Logger.LogV2.Infof("purged orphan report %s on decide", settled.Id)
		return nil
	}

	m.router.AfterCommit(ctx, built)
	if removed != nil {
		m.content.PublishRemoved(*removed)
	}
	m.publishReport(settled)
	return nil
}

// Sweep purges Pending reports whose content was deleted out-of-band. The
// content's disappearance supersedes moderation: the orphan is removed with
// zero notifications.
func (m *Machine) Sweep(ctx context.Context) (int, error) {
	var pending []model.Report
	err := m.store.DB.WithContext(ctx).
		Where("status = ?", model.ReportPending).
		Find(&pending).Error
	if err != nil {
		return 0, errors.Wrap(err, "pending scan")
	}

	purged := 0
	for _, r := range pending {
		var count int64
		err := m.store.DB.WithContext(ctx).Model(&model.Quickie{}).
			Where("id = ?", r.Id).
			Count(&count).Error
		if err != nil {
			return purged, errors.Wrap(err, "content check")
		}
		if count > 0 {
			continue
		}

		err = m.store.DB.WithContext(ctx).Where("id = ?", r.Id).Delete(&model.Report{}).Error
		if err != nil {
			return purged, errors.Wrap(err, "orphan purge")
		}
		purged++
		if doc, docErr := store.ReportDocument(r); docErr == nil {
			m.store.PublishChange(store.ChangeRemoved, store.CollectionReports, doc)
		}
		Logger.LogV2.Infof("purged orphan report %s", r.Id)
	}
	return purged, nil
}

// PendingReports lists the open moderation queue, oldest first.
func (m *Machine) PendingReports(ctx context.Context) ([]model.Report, error) {
	var reports []model.Report
	err := m.store.DB.WithContext(ctx).
		Where("status = ?", model.ReportPending).
		Order("created_at ASC").
		Find(&reports).Error
	if err != nil {
		return nil, errors.Wrap(err, "pending reports")
	}
	return reports, nil
}

func (m *Machine) publishReport(r model.Report) {
	if r.Id == "" {
		return
	}
	doc, err := store.ReportDocument(r)
	if err != nil {
		Logger.LogV2.Errorf("report document for %s: %v", r.Id, err)
		return
	}
	m.store.PublishChange(store.ChangeModified, store.CollectionReports, doc)
}

func newReport(q model.Quickie, filing model.ReportComment) (model.Report, error) {
	log, err := json.Marshal([]model.ReportComment{filing})
	if err != nil {
		return model.Report{}, errors.Wrap(err, "report log encode")
	}
	return model.Report{
		Id:         q.Id,
		NumReports: 1,
		Comments:   datatypes.JSON(log),
		Status:     model.ReportPending,
		Type:       "quickie",
		Content:    q.Text,
		UserId:     q.AuthorId,
	}, nil
}
