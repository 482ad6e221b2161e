// Package actions applies the automatic side effects of a classified reply.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"inbox-sync-go/internal/model"
	"inbox-sync-go/internal/repository"
)

const auditSource = "inbox-classification"

// Outcome describes what a dispatch changed
type Outcome struct {
	Action             string
	ProspectUpdated    bool
	EnrollmentsStopped int64
	SendsCancelled     int64
	EnrollmentsReplied int64
	Audited            bool
}

// Dispatcher applies auto-actions for classified inbound messages
type Dispatcher struct {
	repo *repository.Repository
	now  func() time.Time
}

// New creates a Dispatcher
func New(repo *repository.Repository) *Dispatcher {
	return &Dispatcher{repo: repo, now: time.Now}
}

// WithRepo returns a Dispatcher that runs on repo, typically an open transaction
func (d *Dispatcher) WithRepo(repo *repository.Repository) *Dispatcher {
	return &Dispatcher{repo: repo, now: d.now}
}

// Dispatch applies the action bound to category. It is safe to replay:
// repeated calls for the same message change nothing and audit nothing.
// A nil Outcome means the category has no action or the conversation has
// no prospect.
func (d *Dispatcher) Dispatch(ctx context.Context, messageID, conversationID string, category model.ReplyClassification) (*Outcome, error) {
	switch category {
	case model.ClassUnsubscribe, model.ClassBounce, model.ClassInterested:
	default:
		return nil, nil
	}

	conv, err := d.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.ProspectID == nil {
		return nil, nil
	}

	if category == model.ClassInterested {
		return d.markReplied(ctx, conv)
	}
	return d.suppress(ctx, messageID, conv, category)
}

func (d *Dispatcher) markReplied(ctx context.Context, conv *model.Conversation) (*Outcome, error) {
	n, err := d.repo.MarkEnrollmentsReplied(ctx, *conv.ProspectID, conv.CampaignID)
	if err != nil {
		return nil, err
	}

	if n > 0 {
		logrus.WithFields(logrus.Fields{
			"prospect_id": *conv.ProspectID,
			"enrollments": n,
		}).Info("Marked enrollments replied")
	}
	return &Outcome{Action: "interested", EnrollmentsReplied: n}, nil
}

func (d *Dispatcher) suppress(ctx context.Context, messageID string, conv *model.Conversation, category model.ReplyClassification) (*Outcome, error) {
	status := model.ProspectUnsubscribed
	action := model.AuditProspectUnsubscribed
	name := "unsubscribe"
	if category == model.ClassBounce {
		status = model.ProspectBounced
		action = model.AuditProspectBounced
		name = "bounce"
	}

	workspace, err := d.repo.GetWorkspace(ctx, conv.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}

	prospectID := *conv.ProspectID
	outcome := &Outcome{Action: name}

	err = d.repo.Transaction(ctx, func(tx *repository.Repository) error {
		changed, err := tx.SetProspectStatus(ctx, prospectID, status)
		if err != nil {
			return err
		}
		outcome.ProspectUpdated = changed > 0

		if outcome.EnrollmentsStopped, err = tx.StopEnrollments(ctx, prospectID); err != nil {
			return err
		}
		if outcome.SendsCancelled, err = tx.CancelScheduledEmails(ctx, prospectID); err != nil {
			return err
		}

		if !outcome.ProspectUpdated {
			return nil
		}

		metadata, err := json.Marshal(map[string]string{
			"source":         auditSource,
			"messageId":      messageID,
			"conversationId": conv.ID,
			"createdAt":      d.now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}

		outcome.Audited = true
		return tx.CreateAuditLog(ctx, &model.AuditLog{
			WorkspaceID: conv.WorkspaceID,
			UserID:      workspace.UserID,
			Action:      action,
			EntityType:  model.EntityProspect,
			EntityID:    prospectID,
			Metadata:    string(metadata),
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"prospect_id":         prospectID,
		"action":              name,
		"prospect_updated":    outcome.ProspectUpdated,
		"enrollments_stopped": outcome.EnrollmentsStopped,
		"sends_cancelled":     outcome.SendsCancelled,
	}).Info("Applied auto-action")

	return outcome, nil
}
