package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"inbox-sync-go/internal/model"
)

// GetScheduledEmail returns a scheduled email by id
func (r *Repository) GetScheduledEmail(ctx context.Context, id string) (*model.ScheduledEmail, error) {
	var s model.ScheduledEmail
	if err := r.first(ctx, &s, "id = ?", id); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetEnrollment returns a campaign enrollment by id
func (r *Repository) GetEnrollment(ctx context.Context, id string) (*model.CampaignEnrollment, error) {
	var e model.CampaignEnrollment
	if err := r.first(ctx, &e, "id = ?", id); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetProspect returns a prospect by id
func (r *Repository) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	var p model.Prospect
	if err := r.first(ctx, &p, "id = ?", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindFirstStepSentEmail returns the earliest sent email of step 1 for a
// (campaign, prospect) pair, or nil when step 1 was never sent.
func (r *Repository) FindFirstStepSentEmail(ctx context.Context, campaignID, prospectID string) (*model.SentEmail, error) {
	db := r.db.WithContext(ctx)
	firstSteps := db.Model(&model.ScheduledEmail{}).Select("id").Where("step_number = ?", 1)

	var sent model.SentEmail
	result := db.
		Where("campaign_id = ? AND prospect_id = ?", campaignID, prospectID).
		Where("scheduled_email_id IN (?)", firstSteps).
		Order("sent_at ASC").
		Limit(1).
		Find(&sent)
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &sent, nil
}

// CancelScheduledEmail cancels a single pending send
func (r *Repository) CancelScheduledEmail(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&model.ScheduledEmail{}).
		Where("id = ? AND status IN ?", id, model.CancellableScheduledStatuses).
		Update("status", model.ScheduledCancelled)
	if result.Error != nil {
		return fmt.Errorf("failed to cancel scheduled email: %w", result.Error)
	}
	return nil
}

// RecordSend stores sent and marks its scheduled email SENT
func (r *Repository) RecordSend(ctx context.Context, sent *model.SentEmail) error {
	return r.Transaction(ctx, func(tx *Repository) error {
		if err := tx.db.Create(sent).Error; err != nil {
			return fmt.Errorf("failed to record sent email: %w", err)
		}

		result := tx.db.Model(&model.ScheduledEmail{}).Where("id = ?", sent.ScheduledEmailID).
			Updates(map[string]interface{}{
				"status":     model.ScheduledSent,
				"message_id": sent.MessageID,
				"thread_id":  sent.ThreadID,
				"sent_at":    sent.SentAt,
				"last_error": nil,
				"attempts":   gorm.Expr("attempts + ?", 1),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to mark scheduled email sent: %w", result.Error)
		}
		return nil
	})
}

// RecordSendFailure marks a scheduled email FAILED with the last error
func (r *Repository) RecordSendFailure(ctx context.Context, id, lastError string) error {
	result := r.db.WithContext(ctx).Model(&model.ScheduledEmail{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.ScheduledFailed,
			"last_error": lastError,
			"attempts":   gorm.Expr("attempts + ?", 1),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record send failure: %w", result.Error)
	}
	return nil
}
