package repository

import (
	"context"
	"fmt"

	"inbox-sync-go/internal/model"
)

// SetProspectStatus moves a prospect to status and reports how many rows
// changed. A prospect already in status is left untouched.
func (r *Repository) SetProspectStatus(ctx context.Context, prospectID string, status model.ProspectStatus) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Prospect{}).
		Where("id = ? AND status <> ?", prospectID, status).
		Update("status", status)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to update prospect status: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// StopEnrollments stops every enrollment of a prospect that can still send
func (r *Repository) StopEnrollments(ctx context.Context, prospectID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.CampaignEnrollment{}).
		Where("prospect_id = ? AND enrollment_status NOT IN ?", prospectID, model.TerminalEnrollmentStatuses).
		Update("enrollment_status", model.EnrollmentStopped)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to stop enrollments: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CancelScheduledEmails cancels pending sends to a prospect
func (r *Repository) CancelScheduledEmails(ctx context.Context, prospectID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.ScheduledEmail{}).
		Where("prospect_id = ? AND status IN ?", prospectID, model.CancellableScheduledStatuses).
		Update("status", model.ScheduledCancelled)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel scheduled emails: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// MarkEnrollmentsReplied flags active enrollments of a prospect as replied.
// When campaignID is set only that campaign's enrollment is touched.
func (r *Repository) MarkEnrollmentsReplied(ctx context.Context, prospectID string, campaignID *string) (int64, error) {
	query := r.db.WithContext(ctx).Model(&model.CampaignEnrollment{}).
		Where("prospect_id = ? AND enrollment_status IN ?", prospectID,
			[]model.EnrollmentStatus{model.EnrollmentEnrolled, model.EnrollmentPaused})
	if campaignID != nil {
		query = query.Where("campaign_id = ?", *campaignID)
	}

	result := query.Update("enrollment_status", model.EnrollmentReplied)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark enrollments replied: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CreateAuditLog appends an audit entry
func (r *Repository) CreateAuditLog(ctx context.Context, entry *model.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// AuditLogsForEntity lists audit entries of an entity, oldest first
func (r *Repository) AuditLogsForEntity(ctx context.Context, entityType model.AuditEntityType, entityID string) ([]model.AuditLog, error) {
	var logs []model.AuditLog
	result := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&logs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get audit logs: %w", result.Error)
	}
	return logs, nil
}
