package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"inbox-sync-go/internal/model"
)

// Classification is the outcome written to an inbox message.
// A nil Classification only flags the message for review.
type Classification struct {
	Classification  *model.ReplyClassification
	ConfidenceScore *int
	Method          *model.ClassificationMethod
	NeedsReview     bool
}

// FindLatestSentEmailByThread returns the most recent sent email on a thread,
// with its scheduled email preloaded, or nil when the thread is unknown.
func (r *Repository) FindLatestSentEmailByThread(ctx context.Context, workspaceID, threadID string) (*model.SentEmail, error) {
	var sent model.SentEmail
	result := r.db.WithContext(ctx).
		Preload("ScheduledEmail").
		Where("workspace_id = ? AND thread_id = ?", workspaceID, threadID).
		Order("sent_at DESC").
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

// FindProspectByEmail returns the workspace prospect with the given address, or nil
func (r *Repository) FindProspectByEmail(ctx context.Context, workspaceID, email string) (*model.Prospect, error) {
	var p model.Prospect
	ok, err := r.find(ctx, &p, "workspace_id = ? AND email = ?", workspaceID, email)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// UpsertConversation inserts c or, when (workspace, thread) already exists,
// advances last_message_at and fills link fields that are still unset.
// The stored row is returned.
func (r *Repository) UpsertConversation(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	db := r.db.WithContext(ctx)

	if c.Status == "" {
		c.Status = model.ConversationOpen
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "thread_id"}},
		DoNothing: true,
	}).Create(c)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to upsert conversation: %w", result.Error)
	}

	var stored model.Conversation
	if err := r.first(ctx, &stored, "workspace_id = ? AND thread_id = ?", c.WorkspaceID, c.ThreadID); err != nil {
		return nil, err
	}
	if result.RowsAffected > 0 {
		return &stored, nil
	}

	if err := r.enrichConversation(ctx, stored.ID, c); err != nil {
		return nil, err
	}

	if err := r.first(ctx, &stored, "id = ?", stored.ID); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *Repository) enrichConversation(ctx context.Context, id string, c *model.Conversation) error {
	db := r.db.WithContext(ctx).Model(&model.Conversation{})

	if !c.LastMessageAt.IsZero() {
		if err := db.Where("id = ? AND last_message_at < ?", id, c.LastMessageAt).
			Update("last_message_at", c.LastMessageAt).Error; err != nil {
			return fmt.Errorf("failed to advance conversation: %w", err)
		}
	}

	links := map[string]*string{
		"prospect_id": c.ProspectID,
		"campaign_id": c.CampaignID,
		"sequence_id": c.SequenceID,
	}
	for column, value := range links {
		if value == nil {
			continue
		}
		err := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ? AND "+column+" IS NULL", id).
			Update(column, *value).Error
		if err != nil {
			return fmt.Errorf("failed to link conversation %s: %w", column, err)
		}
	}
	return nil
}

// UpsertInboxMessage inserts m unless (conversation, gmail message) already
// exists. It returns the stored row and whether it was created now.
func (r *Repository) UpsertInboxMessage(ctx context.Context, m *model.InboxMessage) (*model.InboxMessage, bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "gmail_message_id"}},
		DoNothing: true,
	}).Create(m)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to upsert inbox message: %w", result.Error)
	}

	var stored model.InboxMessage
	if err := r.first(ctx, &stored, "conversation_id = ? AND gmail_message_id = ?", m.ConversationID, m.GmailMessageID); err != nil {
		return nil, false, err
	}
	return &stored, result.RowsAffected > 0, nil
}

// GetInboxMessage returns an inbox message by id
func (r *Repository) GetInboxMessage(ctx context.Context, id string) (*model.InboxMessage, error) {
	var m model.InboxMessage
	if err := r.first(ctx, &m, "id = ?", id); err != nil {
		return nil, err
	}
	return &m, nil
}

// SetClassification writes c to a message that has not been classified yet.
// It reports false when the message already carries a classification.
func (r *Repository) SetClassification(ctx context.Context, messageID string, c Classification) (bool, error) {
	updates := map[string]interface{}{"needs_review": c.NeedsReview}
	if c.Classification != nil {
		updates["classification"] = *c.Classification
		if c.ConfidenceScore != nil {
			updates["confidence_score"] = *c.ConfidenceScore
		}
		if c.Method != nil {
			updates["classification_method"] = *c.Method
		}
	}

	result := r.db.WithContext(ctx).Model(&model.InboxMessage{}).
		Where("id = ? AND classification IS NULL", messageID).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to set classification: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// PendingClassifications returns inbound messages of a workspace that still
// await a classification, oldest first.
func (r *Repository) PendingClassifications(ctx context.Context, workspaceID string, limit int) ([]model.InboxMessage, error) {
	db := r.db.WithContext(ctx)
	conversations := db.Model(&model.Conversation{}).Select("id").Where("workspace_id = ?", workspaceID)

	var msgs []model.InboxMessage
	result := db.
		Where("conversation_id IN (?)", conversations).
		Where("direction = ? AND classification IS NULL AND needs_review = ?", model.DirectionInbound, true).
		Order("received_at ASC").
		Limit(limit).
		Find(&msgs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get pending classifications: %w", result.Error)
	}
	return msgs, nil
}

// PriorMessages returns up to limit messages of a conversation received
// before the given time, oldest first.
func (r *Repository) PriorMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]model.InboxMessage, error) {
	var msgs []model.InboxMessage
	result := r.db.WithContext(ctx).
		Where("conversation_id = ? AND received_at < ?", conversationID, before).
		Order("received_at DESC").
		Limit(limit).
		Find(&msgs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get prior messages: %w", result.Error)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetConversation returns a conversation by id
func (r *Repository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	if err := r.first(ctx, &c, "id = ?", id); err != nil {
		return nil, err
	}
	return &c, nil
}
