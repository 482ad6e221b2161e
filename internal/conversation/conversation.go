// Package conversation serves the read side of the reply inbox.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"inbox-sync-go/internal/model"
)

const DefaultTake = 20

// ErrNotFound is returned when a conversation does not exist
var ErrNotFound = errors.New("conversation not found")

// Filters narrows a workspace listing
type Filters struct {
	Status    model.ConversationStatus
	HasUnread *bool
	DateFrom  *time.Time
	DateTo    *time.Time
}

// Page selects a window of results
type Page struct {
	Skip int
	Take int
}

// Summary is a conversation with its most recent message
type Summary struct {
	model.Conversation
	LatestMessage *model.InboxMessage `json:"latest_message"`
	UnreadCount   int64               `json:"unread_count"`
}

// List is one page of a workspace listing
type List struct {
	Items []Summary `json:"items"`
	Total int64     `json:"total"`
}

// Service queries conversations
type Service struct {
	db *gorm.DB
}

// NewService creates a Service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Get returns a conversation with its messages in received order
func (s *Service) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("received_at ASC")
		}).
		Preload("Prospect").
		Preload("Campaign").
		First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// ListForProspect returns a prospect's conversations, most recent first
func (s *Service) ListForProspect(ctx context.Context, prospectID string) ([]Summary, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Preload("Campaign").
		Where("prospect_id = ?", prospectID).
		Order("last_message_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	return s.summarize(ctx, convs)
}

// ListForWorkspace returns one page of a workspace's conversations, most
// recent first, with the total matching count.
func (s *Service) ListForWorkspace(ctx context.Context, workspaceID string, f Filters, p Page) (*List, error) {
	if p.Take <= 0 {
		p.Take = DefaultTake
	}
	if p.Skip < 0 {
		p.Skip = 0
	}

	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&model.Conversation{}).Where("workspace_id = ?", workspaceID)
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.DateFrom != nil {
			q = q.Where("last_message_at >= ?", *f.DateFrom)
		}
		if f.DateTo != nil {
			q = q.Where("last_message_at <= ?", *f.DateTo)
		}
		if f.HasUnread != nil {
			unread := s.db.Model(&model.InboxMessage{}).
				Select("conversation_id").
				Where("is_read = ? AND direction = ?", false, model.DirectionInbound)
			if *f.HasUnread {
				q = q.Where("id IN (?)", unread)
			} else {
				q = q.Where("id NOT IN (?)", unread)
			}
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	var convs []model.Conversation
	err := filtered().
		Preload("Prospect").
		Preload("Campaign").
		Order("last_message_at DESC").
		Offset(p.Skip).
		Limit(p.Take).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	items, err := s.summarize(ctx, convs)
	if err != nil {
		return nil, err
	}
	return &List{Items: items, Total: total}, nil
}

func (s *Service) summarize(ctx context.Context, convs []model.Conversation) ([]Summary, error) {
	items := make([]Summary, 0, len(convs))
	for _, conv := range convs {
		summary := Summary{Conversation: conv}

		var latest model.InboxMessage
		result := s.db.WithContext(ctx).
			Where("conversation_id = ?", conv.ID).
			Order("received_at DESC").
			Limit(1).
			Find(&latest)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to get latest message: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			summary.LatestMessage = &latest
		}

		err := s.db.WithContext(ctx).Model(&model.InboxMessage{}).
			Where("conversation_id = ? AND is_read = ? AND direction = ?", conv.ID, false, model.DirectionInbound).
			Count(&summary.UnreadCount).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count unread messages: %w", err)
		}

		items = append(items, summary)
	}
	return items, nil
}

// MarkRead marks the unread inbound messages of a conversation as read
func (s *Service) MarkRead(ctx context.Context, id string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&model.InboxMessage{}).
		Where("conversation_id = ? AND is_read = ? AND direction = ?", id, false, model.DirectionInbound).
		Update("is_read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// UnreadCount counts unread inbound messages across a workspace
func (s *Service) UnreadCount(ctx context.Context, workspaceID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.InboxMessage{}).
		Joins("JOIN conversations ON conversations.id = inbox_messages.conversation_id").
		Where("conversations.workspace_id = ? AND inbox_messages.is_read = ? AND inbox_messages.direction = ?",
			workspaceID, false, model.DirectionInbound).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}
