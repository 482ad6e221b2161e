package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation groups the inbox messages of one Gmail thread in a workspace.
// Link fields are only ever filled, never cleared.
type Conversation struct {
	ID            string             `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID   string             `json:"workspace_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_conversation_workspace_thread"`
	ThreadID      string             `json:"thread_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_conversation_workspace_thread"`
	ProspectID    *string            `json:"prospect_id" gorm:"type:varchar(36);index"`
	CampaignID    *string            `json:"campaign_id" gorm:"type:varchar(36);index"`
	SequenceID    *string            `json:"sequence_id" gorm:"type:varchar(36)"`
	Status        ConversationStatus `json:"status" gorm:"type:varchar(32);not null;default:OPEN"`
	LastMessageAt time.Time          `json:"last_message_at" gorm:"index"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`

	Prospect *Prospect      `json:"prospect,omitempty" gorm:"foreignKey:ProspectID"`
	Campaign *Campaign      `json:"campaign,omitempty" gorm:"foreignKey:CampaignID"`
	Messages []InboxMessage `json:"messages,omitempty" gorm:"foreignKey:ConversationID"`
}

// TableName specifies the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// InboxMessage is one Gmail message stored under a conversation
type InboxMessage struct {
	ID                   string                `json:"id" gorm:"type:varchar(36);primaryKey"`
	ConversationID       string                `json:"conversation_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_message_conversation_gmail"`
	GmailMessageID       string                `json:"gmail_message_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_message_conversation_gmail"`
	Direction            Direction             `json:"direction" gorm:"type:varchar(16);not null"`
	Subject              *string               `json:"subject" gorm:"type:text"`
	BodyRaw              string                `json:"body_raw" gorm:"type:text"`
	BodyCleaned          *string               `json:"body_cleaned" gorm:"type:text"`
	FromEmail            string                `json:"from_email" gorm:"type:varchar(255)"`
	ToEmail              string                `json:"to_email" gorm:"type:varchar(255)"`
	ReceivedAt           time.Time             `json:"received_at" gorm:"index"`
	IsRead               bool                  `json:"is_read" gorm:"not null;default:false"`
	Classification       *ReplyClassification  `json:"classification" gorm:"type:varchar(32);index"`
	ConfidenceScore      *int                  `json:"confidence_score"`
	ClassificationMethod *ClassificationMethod `json:"classification_method" gorm:"type:varchar(8)"`
	NeedsReview          bool                  `json:"needs_review" gorm:"not null;default:false"`
	CreatedAt            time.Time             `json:"created_at"`
}

// TableName specifies the table name for InboxMessage
func (InboxMessage) TableName() string {
	return "inbox_messages"
}

func (m *InboxMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// AuditLog is an append-only record of an automatic state change
type AuditLog struct {
	ID          string          `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID string          `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	UserID      string          `json:"user_id" gorm:"type:varchar(36);not null"`
	Action      AuditAction     `json:"action" gorm:"type:varchar(64);not null;index"`
	EntityType  AuditEntityType `json:"entity_type" gorm:"type:varchar(32);not null"`
	EntityID    string          `json:"entity_id" gorm:"type:varchar(36);not null;index"`
	Metadata    string          `json:"metadata" gorm:"type:text"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// All lists every model managed by migrations.
func All() []interface{} {
	return []interface{}{
		&Workspace{},
		&MailboxConnection{},
		&Prospect{},
		&Campaign{},
		&CampaignEnrollment{},
		&ScheduledEmail{},
		&SentEmail{},
		&Conversation{},
		&InboxMessage{},
		&AuditLog{},
	}
}
