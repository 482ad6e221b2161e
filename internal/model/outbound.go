package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ScheduledEmail is a pending send for one sequence step of an enrollment
type ScheduledEmail struct {
	ID           string          `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID  string          `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	CampaignID   string          `json:"campaign_id" gorm:"type:varchar(36);not null;index"`
	EnrollmentID string          `json:"enrollment_id" gorm:"type:varchar(36);not null;index"`
	ProspectID   string          `json:"prospect_id" gorm:"type:varchar(36);not null;index"`
	SequenceID   *string         `json:"sequence_id" gorm:"type:varchar(36)"`
	StepNumber   int             `json:"step_number" gorm:"not null"`
	Status       ScheduledStatus `json:"status" gorm:"type:varchar(32);not null;default:SCHEDULED;index"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Attempts     int             `json:"attempts" gorm:"not null;default:0"`
	LastError    *string         `json:"last_error" gorm:"type:text"`
	MessageID    *string         `json:"message_id" gorm:"type:varchar(255)"`
	ThreadID     *string         `json:"thread_id" gorm:"type:varchar(255)"`
	SentAt       *time.Time      `json:"sent_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName specifies the table name for ScheduledEmail
func (ScheduledEmail) TableName() string {
	return "scheduled_emails"
}

func (s *ScheduledEmail) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// SentEmail is the immutable record of a delivered outbound message.
// MessageID and ThreadID are the Gmail identifiers returned on send.
type SentEmail struct {
	ID               string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID      string    `json:"workspace_id" gorm:"type:varchar(36);not null;index:idx_sent_thread_workspace"`
	ScheduledEmailID string    `json:"scheduled_email_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	CampaignID       string    `json:"campaign_id" gorm:"type:varchar(36);not null;index:idx_sent_campaign_prospect"`
	ProspectID       string    `json:"prospect_id" gorm:"type:varchar(36);not null;index:idx_sent_campaign_prospect"`
	MessageID        string    `json:"message_id" gorm:"type:varchar(255);not null"`
	ThreadID         string    `json:"thread_id" gorm:"type:varchar(255);not null;index:idx_sent_thread_workspace"`
	Subject          string    `json:"subject" gorm:"type:text"`
	ToAddress        string    `json:"to_address" gorm:"type:varchar(255)"`
	Headers          string    `json:"headers" gorm:"type:text"`
	SentAt           time.Time `json:"sent_at" gorm:"not null"`

	ScheduledEmail *ScheduledEmail `json:"scheduled_email,omitempty" gorm:"foreignKey:ScheduledEmailID"`
}

// TableName specifies the table name for SentEmail
func (SentEmail) TableName() string {
	return "sent_emails"
}

func (s *SentEmail) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
