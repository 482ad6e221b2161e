package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Prospect is a contact a workspace sends campaigns to
type Prospect struct {
	ID          string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID string         `json:"workspace_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_prospect_workspace_email"`
	Email       string         `json:"email" gorm:"type:varchar(255);not null;uniqueIndex:idx_prospect_workspace_email"`
	FirstName   *string        `json:"first_name" gorm:"type:varchar(255)"`
	LastName    *string        `json:"last_name" gorm:"type:varchar(255)"`
	Company     *string        `json:"company" gorm:"type:varchar(255)"`
	Title       *string        `json:"title" gorm:"type:varchar(255)"`
	Status      ProspectStatus `json:"status" gorm:"type:varchar(32);not null;default:NEW"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName specifies the table name for Prospect
func (Prospect) TableName() string {
	return "prospects"
}

func (p *Prospect) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Campaign groups enrollments that follow one email sequence
type Campaign struct {
	ID          string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Status      string    `json:"status" gorm:"type:varchar(32);not null;default:DRAFT"`
	SequenceID  *string   `json:"sequence_id" gorm:"type:varchar(36)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for Campaign
func (Campaign) TableName() string {
	return "campaigns"
}

func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// CampaignEnrollment links one prospect to one campaign
type CampaignEnrollment struct {
	ID               string           `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID      string           `json:"workspace_id" gorm:"type:varchar(36);not null;index"`
	CampaignID       string           `json:"campaign_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_enrollment_campaign_prospect"`
	ProspectID       string           `json:"prospect_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_enrollment_campaign_prospect;index"`
	EnrollmentStatus EnrollmentStatus `json:"enrollment_status" gorm:"type:varchar(32);not null;default:ENROLLED"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TableName specifies the table name for CampaignEnrollment
func (CampaignEnrollment) TableName() string {
	return "campaign_enrollments"
}

func (e *CampaignEnrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
