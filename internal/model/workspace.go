package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Workspace owns prospects, campaigns and one mailbox connection
type Workspace struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Workspace
func (Workspace) TableName() string {
	return "workspaces"
}

func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

// MailboxConnection is the Gmail account connected to a workspace.
// AccessToken and RefreshToken hold ciphertext produced by internal/crypto.
type MailboxConnection struct {
	ID            string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	WorkspaceID   string     `json:"workspace_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	Email         string     `json:"email" gorm:"type:varchar(255);not null"`
	AccessToken   string     `json:"-" gorm:"type:text;not null"`
	RefreshToken  string     `json:"-" gorm:"type:text;not null"`
	ExpiresAt     time.Time  `json:"expires_at"`
	IsValid       bool       `json:"is_valid" gorm:"not null;default:true"`
	LastAuthError *string    `json:"last_auth_error" gorm:"type:text"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for MailboxConnection
func (MailboxConnection) TableName() string {
	return "mailbox_connections"
}

func (m *MailboxConnection) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
