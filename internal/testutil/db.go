// Package testutil provides an in-memory database for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"inbox-sync-go/internal/config"
	"inbox-sync-go/internal/db"
	"inbox-sync-go/internal/model"
)

// NewDB returns a migrated, isolated in-memory SQLite database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	logrus.SetLevel(logrus.WarnLevel)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := db.Init(config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return conn
}

// Fixture is a workspace with one connected mailbox, a prospect and a campaign.
type Fixture struct {
	Workspace  model.Workspace
	Connection model.MailboxConnection
	Prospect   model.Prospect
	Campaign   model.Campaign
	Enrollment model.CampaignEnrollment
}

// Seed creates a Fixture owned by mailbox address "me@agency.test".
func Seed(t *testing.T, conn *gorm.DB) *Fixture {
	t.Helper()

	f := &Fixture{}
	f.Workspace = model.Workspace{Name: "Agency", UserID: uuid.NewString()}
	mustCreate(t, conn, &f.Workspace)

	f.Connection = model.MailboxConnection{
		WorkspaceID:  f.Workspace.ID,
		Email:        "me@agency.test",
		AccessToken:  "encrypted-access",
		RefreshToken: "encrypted-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
		IsValid:      true,
	}
	mustCreate(t, conn, &f.Connection)

	f.Prospect = model.Prospect{WorkspaceID: f.Workspace.ID, Email: "jane@client.test", Status: model.ProspectContacted}
	mustCreate(t, conn, &f.Prospect)

	f.Campaign = model.Campaign{WorkspaceID: f.Workspace.ID, Name: "Q3 outreach", Status: "RUNNING"}
	mustCreate(t, conn, &f.Campaign)

	f.Enrollment = model.CampaignEnrollment{
		WorkspaceID:      f.Workspace.ID,
		CampaignID:       f.Campaign.ID,
		ProspectID:       f.Prospect.ID,
		EnrollmentStatus: model.EnrollmentEnrolled,
	}
	mustCreate(t, conn, &f.Enrollment)

	return f
}

// SentStep records step n of the fixture's campaign as already sent on threadID.
func (f *Fixture) SentStep(t *testing.T, conn *gorm.DB, step int, messageID, threadID, subject string, sentAt time.Time) model.SentEmail {
	t.Helper()

	sequenceID := "seq-" + f.Campaign.ID[:8]
	scheduled := model.ScheduledEmail{
		WorkspaceID:  f.Workspace.ID,
		CampaignID:   f.Campaign.ID,
		EnrollmentID: f.Enrollment.ID,
		ProspectID:   f.Prospect.ID,
		SequenceID:   &sequenceID,
		StepNumber:   step,
		Status:       model.ScheduledSent,
		ScheduledFor: sentAt,
		Attempts:     1,
		MessageID:    &messageID,
		ThreadID:     &threadID,
		SentAt:       &sentAt,
	}
	mustCreate(t, conn, &scheduled)

	sent := model.SentEmail{
		WorkspaceID:      f.Workspace.ID,
		ScheduledEmailID: scheduled.ID,
		CampaignID:       f.Campaign.ID,
		ProspectID:       f.Prospect.ID,
		MessageID:        messageID,
		ThreadID:         threadID,
		Subject:          subject,
		ToAddress:        f.Prospect.Email,
		SentAt:           sentAt,
	}
	mustCreate(t, conn, &sent)
	return sent
}

// Schedule creates a pending send for the given enrollment.
func Schedule(t *testing.T, conn *gorm.DB, e model.CampaignEnrollment, step int, status model.ScheduledStatus) model.ScheduledEmail {
	t.Helper()

	s := model.ScheduledEmail{
		WorkspaceID:  e.WorkspaceID,
		CampaignID:   e.CampaignID,
		EnrollmentID: e.ID,
		ProspectID:   e.ProspectID,
		StepNumber:   step,
		Status:       status,
		ScheduledFor: time.Now().Add(24 * time.Hour),
	}
	mustCreate(t, conn, &s)
	return s
}

// MustCreate inserts value or fails the test.
func MustCreate(t *testing.T, conn *gorm.DB, value interface{}) {
	t.Helper()
	mustCreate(t, conn, value)
}

func mustCreate(t *testing.T, conn *gorm.DB, value interface{}) {
	t.Helper()
	if err := conn.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}
