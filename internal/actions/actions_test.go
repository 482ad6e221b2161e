package actions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"inbox-sync-go/internal/model"
	"inbox-sync-go/internal/repository"
	"inbox-sync-go/internal/testutil"
)

type setup struct {
	db         *gorm.DB
	fixture    *testutil.Fixture
	dispatcher *Dispatcher
	conv       model.Conversation
	second     model.CampaignEnrollment
	pending    []model.ScheduledEmail
}

func newSetup(t *testing.T) *setup {
	conn := testutil.NewDB(t)
	f := testutil.Seed(t, conn)

	other := model.Campaign{WorkspaceID: f.Workspace.ID, Name: "Follow-up", Status: "RUNNING"}
	testutil.MustCreate(t, conn, &other)
	second := model.CampaignEnrollment{
		WorkspaceID:      f.Workspace.ID,
		CampaignID:       other.ID,
		ProspectID:       f.Prospect.ID,
		EnrollmentStatus: model.EnrollmentPaused,
	}
	testutil.MustCreate(t, conn, &second)

	conv := model.Conversation{
		WorkspaceID:   f.Workspace.ID,
		ThreadID:      "thread-1",
		ProspectID:    &f.Prospect.ID,
		CampaignID:    &f.Campaign.ID,
		Status:        model.ConversationOpen,
		LastMessageAt: time.Now().UTC(),
	}
	testutil.MustCreate(t, conn, &conv)

	pending := []model.ScheduledEmail{
		testutil.Schedule(t, conn, f.Enrollment, 2, model.ScheduledPending),
		testutil.Schedule(t, conn, second, 1, model.ScheduledRetryScheduled),
	}

	d := New(repository.New(conn))
	d.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

	return &setup{db: conn, fixture: f, dispatcher: d, conv: conv, second: second, pending: pending}
}

func (s *setup) reload(t *testing.T, dest interface{}, id string) {
	t.Helper()
	require.NoError(t, s.db.First(dest, "id = ?", id).Error)
}

func TestUnsubscribeStopsEverything(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	outcome, err := s.dispatcher.Dispatch(ctx, "msg-1", s.conv.ID, model.ClassUnsubscribe)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.True(t, outcome.ProspectUpdated)
	assert.Equal(t, int64(2), outcome.EnrollmentsStopped)
	assert.Equal(t, int64(2), outcome.SendsCancelled)
	assert.True(t, outcome.Audited)

	var prospect model.Prospect
	s.reload(t, &prospect, s.fixture.Prospect.ID)
	assert.Equal(t, model.ProspectUnsubscribed, prospect.Status)

	for _, id := range []string{s.fixture.Enrollment.ID, s.second.ID} {
		var e model.CampaignEnrollment
		s.reload(t, &e, id)
		assert.Equal(t, model.EnrollmentStopped, e.EnrollmentStatus)
	}
	for _, p := range s.pending {
		var se model.ScheduledEmail
		s.reload(t, &se, p.ID)
		assert.Equal(t, model.ScheduledCancelled, se.Status)
	}

	logs, err := repository.New(s.db).AuditLogsForEntity(ctx, model.EntityProspect, s.fixture.Prospect.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditProspectUnsubscribed, logs[0].Action)
	assert.Equal(t, s.fixture.Workspace.UserID, logs[0].UserID)

	var metadata map[string]string
	require.NoError(t, json.Unmarshal([]byte(logs[0].Metadata), &metadata))
	assert.Equal(t, map[string]string{
		"source":         "inbox-classification",
		"messageId":      "msg-1",
		"conversationId": s.conv.ID,
		"createdAt":      "2024-05-01T09:00:00Z",
	}, metadata)
}

func TestReplayIsNoop(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	_, err := s.dispatcher.Dispatch(ctx, "msg-1", s.conv.ID, model.ClassBounce)
	require.NoError(t, err)

	outcome, err := s.dispatcher.Dispatch(ctx, "msg-1", s.conv.ID, model.ClassBounce)
	require.NoError(t, err)
	assert.False(t, outcome.ProspectUpdated)
	assert.False(t, outcome.Audited)
	assert.Zero(t, outcome.EnrollmentsStopped)
	assert.Zero(t, outcome.SendsCancelled)

	logs, err := repository.New(s.db).AuditLogsForEntity(ctx, model.EntityProspect, s.fixture.Prospect.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditProspectBounced, logs[0].Action)
}

func TestCompletedEnrollmentIsNotStopped(t *testing.T) {
	s := newSetup(t)
	require.NoError(t, s.db.Model(&model.CampaignEnrollment{}).
		Where("id = ?", s.second.ID).
		Update("enrollment_status", model.EnrollmentCompleted).Error)

	outcome, err := s.dispatcher.Dispatch(context.Background(), "msg-1", s.conv.ID, model.ClassUnsubscribe)
	require.NoError(t, err)
	assert.Equal(t, int64(1), outcome.EnrollmentsStopped)

	var e model.CampaignEnrollment
	s.reload(t, &e, s.second.ID)
	assert.Equal(t, model.EnrollmentCompleted, e.EnrollmentStatus)
}

func TestInterestedMarksOnlyLinkedCampaign(t *testing.T) {
	s := newSetup(t)

	outcome, err := s.dispatcher.Dispatch(context.Background(), "msg-1", s.conv.ID, model.ClassInterested)
	require.NoError(t, err)
	assert.Equal(t, int64(1), outcome.EnrollmentsReplied)

	var linked, other model.CampaignEnrollment
	s.reload(t, &linked, s.fixture.Enrollment.ID)
	s.reload(t, &other, s.second.ID)
	assert.Equal(t, model.EnrollmentReplied, linked.EnrollmentStatus)
	assert.Equal(t, model.EnrollmentPaused, other.EnrollmentStatus)

	var prospect model.Prospect
	s.reload(t, &prospect, s.fixture.Prospect.ID)
	assert.Equal(t, model.ProspectContacted, prospect.Status)
}

func TestInterestedWithoutCampaignMarksAll(t *testing.T) {
	s := newSetup(t)
	require.NoError(t, s.db.Model(&model.Conversation{}).
		Where("id = ?", s.conv.ID).
		Update("campaign_id", nil).Error)

	outcome, err := s.dispatcher.Dispatch(context.Background(), "msg-1", s.conv.ID, model.ClassInterested)
	require.NoError(t, err)
	assert.Equal(t, int64(2), outcome.EnrollmentsReplied)
}

func TestNoActionCategories(t *testing.T) {
	s := newSetup(t)

	for _, c := range []model.ReplyClassification{model.ClassNotNow, model.ClassOutOfOffice, model.ClassNegative, model.ClassOther} {
		outcome, err := s.dispatcher.Dispatch(context.Background(), "msg-1", s.conv.ID, c)
		require.NoError(t, err)
		assert.Nil(t, outcome, c)
	}

	unlinked := model.Conversation{WorkspaceID: s.fixture.Workspace.ID, ThreadID: "thread-2", LastMessageAt: time.Now().UTC()}
	testutil.MustCreate(t, s.db, &unlinked)
	outcome, err := s.dispatcher.Dispatch(context.Background(), "msg-2", unlinked.ID, model.ClassUnsubscribe)
	require.NoError(t, err)
	assert.Nil(t, outcome)
}
