package outbound

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"inbox-sync-go/internal/mailbox"
	"inbox-sync-go/internal/mailbox/mailboxtest"
	"inbox-sync-go/internal/metrics"
	"inbox-sync-go/internal/model"
	"inbox-sync-go/internal/repository"
	"inbox-sync-go/internal/testutil"
)

var sendTime = time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)

type harness struct {
	db      *gorm.DB
	fixture *testutil.Fixture
	client  *mailboxtest.Client
	dialer  *mailboxtest.Dialer
	metrics *metrics.Metrics
	sender  *Sender
	sleeps  []time.Duration
}

func newHarness(t *testing.T) *harness {
	conn := testutil.NewDB(t)
	h := &harness{
		db:      conn,
		fixture: testutil.Seed(t, conn),
		client:  mailboxtest.NewClient(),
		dialer:  mailboxtest.NewDialer(),
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}
	h.dialer.Clients[h.fixture.Workspace.ID] = h.client

	h.sender = New(repository.New(conn), h.dialer, h.metrics, Options{
		BaseDelay: 10 * time.Millisecond,
		BaseURL:   "https://app.test/",
	})
	h.sender.now = func() time.Time { return sendTime }
	h.sender.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func decode(t *testing.T, raw string) string {
	t.Helper()
	data, err := base64.RawURLEncoding.DecodeString(raw)
	require.NoError(t, err)
	return string(data)
}

func (h *harness) scheduled(t *testing.T, id string) model.ScheduledEmail {
	t.Helper()
	var s model.ScheduledEmail
	require.NoError(t, h.db.First(&s, "id = ?", id).Error)
	return s
}

var draft = Draft{Subject: "Hello", Body: "<p>Hi Jane</p>", Signature: "Max\nAgency", FromName: "Max"}

func TestSendFirstStep(t *testing.T) {
	h := newHarness(t)
	step := testutil.Schedule(t, h.db, h.fixture.Enrollment, 1, model.ScheduledPending)

	sent, err := h.sender.Send(context.Background(), &h.fixture.Connection, step.ID, draft)
	require.NoError(t, err)
	assert.Equal(t, "sent-1", sent.MessageID)
	assert.Equal(t, "thread-sent-1", sent.ThreadID)
	assert.Equal(t, "Hello", sent.Subject)

	require.Len(t, h.client.Sent, 1)
	assert.Empty(t, h.client.Sent[0].ThreadID)
	raw := decode(t, h.client.Sent[0].Raw)
	assert.Contains(t, raw, "From: \"Max\" <me@agency.test>\r\n")
	assert.Contains(t, raw, "To: jane@client.test\r\n")
	assert.Contains(t, raw, "Subject: Hello\r\n")
	assert.NotContains(t, raw, "In-Reply-To")
	assert.Contains(t, raw, "Max<br>Agency")
	assert.Contains(t, raw, "https://app.test/api/unsubscribe?p="+h.fixture.Prospect.ID+"&w="+h.fixture.Workspace.ID)

	stored := h.scheduled(t, step.ID)
	assert.Equal(t, model.ScheduledSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.ThreadID)
	assert.Equal(t, "thread-sent-1", *stored.ThreadID)

	var conv model.Conversation
	require.NoError(t, h.db.First(&conv, "thread_id = ?", "thread-sent-1").Error)
	require.NotNil(t, conv.ProspectID)
	assert.Equal(t, h.fixture.Prospect.ID, *conv.ProspectID)
	assert.Equal(t, h.fixture.Campaign.ID, *conv.CampaignID)

	var msg model.InboxMessage
	require.NoError(t, h.db.First(&msg, "conversation_id = ?", conv.ID).Error)
	assert.Equal(t, model.DirectionOutbound, msg.Direction)
	assert.True(t, msg.IsRead)
	assert.False(t, msg.NeedsReview)
	assert.Nil(t, msg.Classification)

	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.OutboundSends.WithLabelValues("sent")))
}

func TestSendFollowUpThreadsIntoFirstStep(t *testing.T) {
	h := newHarness(t)
	h.fixture.SentStep(t, h.db, 1, "abc123", "thread-1", "Hello", sendTime.Add(-48*time.Hour))
	step := testutil.Schedule(t, h.db, h.fixture.Enrollment, 2, model.ScheduledRetryScheduled)

	sent, err := h.sender.Send(context.Background(), &h.fixture.Connection, step.ID, Draft{Subject: "ignored", Body: "Bumping this"})
	require.NoError(t, err)
	assert.Equal(t, "thread-1", sent.ThreadID)
	assert.Equal(t, "Re: Hello", sent.Subject)

	var headers map[string]string
	require.NoError(t, json.Unmarshal([]byte(sent.Headers), &headers))
	assert.Equal(t, "<abc123@mail.gmail.com>", headers["In-Reply-To"])

	require.Len(t, h.client.Sent, 1)
	assert.Equal(t, "thread-1", h.client.Sent[0].ThreadID)
	raw := decode(t, h.client.Sent[0].Raw)
	assert.Contains(t, raw, "Subject: Re: Hello\r\n")
	assert.Contains(t, raw, "In-Reply-To: <abc123@mail.gmail.com>\r\n")
	assert.Contains(t, raw, "References: <abc123@mail.gmail.com>\r\n")
}

func TestSendSkipsIneligible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	done := testutil.Schedule(t, h.db, h.fixture.Enrollment, 1, model.ScheduledCancelled)
	_, err := h.sender.Send(ctx, &h.fixture.Connection, done.ID, draft)
	assert.ErrorIs(t, err, ErrSendSkipped)

	pending := testutil.Schedule(t, h.db, h.fixture.Enrollment, 2, model.ScheduledPending)

	require.NoError(t, h.db.Model(&model.CampaignEnrollment{}).Where("id = ?", h.fixture.Enrollment.ID).
		Update("enrollment_status", model.EnrollmentPaused).Error)
	_, err = h.sender.Send(ctx, &h.fixture.Connection, pending.ID, draft)
	assert.ErrorIs(t, err, ErrSendSkipped)
	assert.Equal(t, model.ScheduledPending, h.scheduled(t, pending.ID).Status)

	require.NoError(t, h.db.Model(&model.CampaignEnrollment{}).Where("id = ?", h.fixture.Enrollment.ID).
		Update("enrollment_status", model.EnrollmentStopped).Error)
	_, err = h.sender.Send(ctx, &h.fixture.Connection, pending.ID, draft)
	assert.ErrorIs(t, err, ErrSendSkipped)
	assert.Equal(t, model.ScheduledCancelled, h.scheduled(t, pending.ID).Status)

	assert.Equal(t, 0, h.client.SendCalls)
	assert.Equal(t, 3.0, promtest.ToFloat64(h.metrics.OutboundSends.WithLabelValues("skipped")))
}

func TestSendRetriesTransientErrors(t *testing.T) {
	h := newHarness(t)
	step := testutil.Schedule(t, h.db, h.fixture.Enrollment, 1, model.ScheduledPending)
	transient := &mailbox.ProviderError{Op: "send", StatusCode: 503, Message: "unavailable", Retryable: true}
	h.client.SendErrs = []error{transient, transient}

	_, err := h.sender.Send(context.Background(), &h.fixture.Connection, step.ID, draft)
	require.NoError(t, err)
	assert.Equal(t, 3, h.client.SendCalls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 40 * time.Millisecond}, h.sleeps)
}

func TestSendGivesUpOnPermanentError(t *testing.T) {
	h := newHarness(t)
	step := testutil.Schedule(t, h.db, h.fixture.Enrollment, 1, model.ScheduledPending)
	h.client.SendErrs = []error{&mailbox.ProviderError{Op: "send", StatusCode: 400, Reason: "invalidArgument", Message: "bad raw"}}

	_, err := h.sender.Send(context.Background(), &h.fixture.Connection, step.ID, draft)
	require.Error(t, err)
	assert.Equal(t, 1, h.client.SendCalls)

	stored := h.scheduled(t, step.ID)
	assert.Equal(t, model.ScheduledFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "bad raw")
}

func TestSendAuthErrorInvalidatesConnection(t *testing.T) {
	h := newHarness(t)
	step := testutil.Schedule(t, h.db, h.fixture.Enrollment, 1, model.ScheduledPending)
	h.client.SendErrs = []error{&mailbox.ProviderError{Op: "send", StatusCode: 401, Message: "unauthorized", Auth: true}}

	_, err := h.sender.Send(context.Background(), &h.fixture.Connection, step.ID, draft)
	require.Error(t, err)
	assert.True(t, mailbox.IsAuthError(err))
	assert.Equal(t, 1, h.client.SendCalls)

	var conn model.MailboxConnection
	require.NoError(t, h.db.First(&conn, "id = ?", h.fixture.Connection.ID).Error)
	assert.False(t, conn.IsValid)
	assert.Equal(t, model.ScheduledFailed, h.scheduled(t, step.ID).Status)
}

func TestSendUnknownScheduledEmail(t *testing.T) {
	h := newHarness(t)
	_, err := h.sender.Send(context.Background(), &h.fixture.Connection, "missing", draft)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}
