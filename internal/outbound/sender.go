// Package outbound sends one campaign step through the connected mailbox and
// records it so replies can be threaded back to the campaign.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"inbox-sync-go/internal/composer"
	"inbox-sync-go/internal/mailbox"
	"inbox-sync-go/internal/metrics"
	"inbox-sync-go/internal/model"
	"inbox-sync-go/internal/repository"
)

// ErrSendSkipped is returned when a scheduled email is no longer eligible
var ErrSendSkipped = errors.New("scheduled email skipped")

// Draft is the rendered content of one step
type Draft struct {
	Subject   string
	Body      string
	Signature string
	FromName  string
}

// Options configures a Sender
type Options struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	BaseURL          string
	UnsubscribeLabel string
}

// Sender delivers scheduled campaign steps
type Sender struct {
	repo     *repository.Repository
	dialer   mailbox.Dialer
	composer *composer.Composer
	metrics  *metrics.Metrics
	opts     Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Sender
func New(repo *repository.Repository, dialer mailbox.Dialer, m *metrics.Metrics, opts Options) *Sender {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.UnsubscribeLabel == "" {
		opts.UnsubscribeLabel = "Unsubscribe"
	}

	return &Sender{
		repo:     repo,
		dialer:   dialer,
		composer: composer.New(repo),
		metrics:  m,
		opts:     opts,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Send delivers scheduled email id from conn's mailbox. Follow-up steps
// reply into the thread of the first step when it was sent.
func (s *Sender) Send(ctx context.Context, conn *model.MailboxConnection, id string, draft Draft) (*model.SentEmail, error) {
	scheduled, err := s.repo.GetScheduledEmail(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.checkEligible(ctx, scheduled); err != nil {
		s.metrics.OutboundSends.WithLabelValues("skipped").Inc()
		return nil, err
	}

	prospect, err := s.repo.GetProspect(ctx, scheduled.ProspectID)
	if err != nil {
		return nil, err
	}

	thread, err := s.composer.ThreadContext(ctx, scheduled.CampaignID, scheduled.ProspectID, scheduled.StepNumber)
	if err != nil {
		return nil, err
	}

	params := composer.Params{
		From:      conn.Email,
		FromName:  draft.FromName,
		To:        prospect.Email,
		Subject:   draft.Subject,
		Body:      draft.Body,
		Signature: draft.Signature,
		UnsubscribeLink: composer.UnsubscribeLink(
			composer.UnsubscribeURL(s.opts.BaseURL, prospect.ID, scheduled.WorkspaceID),
			s.opts.UnsubscribeLabel,
		),
	}
	threadID := ""
	if thread != nil {
		params.Subject = composer.ThreadedSubject(thread.OriginalSubject)
		params.InReplyTo = thread.InReplyTo
		params.References = thread.References
		threadID = thread.ThreadID
	}

	result, err := s.deliver(ctx, conn, composer.ComposeEncoded(params, s.now()), threadID)
	if err != nil {
		s.metrics.OutboundSends.WithLabelValues("failed").Inc()
		if recErr := s.repo.RecordSendFailure(ctx, scheduled.ID, err.Error()); recErr != nil {
			logrus.Errorf("Failed to record send failure for %s: %v", scheduled.ID, recErr)
		}
		return nil, err
	}

	sent, err := s.record(ctx, conn, scheduled, prospect, params, result)
	if err != nil {
		return nil, err
	}

	s.metrics.OutboundSends.WithLabelValues("sent").Inc()
	logrus.WithFields(logrus.Fields{
		"scheduled_email_id": scheduled.ID,
		"message_id":         sent.MessageID,
		"thread_id":          sent.ThreadID,
		"step":               scheduled.StepNumber,
	}).Info("Sent campaign step")

	return sent, nil
}

func (s *Sender) checkEligible(ctx context.Context, scheduled *model.ScheduledEmail) error {
	switch scheduled.Status {
	case model.ScheduledPending, model.ScheduledRetryScheduled:
	default:
		return fmt.Errorf("%w: status is %s", ErrSendSkipped, scheduled.Status)
	}

	enrollment, err := s.repo.GetEnrollment(ctx, scheduled.EnrollmentID)
	if err != nil {
		return err
	}

	switch enrollment.EnrollmentStatus {
	case model.EnrollmentEnrolled:
		return nil
	case model.EnrollmentPaused:
		// kept for when the enrollment resumes
		return fmt.Errorf("%w: enrollment paused", ErrSendSkipped)
	default:
		if err := s.repo.CancelScheduledEmail(ctx, scheduled.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: enrollment is %s", ErrSendSkipped, enrollment.EnrollmentStatus)
	}
}

// deliver sends raw with retries. Auth failures invalidate the connection
// and are never retried.
func (s *Sender) deliver(ctx context.Context, conn *model.MailboxConnection, raw, threadID string) (*mailbox.SendResult, error) {
	client, err := s.dialer.Dial(ctx, conn)
	if err != nil {
		s.invalidateOnAuth(ctx, conn, err)
		return nil, fmt.Errorf("failed to connect mailbox: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		result, err := client.SendMessage(ctx, raw, threadID)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if mailbox.IsAuthError(err) {
			s.invalidateOnAuth(ctx, conn, err)
			break
		}
		if !mailbox.IsRetryable(err) || attempt == s.opts.MaxAttempts {
			break
		}

		delay := time.Duration(attempt*attempt) * s.opts.BaseDelay
		logrus.Warnf("Send attempt %d failed, retrying in %v: %v", attempt, delay, err)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (s *Sender) invalidateOnAuth(ctx context.Context, conn *model.MailboxConnection, err error) {
	if !mailbox.IsAuthError(err) {
		return
	}

	s.metrics.MailboxInvalidations.Inc()
	if invErr := s.repo.InvalidateConnection(ctx, conn.ID, err.Error()); invErr != nil {
		logrus.Errorf("Failed to invalidate connection %s: %v", conn.ID, invErr)
		return
	}
	conn.IsValid = false
}

// record stores the sent email and mirrors it into the conversation view
func (s *Sender) record(ctx context.Context, conn *model.MailboxConnection, scheduled *model.ScheduledEmail, prospect *model.Prospect, params composer.Params, result *mailbox.SendResult) (*model.SentEmail, error) {
	sentAt := s.now().UTC()

	sent := &model.SentEmail{
		WorkspaceID:      scheduled.WorkspaceID,
		ScheduledEmailID: scheduled.ID,
		CampaignID:       scheduled.CampaignID,
		ProspectID:       scheduled.ProspectID,
		MessageID:        result.MessageID,
		ThreadID:         result.ThreadID,
		Subject:          params.Subject,
		ToAddress:        prospect.Email,
		Headers: composer.BuildHeadersJSON(composer.HeaderParams{
			From:       conn.Email,
			To:         prospect.Email,
			Subject:    params.Subject,
			MessageID:  result.MessageID,
			InReplyTo:  params.InReplyTo,
			References: params.References,
			Date:       sentAt,
		}),
		SentAt: sentAt,
	}

	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.RecordSend(ctx, sent); err != nil {
			return err
		}

		conv, err := tx.UpsertConversation(ctx, &model.Conversation{
			WorkspaceID:   scheduled.WorkspaceID,
			ThreadID:      result.ThreadID,
			ProspectID:    &scheduled.ProspectID,
			CampaignID:    &scheduled.CampaignID,
			SequenceID:    scheduled.SequenceID,
			Status:        model.ConversationOpen,
			LastMessageAt: sentAt,
		})
		if err != nil {
			return err
		}

		subject := params.Subject
		body := params.Body
		_, _, err = tx.UpsertInboxMessage(ctx, &model.InboxMessage{
			ConversationID: conv.ID,
			GmailMessageID: result.MessageID,
			Direction:      model.DirectionOutbound,
			Subject:        &subject,
			BodyRaw:        body,
			BodyCleaned:    &body,
			FromEmail:      conn.Email,
			ToEmail:        prospect.Email,
			ReceivedAt:     sentAt,
			IsRead:         true,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record sent email: %w", err)
	}

	return sent, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
