// Package inboxsync runs the periodic reply-sync cycle for every connected
// mailbox: fetch, match, classify, act, checkpoint.
package inboxsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"inbox-sync-go/internal/actions"
	"inbox-sync-go/internal/classifier"
	"inbox-sync-go/internal/llm"
	"inbox-sync-go/internal/mailbox"
	"inbox-sync-go/internal/matcher"
	"inbox-sync-go/internal/metrics"
	"inbox-sync-go/internal/model"
	"inbox-sync-go/internal/repository"
)

const historyLimit = 5

// Options bounds a sync cycle
type Options struct {
	MaxMessages     int
	FetchDelay      time.Duration
	RetryBatchSize  int
	InitialLookback time.Duration
}

// DefaultOptions returns the production cycle bounds
func DefaultOptions() Options {
	return Options{
		MaxMessages:     mailbox.DefaultMaxMessages,
		FetchDelay:      50 * time.Millisecond,
		RetryBatchSize:  25,
		InitialLookback: 24 * time.Hour,
	}
}

// Result counts what one mailbox cycle did. Every fetched message counts
// as processed; matched, unlinked and discarded partition the successfully
// ingested ones.
type Result struct {
	Processed    int      `json:"processed"`
	Matched      int      `json:"matched"`
	Unlinked     int      `json:"unlinked"`
	Discarded    int      `json:"discarded"`
	Errors       int      `json:"errors"`
	ErrorDetails []string `json:"errorDetails,omitempty"`
	Retried      int      `json:"retried"`
}

// WorkspaceResult is the outcome of syncing one workspace's mailbox
type WorkspaceResult struct {
	WorkspaceID string  `json:"workspaceId"`
	Success     bool    `json:"success"`
	Result      *Result `json:"result,omitempty"`
	Error       string  `json:"error,omitempty"`
	DurationMs  int64   `json:"durationMs"`
}

// Orchestrator drives sync cycles
type Orchestrator struct {
	repo       *repository.Repository
	dialer     mailbox.Dialer
	matcher    *matcher.Matcher
	engine     *classifier.Engine
	dispatcher *actions.Dispatcher
	metrics    *metrics.Metrics
	opts       Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator
func New(repo *repository.Repository, dialer mailbox.Dialer, engine *classifier.Engine, dispatcher *actions.Dispatcher, m *metrics.Metrics, opts Options) *Orchestrator {
	defaults := DefaultOptions()
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaults.MaxMessages
	}
	if opts.RetryBatchSize < 0 {
		opts.RetryBatchSize = defaults.RetryBatchSize
	}
	if opts.InitialLookback <= 0 {
		opts.InitialLookback = defaults.InitialLookback
	}

	return &Orchestrator{
		repo:       repo,
		dialer:     dialer,
		matcher:    matcher.New(repo),
		engine:     engine,
		dispatcher: dispatcher,
		metrics:    m,
		opts:       opts,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// SyncAll syncs every valid mailbox connection in turn. One failing
// mailbox never stops the others.
func (o *Orchestrator) SyncAll(ctx context.Context) []WorkspaceResult {
	conns, err := o.repo.ValidConnections(ctx)
	if err != nil {
		logrus.Errorf("Failed to list mailbox connections: %v", err)
		return nil
	}

	logrus.Infof("Syncing %d mailboxes", len(conns))

	results := make([]WorkspaceResult, 0, len(conns))
	for i := range conns {
		if ctx.Err() != nil {
			break
		}

		conn := &conns[i]
		start := time.Now()
		result, err := o.SyncMailbox(ctx, conn)

		wr := WorkspaceResult{
			WorkspaceID: conn.WorkspaceID,
			Success:     err == nil,
			Result:      result,
			DurationMs:  time.Since(start).Milliseconds(),
		}
		if err != nil {
			wr.Error = err.Error()
			logrus.WithField("workspace_id", conn.WorkspaceID).Errorf("Mailbox sync failed: %v", err)
		} else {
			logrus.WithFields(logrus.Fields{
				"workspace_id": conn.WorkspaceID,
				"processed":    result.Processed,
				"matched":      result.Matched,
				"unlinked":     result.Unlinked,
				"discarded":    result.Discarded,
				"errors":       result.Errors,
			}).Info("Mailbox synced")
		}
		results = append(results, wr)
	}

	return results
}

// SyncMailbox runs one cycle for conn. An auth failure aborts the cycle,
// invalidates the connection and leaves the checkpoint where it was.
func (o *Orchestrator) SyncMailbox(ctx context.Context, conn *model.MailboxConnection) (*Result, error) {
	start := o.now()
	timer := time.Now()
	defer func() {
		o.metrics.CycleDuration.Observe(time.Since(timer).Seconds())
	}()

	since := start.Add(-o.opts.InitialLookback)
	if conn.LastSyncedAt != nil {
		since = *conn.LastSyncedAt
	}

	client, err := o.dialer.Dial(ctx, conn)
	if err != nil {
		return nil, o.abort(ctx, conn, fmt.Errorf("failed to connect mailbox: %w", err))
	}

	ids, err := mailbox.CollectMessageIDs(ctx, client, since, o.opts.MaxMessages)
	if err != nil {
		return nil, o.abort(ctx, conn, fmt.Errorf("failed to list messages: %w", err))
	}

	logrus.WithField("workspace_id", conn.WorkspaceID).Infof("Found %d new messages", len(ids))

	result := &Result{}
	for i, id := range ids {
		if i > 0 && o.opts.FetchDelay > 0 {
			if err := o.sleep(ctx, o.opts.FetchDelay); err != nil {
				return nil, o.abort(ctx, conn, err)
			}
		}

		detail, err := client.GetMessage(ctx, id)
		if err != nil {
			if mailbox.IsAuthError(err) || ctx.Err() != nil {
				return nil, o.abort(ctx, conn, fmt.Errorf("failed to fetch message %s: %w", id, err))
			}
			o.recordError(result, id, err)
			continue
		}

		result.Processed++
		o.metrics.Messages.WithLabelValues("processed").Inc()

		if err := o.processMessage(ctx, conn, detail, result); err != nil {
			o.recordError(result, id, err)
		}
	}

	if retried, err := o.retryPending(ctx, conn.WorkspaceID, result); err != nil {
		logrus.WithField("workspace_id", conn.WorkspaceID).Errorf("Failed to retry pending classifications: %v", err)
	} else {
		result.Retried = retried
	}

	if err := o.repo.AdvanceCheckpoint(ctx, conn.ID, start); err != nil {
		o.metrics.Cycles.WithLabelValues("failure").Inc()
		return result, err
	}
	conn.LastSyncedAt = &start

	o.metrics.Cycles.WithLabelValues("success").Inc()
	return result, nil
}

func (o *Orchestrator) processMessage(ctx context.Context, conn *model.MailboxConnection, detail *mailbox.MessageDetail, result *Result) error {
	ing, err := o.matcher.Ingest(ctx, conn.WorkspaceID, conn.Email, detail)
	if err != nil {
		return err
	}

	switch {
	case ing.Discarded:
		result.Discarded++
		o.metrics.Messages.WithLabelValues("discarded").Inc()
		return nil
	case ing.Matched:
		result.Matched++
		o.metrics.Messages.WithLabelValues("matched").Inc()
	case ing.Unlinked:
		result.Unlinked++
		o.metrics.Messages.WithLabelValues("unlinked").Inc()
	}

	if ing.Direction != model.DirectionInbound || ing.Message.Classification != nil {
		return nil
	}

	_, err = o.classify(ctx, ing.Message)
	return err
}

// classify stores a classification for msg and runs the bound action in
// the same transaction. A failed action rolls the classification back so
// the message stays pending for the retry pass.
func (o *Orchestrator) classify(ctx context.Context, msg *model.InboxMessage) (bool, error) {
	history := o.history(ctx, msg)
	res := o.engine.Classify(ctx, msg, history)

	log := logrus.WithField("inbox_message_id", msg.ID)
	if res.Err != nil {
		o.metrics.ClassificationFailures.Inc()
		log.Warnf("Classification failed, left pending: %v", res.Err)
		return false, nil
	}
	if res.Classification == nil {
		return false, nil
	}

	var (
		written bool
		outcome *actions.Outcome
	)
	err := o.repo.Transaction(ctx, func(tx *repository.Repository) error {
		var err error
		written, err = tx.SetClassification(ctx, msg.ID, repository.Classification{
			Classification:  res.Classification,
			ConfidenceScore: res.ConfidenceScore,
			Method:          res.Method,
			NeedsReview:     res.NeedsReview,
		})
		if err != nil {
			return fmt.Errorf("failed to store classification: %w", err)
		}
		if !written || res.NeedsReview {
			return nil
		}

		outcome, err = o.dispatcher.WithRepo(tx).Dispatch(ctx, msg.ID, msg.ConversationID, *res.Classification)
		if err != nil {
			return fmt.Errorf("auto-action %s failed: %w", *res.Classification, err)
		}
		return nil
	})
	if err != nil {
		log.Errorf("Classification rolled back, left pending: %v", err)
		return false, err
	}
	if !written {
		log.Debug("Message already classified")
		return false, nil
	}

	o.metrics.Classifications.WithLabelValues(string(*res.Method), string(*res.Classification)).Inc()
	log.WithFields(logrus.Fields{
		"classification": *res.Classification,
		"confidence":     *res.ConfidenceScore,
		"needs_review":   res.NeedsReview,
	}).Info("Classified reply")

	if outcome != nil {
		o.metrics.AutoActions.WithLabelValues(outcome.Action).Inc()
	}
	return true, nil
}

func (o *Orchestrator) history(ctx context.Context, msg *model.InboxMessage) *llm.Context {
	prior, err := o.repo.PriorMessages(ctx, msg.ConversationID, msg.ReceivedAt, historyLimit)
	if err != nil {
		logrus.Warnf("Failed to load thread history: %v", err)
		return nil
	}
	if len(prior) == 0 {
		return nil
	}

	c := &llm.Context{}
	for _, p := range prior {
		body := p.BodyRaw
		if p.BodyCleaned != nil {
			body = *p.BodyCleaned
		}
		c.PreviousMessages = append(c.PreviousMessages, fmt.Sprintf("[%s] %s", p.Direction, strings.TrimSpace(body)))
	}
	return c
}

// retryPending reclassifies inbound messages a previous cycle left pending
func (o *Orchestrator) retryPending(ctx context.Context, workspaceID string, result *Result) (int, error) {
	if o.opts.RetryBatchSize == 0 {
		return 0, nil
	}

	pending, err := o.repo.PendingClassifications(ctx, workspaceID, o.opts.RetryBatchSize)
	if err != nil {
		return 0, err
	}

	retried := 0
	for i := range pending {
		if ctx.Err() != nil {
			return retried, ctx.Err()
		}
		ok, err := o.classify(ctx, &pending[i])
		if err != nil {
			o.recordError(result, pending[i].GmailMessageID, err)
			continue
		}
		if ok {
			retried++
		}
	}

	if retried > 0 {
		logrus.WithField("workspace_id", workspaceID).Infof("Classified %d pending messages", retried)
	}
	return retried, nil
}

func (o *Orchestrator) recordError(result *Result, id string, err error) {
	result.Errors++
	result.ErrorDetails = append(result.ErrorDetails, fmt.Sprintf("%s: %v", id, err))
	o.metrics.Messages.WithLabelValues("error").Inc()
	logrus.Errorf("Failed to process message %s: %v", id, err)
}

// abort ends a cycle without advancing the checkpoint. Auth failures also
// invalidate the connection so it is skipped until reconnected.
func (o *Orchestrator) abort(ctx context.Context, conn *model.MailboxConnection, err error) error {
	o.metrics.Cycles.WithLabelValues("failure").Inc()

	if !mailbox.IsAuthError(err) {
		return err
	}

	o.metrics.MailboxInvalidations.Inc()
	logrus.WithField("workspace_id", conn.WorkspaceID).Warnf("Mailbox auth failed, marking connection invalid: %v", err)

	// the cycle context may already be cancelled
	if invErr := o.repo.InvalidateConnection(context.WithoutCancel(ctx), conn.ID, err.Error()); invErr != nil {
		return errors.Join(err, invErr)
	}
	conn.IsValid = false
	return err
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
