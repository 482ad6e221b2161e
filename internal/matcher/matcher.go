// Package matcher correlates fetched mailbox messages with sent campaign
// email and stores them as conversations.
package matcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"inbox-sync-go/internal/bodyparser"
	"inbox-sync-go/internal/mailbox"
	"inbox-sync-go/internal/model"
	"inbox-sync-go/internal/repository"
)

// Ingestion is the outcome of storing one fetched message
type Ingestion struct {
	Direction    model.Direction
	Conversation *model.Conversation
	Message      *model.InboxMessage
	SentEmail    *model.SentEmail
	// Matched is set when the thread belongs to a sent campaign email
	Matched bool
	// Unlinked is set when only the sender's prospect record linked the message
	Unlinked  bool
	Created   bool
	Discarded bool
}

type Matcher struct {
	repo *repository.Repository
	now  func() time.Time
}

func New(repo *repository.Repository) *Matcher {
	return &Matcher{repo: repo, now: time.Now}
}

// Ingest links detail to a conversation of workspaceID. Messages on unknown
// threads from unknown senders are discarded without being stored.
func (m *Matcher) Ingest(ctx context.Context, workspaceID, ownAddress string, detail *mailbox.MessageDetail) (*Ingestion, error) {
	ing := &Ingestion{Direction: model.DirectionOutbound}
	if mailbox.IsInbound(detail, ownAddress) {
		ing.Direction = model.DirectionInbound
	}

	conv := &model.Conversation{
		WorkspaceID:   workspaceID,
		ThreadID:      detail.ThreadID,
		Status:        model.ConversationOpen,
		LastMessageAt: detail.InternalDate,
	}
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = m.now().UTC()
	}

	sent, err := m.repo.FindLatestSentEmailByThread(ctx, workspaceID, detail.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to match thread: %w", err)
	}

	switch {
	case sent != nil:
		ing.SentEmail = sent
		ing.Matched = true
		conv.ProspectID = &sent.ProspectID
		conv.CampaignID = &sent.CampaignID
		if sent.ScheduledEmail != nil {
			conv.SequenceID = sent.ScheduledEmail.SequenceID
		}
	case ing.Direction == model.DirectionInbound:
		prospect, err := m.repo.FindProspectByEmail(ctx, workspaceID, detail.FromAddress())
		if err != nil {
			return nil, fmt.Errorf("failed to find prospect: %w", err)
		}
		if prospect != nil {
			ing.Unlinked = true
			conv.ProspectID = &prospect.ID
		}
	}

	if !ing.Matched && !ing.Unlinked {
		ing.Discarded = true
		logrus.WithFields(logrus.Fields{
			"workspace_id": workspaceID,
			"message_id":   detail.ID,
			"thread_id":    detail.ThreadID,
		}).Debug("Discarding message on unknown thread")
		return ing, nil
	}

	msg := newInboxMessage(detail, ing.Direction)
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = conv.LastMessageAt
	}

	err = m.repo.Transaction(ctx, func(tx *repository.Repository) error {
		stored, err := tx.UpsertConversation(ctx, conv)
		if err != nil {
			return err
		}
		ing.Conversation = stored

		msg.ConversationID = stored.ID
		ing.Message, ing.Created, err = tx.UpsertInboxMessage(ctx, msg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	return ing, nil
}

func newInboxMessage(detail *mailbox.MessageDetail, direction model.Direction) *model.InboxMessage {
	msg := &model.InboxMessage{
		GmailMessageID: detail.ID,
		Direction:      direction,
		BodyRaw:        detail.Body.Raw,
		FromEmail:      detail.FromAddress(),
		ToEmail:        bodyparser.ExtractEmailAddress(detail.Headers.To),
		ReceivedAt:     detail.InternalDate,
		// cleared once a classification lands, so an interrupted cycle is retried
		NeedsReview: direction == model.DirectionInbound,
	}

	if subject := strings.TrimSpace(detail.Headers.Subject); subject != "" {
		msg.Subject = &subject
	}
	if cleaned := detail.Body.Cleaned; cleaned != "" {
		msg.BodyCleaned = &cleaned
	}
	return msg
}
