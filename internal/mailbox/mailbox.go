// Package mailbox talks to a connected Gmail account: listing inbox
// messages, fetching them with decoded headers and bodies, and sending
// threaded replies.
package mailbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"inbox-sync-go/internal/bodyparser"
	"inbox-sync-go/internal/model"
)

// DefaultMaxMessages caps how many message ids one sync cycle collects.
const DefaultMaxMessages = 100

// MaxListPages caps how many listing pages one cycle requests
const MaxListPages = 20

// Client is the mailbox surface a sync cycle and the sender rely on
type Client interface {
	ListMessages(ctx context.Context, since time.Time, pageToken string, pageSize int) (*ListResult, error)
	GetMessage(ctx context.Context, id string) (*MessageDetail, error)
	SendMessage(ctx context.Context, raw, threadID string) (*SendResult, error)
}

// Dialer opens a Client for a stored mailbox connection
type Dialer interface {
	Dial(ctx context.Context, conn *model.MailboxConnection) (Client, error)
}

// MessageRef identifies a listed message
type MessageRef struct {
	ID       string
	ThreadID string
}

// ListResult is one page of a message listing
type ListResult struct {
	Messages      []MessageRef
	NextPageToken string
}

// Headers are the decoded headers used for correlation
type Headers struct {
	From       string
	To         string
	Subject    string
	Date       string
	MessageID  string
	InReplyTo  string
	References string
}

// Body holds the text of a message before and after quote stripping
type Body struct {
	Raw     string
	Cleaned string
}

// MessageDetail is a fully fetched message
type MessageDetail struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	Headers      Headers
	Body         Body
	InternalDate time.Time
}

// SendResult identifies a sent message
type SendResult struct {
	MessageID string
	ThreadID  string
	LabelIDs  []string
}

// FromAddress returns the lowercased sender address
func (m *MessageDetail) FromAddress() string {
	return bodyparser.ExtractEmailAddress(m.Headers.From)
}

// IsInbound reports whether the message was sent by someone other than ownAddress
func IsInbound(m *MessageDetail, ownAddress string) bool {
	return !strings.EqualFold(m.FromAddress(), strings.TrimSpace(ownAddress))
}

// CollectMessageIDs pages through inbox messages received after since until
// limit ids are collected, MaxListPages pages were read or the listing is
// exhausted.
func CollectMessageIDs(ctx context.Context, c Client, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultMaxMessages
	}

	var ids []string
	pageToken := ""
	for pages := 0; len(ids) < limit && pages < MaxListPages; pages++ {
		pageSize := limit - len(ids)
		if pageSize > DefaultMaxMessages {
			pageSize = DefaultMaxMessages
		}

		page, err := c.ListMessages(ctx, since, pageToken, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, ref := range page.Messages {
			ids = append(ids, ref.ID)
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
