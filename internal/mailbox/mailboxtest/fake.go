// Package mailboxtest provides in-memory mailbox fakes for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"inbox-sync-go/internal/mailbox"
	"inbox-sync-go/internal/model"
)

// Client is an in-memory mailbox.Client. Messages are listed in the order
// they were added.
type Client struct {
	mu sync.Mutex

	order    []string
	messages map[string]*mailbox.MessageDetail

	ListErr error
	GetErrs map[string]error
	// SendErrs are returned by successive SendMessage calls before succeeding
	SendErrs []error

	Since     []time.Time
	Fetched   []string
	Sent      []SentMessage
	SendCalls int
}

// SentMessage records one SendMessage call
type SentMessage struct {
	Raw      string
	ThreadID string
}

// NewClient returns an empty Client
func NewClient() *Client {
	return &Client{
		messages: make(map[string]*mailbox.MessageDetail),
		GetErrs:  make(map[string]error),
	}
}

// Add makes detail available to listing and fetching
func (c *Client) Add(detail *mailbox.MessageDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.messages[detail.ID]; !ok {
		c.order = append(c.order, detail.ID)
	}
	c.messages[detail.ID] = detail
}

func (c *Client) ListMessages(ctx context.Context, since time.Time, pageToken string, pageSize int) (*mailbox.ListResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Since = append(c.Since, since)
	if c.ListErr != nil {
		return nil, c.ListErr
	}

	start := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &start)
	}
	end := start + pageSize
	if end > len(c.order) {
		end = len(c.order)
	}

	result := &mailbox.ListResult{}
	for _, id := range c.order[start:end] {
		result.Messages = append(result.Messages, mailbox.MessageRef{ID: id, ThreadID: c.messages[id].ThreadID})
	}
	if end < len(c.order) {
		result.NextPageToken = fmt.Sprintf("%d", end)
	}
	return result, nil
}

func (c *Client) GetMessage(ctx context.Context, id string) (*mailbox.MessageDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Fetched = append(c.Fetched, id)
	if err := c.GetErrs[id]; err != nil {
		return nil, err
	}
	detail, ok := c.messages[id]
	if !ok {
		return nil, &mailbox.ProviderError{Op: "get", StatusCode: 404, Reason: "notFound", Message: "not found"}
	}
	return detail, nil
}

func (c *Client) SendMessage(ctx context.Context, raw, threadID string) (*mailbox.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.SendCalls++
	if len(c.SendErrs) > 0 {
		err := c.SendErrs[0]
		c.SendErrs = c.SendErrs[1:]
		return nil, err
	}

	c.Sent = append(c.Sent, SentMessage{Raw: raw, ThreadID: threadID})
	if threadID == "" {
		threadID = fmt.Sprintf("thread-sent-%d", len(c.Sent))
	}
	return &mailbox.SendResult{
		MessageID: fmt.Sprintf("sent-%d", len(c.Sent)),
		ThreadID:  threadID,
		LabelIDs:  []string{"SENT"},
	}, nil
}

// Dialer hands out one Client per workspace
type Dialer struct {
	Clients map[string]*Client
	Errs    map[string]error
	Dials   int
}

// NewDialer returns a Dialer with no mailboxes
func NewDialer() *Dialer {
	return &Dialer{Clients: make(map[string]*Client), Errs: make(map[string]error)}
}

func (d *Dialer) Dial(ctx context.Context, conn *model.MailboxConnection) (mailbox.Client, error) {
	d.Dials++
	if err := d.Errs[conn.WorkspaceID]; err != nil {
		return nil, err
	}
	c, ok := d.Clients[conn.WorkspaceID]
	if !ok {
		return nil, fmt.Errorf("no mailbox for workspace %s", conn.WorkspaceID)
	}
	return c, nil
}
