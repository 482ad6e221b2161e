package mailbox

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"inbox-sync-go/internal/bodyparser"
)

const gmailUser = "me"

var headerDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// NewBreaker returns the circuit breaker used for one mailbox
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Gmail circuit breaker changed state")
		},
	})
}

// GmailClient implements Client on the Gmail REST API
type GmailClient struct {
	service *gmail.Service
	cb      *gobreaker.CircuitBreaker
}

// NewGmailClient creates a Gmail client. A nil breaker gets a fresh one.
func NewGmailClient(ctx context.Context, cb *gobreaker.CircuitBreaker, opts ...option.ClientOption) (*GmailClient, error) {
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	if cb == nil {
		cb = NewBreaker("gmail-api")
	}

	return &GmailClient{service: service, cb: cb}, nil
}

// execute runs fn through the breaker. Client errors other than 429 are
// reported as breaker successes so they never trip it.
func (c *GmailClient) execute(op string, fn func() error) error {
	var clientErr error
	_, err := c.cb.Execute(func() (interface{}, error) {
		err := fn()
		if apiErr, ok := err.(*googleapi.Error); ok {
			if apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
				clientErr = err
				return nil, nil
			}
		}
		return nil, err
	})
	if err == nil {
		err = clientErr
	}
	if err == nil {
		return nil
	}
	return classifyError(op, err)
}

// ListMessages lists inbox messages received after since
func (c *GmailClient) ListMessages(ctx context.Context, since time.Time, pageToken string, pageSize int) (*ListResult, error) {
	call := c.service.Users.Messages.List(gmailUser).
		Q(fmt.Sprintf("in:inbox after:%d", since.Unix())).
		MaxResults(int64(pageSize))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	var resp *gmail.ListMessagesResponse
	err := c.execute("list", func() error {
		var err error
		resp, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &ListResult{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		result.Messages = append(result.Messages, MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return result, nil
}

// GetMessage fetches a full message and decodes its headers and body
func (c *GmailClient) GetMessage(ctx context.Context, id string) (*MessageDetail, error) {
	var msg *gmail.Message
	err := c.execute("get", func() error {
		var err error
		msg, err = c.service.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	return parseGmailMessage(msg), nil
}

// SendMessage sends a base64url encoded RFC 2822 message, optionally on a thread
func (c *GmailClient) SendMessage(ctx context.Context, raw, threadID string) (*SendResult, error) {
	msg := &gmail.Message{Raw: raw}
	if threadID != "" {
		msg.ThreadId = threadID
	}

	var sent *gmail.Message
	err := c.execute("send", func() error {
		var err error
		sent, err = c.service.Users.Messages.Send(gmailUser, msg).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	return &SendResult{MessageID: sent.Id, ThreadID: sent.ThreadId, LabelIDs: sent.LabelIds}, nil
}

// Profile returns the address of the authorized account
func (c *GmailClient) Profile(ctx context.Context) (string, error) {
	var profile *gmail.Profile
	err := c.execute("profile", func() error {
		var err error
		profile, err = c.service.Users.GetProfile(gmailUser).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return profile.EmailAddress, nil
}

func parseGmailMessage(msg *gmail.Message) *MessageDetail {
	detail := &MessageDetail{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		LabelIDs:     msg.LabelIds,
		Snippet:      msg.Snippet,
		InternalDate: time.UnixMilli(msg.InternalDate).UTC(),
	}

	if msg.Payload == nil {
		detail.Body = Body{Raw: msg.Snippet, Cleaned: bodyparser.StripQuotedContent(msg.Snippet)}
		return detail
	}

	for _, h := range msg.Payload.Headers {
		value := decodeHeader(h.Value)
		switch strings.ToLower(h.Name) {
		case "from":
			detail.Headers.From = value
		case "to":
			detail.Headers.To = value
		case "subject":
			detail.Headers.Subject = value
		case "date":
			detail.Headers.Date = value
		case "message-id":
			detail.Headers.MessageID = value
		case "in-reply-to":
			detail.Headers.InReplyTo = value
		case "references":
			detail.Headers.References = value
		}
	}

	if text, ok := findPart(msg.Payload, "text/plain"); ok {
		detail.Body = Body{Raw: text, Cleaned: bodyparser.StripQuotedContent(text)}
	} else if html, ok := findPart(msg.Payload, "text/html"); ok {
		text := bodyparser.StripHTML(html)
		detail.Body = Body{Raw: text, Cleaned: bodyparser.StripQuotedContent(text)}
	} else {
		detail.Body = Body{Raw: msg.Snippet, Cleaned: bodyparser.StripQuotedContent(msg.Snippet)}
	}

	return detail
}

// findPart walks the MIME tree depth first for the first part of mimeType with data.
func findPart(part *gmail.MessagePart, mimeType string) (string, bool) {
	if part == nil {
		return "", false
	}

	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		return decodePartBody(part), true
	}

	for _, sub := range part.Parts {
		if text, ok := findPart(sub, mimeType); ok {
			return text, true
		}
	}
	return "", false
}

func decodePartBody(part *gmail.MessagePart) string {
	data := bodyparser.DecodeBase64URL(part.Body.Data)

	cs := partCharset(part)
	if cs == "" || strings.EqualFold(cs, "utf-8") || strings.EqualFold(cs, "us-ascii") {
		return data
	}

	r, err := charset.Reader(cs, strings.NewReader(data))
	if err != nil {
		logrus.Debugf("Unknown charset %q, keeping raw bytes: %v", cs, err)
		return data
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return data
	}
	return string(decoded)
}

func partCharset(part *gmail.MessagePart) string {
	for _, h := range part.Headers {
		if !strings.EqualFold(h.Name, "Content-Type") {
			continue
		}
		_, params, err := mime.ParseMediaType(h.Value)
		if err != nil {
			return ""
		}
		return params["charset"]
	}
	return ""
}

func decodeHeader(value string) string {
	decoded, err := headerDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
