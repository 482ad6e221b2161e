// Package composer builds RFC 2822 messages for the Gmail send API and
// resolves the thread a follow-up step must reply into.
package composer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"inbox-sync-go/internal/model"
)

var rePrefix = regexp.MustCompile(`(?i)^Re:`)

var newlineToBreak = strings.NewReplacer("\r\n", "<br>", "\n", "<br>", "\r", "<br>")

// Params describes one outbound message
type Params struct {
	From            string
	FromName        string
	To              string
	Subject         string
	Body            string
	Signature       string
	UnsubscribeLink string
	InReplyTo       string
	References      string
}

// ThreadContext identifies the thread a follow-up replies into
type ThreadContext struct {
	ThreadID        string
	InReplyTo       string
	References      string
	OriginalSubject string
}

// Compose renders p as raw message text with CRLF header lines
func Compose(p Params, now time.Time) string {
	headers := make([]string, 0, 8)

	if p.FromName != "" {
		headers = append(headers, fmt.Sprintf(`From: "%s" <%s>`, p.FromName, p.From))
	} else {
		headers = append(headers, "From: "+p.From)
	}
	headers = append(headers,
		"To: "+p.To,
		"Subject: "+encodeHeaderWord(p.Subject),
		"Date: "+now.Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=utf-8",
	)
	if p.InReplyTo != "" {
		headers = append(headers, "In-Reply-To: "+p.InReplyTo)
	}
	if p.References != "" {
		headers = append(headers, "References: "+p.References)
	}

	body := p.Body
	if p.Signature != "" {
		body += "\n<br><br>--<br>\n" + newlineToBreak.Replace(p.Signature)
	}
	if p.UnsubscribeLink != "" {
		body += "\n<br><br>\n" + p.UnsubscribeLink
	}

	return strings.Join(headers, "\r\n") + "\r\n\r\n" + body
}

// Encode returns raw as unpadded base64url, the form Gmail expects
func Encode(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ComposeEncoded is Encode(Compose(p, now))
func ComposeEncoded(p Params, now time.Time) string {
	return Encode(Compose(p, now))
}

// encodeHeaderWord applies RFC 2047 B-encoding only when s is not plain ASCII.
func encodeHeaderWord(s string) string {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(s)) + "?="
		}
	}
	return s
}

// ThreadedSubject prefixes "Re: " unless the subject already has it
func ThreadedSubject(subject string) string {
	if rePrefix.MatchString(subject) {
		return subject
	}
	return "Re: " + subject
}

// FormatMessageID turns a bare Gmail id into a Message-ID header value
func FormatMessageID(id string) string {
	if strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">") {
		return id
	}
	return "<" + id + "@mail.gmail.com>"
}

// UnsubscribeURL is the public link that unsubscribes a prospect
func UnsubscribeURL(baseURL, prospectID, workspaceID string) string {
	return fmt.Sprintf("%s/api/unsubscribe?p=%s&w=%s", strings.TrimRight(baseURL, "/"), prospectID, workspaceID)
}

// UnsubscribeLink renders the footer block appended to every campaign email
func UnsubscribeLink(url, label string) string {
	return fmt.Sprintf(`<p style="color: #6b7280; font-size: 12px; margin-top: 20px;"><a href="%s" style="color: #6b7280;">%s</a></p>`, url, label)
}

// HeaderParams are the values recorded with a sent email
type HeaderParams struct {
	From       string
	To         string
	Subject    string
	MessageID  string
	InReplyTo  string
	References string
	Date       time.Time
}

// BuildHeadersJSON returns the stored header map of a sent email as JSON
func BuildHeadersJSON(p HeaderParams) string {
	headers := map[string]string{
		"From":    p.From,
		"To":      p.To,
		"Subject": p.Subject,
		"Date":    p.Date.UTC().Format(time.RFC3339),
	}
	if p.MessageID != "" {
		headers["Message-ID"] = p.MessageID
	}
	if p.InReplyTo != "" {
		headers["In-Reply-To"] = p.InReplyTo
	}
	if p.References != "" {
		headers["References"] = p.References
	}

	data, _ := json.Marshal(headers)
	return string(data)
}

// FirstStepFinder looks up the step 1 send of a (campaign, prospect) pair
type FirstStepFinder interface {
	FindFirstStepSentEmail(ctx context.Context, campaignID, prospectID string) (*model.SentEmail, error)
}

// Composer resolves thread context from stored sends
type Composer struct {
	sent FirstStepFinder
}

func New(sent FirstStepFinder) *Composer {
	return &Composer{sent: sent}
}

// ThreadContext returns where step should be sent. Step 1, or a follow-up
// whose first step was never sent, starts a new thread and yields nil.
func (c *Composer) ThreadContext(ctx context.Context, campaignID, prospectID string, step int) (*ThreadContext, error) {
	if step <= 1 {
		return nil, nil
	}

	first, err := c.sent.FindFirstStepSentEmail(ctx, campaignID, prospectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find first step: %w", err)
	}

	if first == nil {
		logrus.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"prospect_id": prospectID,
			"step":        step,
		}).Warn("No sent first step found, starting a new thread")
		return nil, nil
	}

	messageID := FormatMessageID(first.MessageID)
	return &ThreadContext{
		ThreadID:        first.ThreadID,
		InReplyTo:       messageID,
		References:      messageID,
		OriginalSubject: first.Subject,
	}, nil
}
