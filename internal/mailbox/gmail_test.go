package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GmailClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewGmailClient(context.Background(), nil,
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)
	return client
}

func writeAPIError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"failure","errors":[{"reason":%q,"message":"failure"}]}}`, code, reason)
}

func TestGmailListMessages(t *testing.T) {
	since := time.Unix(1767225600, 0)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages", r.URL.Path)
		assert.Equal(t, "in:inbox after:1767225600", r.URL.Query().Get("q"))
		assert.Equal(t, "50", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "page-2", r.URL.Query().Get("pageToken"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"messages":[{"id":"m1","threadId":"t1"},{"id":"m2","threadId":"t2"}],"nextPageToken":"page-3"}`)
	})

	result, err := client.ListMessages(context.Background(), since, "page-2", 50)
	require.NoError(t, err)
	assert.Equal(t, []MessageRef{{ID: "m1", ThreadID: "t1"}, {ID: "m2", ThreadID: "t2"}}, result.Messages)
	assert.Equal(t, "page-3", result.NextPageToken)
}

func TestGmailGetMessagePrefersPlainText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages/m1", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("format"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "m1",
			"threadId": "t1",
			"labelIds": ["INBOX", "UNREAD"],
			"snippet": "Sounds great",
			"internalDate": "1767258000000",
			"payload": {
				"mimeType": "multipart/alternative",
				"headers": [
					{"name": "From", "value": "Jane <Jane@Client.test>"},
					{"name": "To", "value": "me@agency.test"},
					{"name": "Subject", "value": "=?UTF-8?B?UsOpdW5pb24=?="},
					{"name": "Message-ID", "value": "<abc@mail.gmail.com>"},
					{"name": "In-Reply-To", "value": "<orig@mail.gmail.com>"}
				],
				"parts": [
					{"mimeType": "text/html", "body": {"data": "PHA-SGVsbG8gPGI-dGhlcmU8L2I-PC9wPjxwPk9uIE1vbiwgSmFuIDEsIDIwMjYgYXQgOTowMCBBTSBNZSB3cm90ZTo8L3A-"}},
					{"mimeType": "text/plain", "body": {"data": "U291bmRzIGdyZWF0LCBsZXQgdXMgdGFsay4KCk9uIE1vbiwgSmFuIDUsIDIwMjYgYXQgOTowMCBBTSBNZSA8bWVAYWdlbmN5LnRlc3Q-IHdyb3RlOgo-IEhpIEphbmU="}}
				]
			}
		}`)
	})

	msg, err := client.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, "Réunion", msg.Headers.Subject)
	assert.Equal(t, "<orig@mail.gmail.com>", msg.Headers.InReplyTo)
	assert.Equal(t, "jane@client.test", msg.FromAddress())
	assert.Equal(t, "Sounds great, let us talk.", msg.Body.Cleaned)
	assert.Contains(t, msg.Body.Raw, "> Hi Jane")
	assert.True(t, msg.InternalDate.Equal(time.UnixMilli(1767258000000)))

	assert.True(t, IsInbound(msg, "ME@agency.test"))
	assert.False(t, IsInbound(msg, "jane@client.test"))
}

func TestGmailGetMessageFallsBackToHTMLAndCharset(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/html") {
			io.WriteString(w, `{"id":"html","threadId":"t","payload":{"mimeType":"multipart/alternative","parts":[
				{"mimeType":"text/html","body":{"data":"PHA-SGVsbG8gPGI-dGhlcmU8L2I-PC9wPjxwPk9uIE1vbiwgSmFuIDEsIDIwMjYgYXQgOTowMCBBTSBNZSB3cm90ZTo8L3A-"}}]}}`)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/latin") {
			io.WriteString(w, `{"id":"latin","threadId":"t","payload":{"mimeType":"text/plain",
				"headers":[{"name":"Content-Type","value":"text/plain; charset=ISO-8859-1"}],
				"body":{"data":"Q2Fm6SDgIGJpZW509HQ="}}}`)
			return
		}
		io.WriteString(w, `{"id":"empty","threadId":"t","snippet":"only a snippet","payload":{"mimeType":"multipart/mixed"}}`)
	})

	ctx := context.Background()

	html, err := client.GetMessage(ctx, "html")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", html.Body.Cleaned)

	latin, err := client.GetMessage(ctx, "latin")
	require.NoError(t, err)
	assert.Equal(t, "Café à bientôt", latin.Body.Raw)

	empty, err := client.GetMessage(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, "only a snippet", empty.Body.Raw)
}

func TestGmailSendMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cmF3", body["raw"])
		assert.Equal(t, "t1", body["threadId"])

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"sent-1","threadId":"t1","labelIds":["SENT"]}`)
	})

	result, err := client.SendMessage(context.Background(), "cmF3", "t1")
	require.NoError(t, err)
	assert.Equal(t, &SendResult{MessageID: "sent-1", ThreadID: "t1", LabelIDs: []string{"SENT"}}, result)
}

func TestGmailErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		reason    string
		retryable bool
		auth      bool
	}{
		{"unauthorized", 401, "authError", false, true},
		{"rate limited", 429, "rateLimitExceeded", true, false},
		{"quota on 403", 403, "userRateLimitExceeded", true, false},
		{"server error", 503, "backendError", true, false},
		{"not found", 404, "notFound", false, false},
		{"bad request", 400, "invalidArgument", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, tt.code, tt.reason)
			})

			_, err := client.GetMessage(context.Background(), "m1")
			require.Error(t, err)

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.code, pe.StatusCode)
			assert.Equal(t, tt.reason, pe.Reason)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.auth, IsAuthError(err))
		})
	}
}

func TestGmailBreakerIgnoresClientErrors(t *testing.T) {
	var hits int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if strings.HasSuffix(r.URL.Path, "/missing") {
			writeAPIError(w, 404, "notFound")
			return
		}
		writeAPIError(w, 503, "backendError")
	})
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := client.GetMessage(ctx, "missing")
		require.Error(t, err)
	}
	assert.Equal(t, int32(8), atomic.LoadInt32(&hits))

	for i := 0; i < 5; i++ {
		_, err := client.GetMessage(ctx, "down")
		require.Error(t, err)
	}
	assert.Equal(t, int32(13), atomic.LoadInt32(&hits))

	_, err := client.GetMessage(ctx, "down")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(13), atomic.LoadInt32(&hits), "open breaker must short-circuit")
}
