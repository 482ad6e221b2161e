package classifier

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inbox-sync-go/internal/llm"
	"inbox-sync-go/internal/model"
)

type fakeLLM struct {
	result *llm.Result
	err    error
	calls  int
	text   string
	ctx    *llm.Context
}

func (f *fakeLLM) ClassifyReply(ctx context.Context, text string, c *llm.Context) (*llm.Result, error) {
	f.calls++
	f.text = text
	f.ctx = c
	return f.result, f.err
}

func inbound(subject, body string) *model.InboxMessage {
	msg := &model.InboxMessage{ID: "m1", Direction: model.DirectionInbound, BodyRaw: body}
	if subject != "" {
		msg.Subject = &subject
	}
	return msg
}

func TestRules(t *testing.T) {
	tests := []struct {
		subject string
		body    string
		want    model.ReplyClassification
	}{
		{"Delivery Status Notification (Failure)", "", model.ClassBounce},
		{"", "Message from MAILER-DAEMON: user unknown", model.ClassBounce},
		{"Non remis : Hello", "", model.ClassBounce},
		{"Out of Office", "I am away until Monday", model.ClassOutOfOffice},
		{"Réponse automatique", "", model.ClassOutOfOffice},
		{"", "Je suis en congé jusqu'au 12", model.ClassOutOfOffice},
		{"", "Je suis absente cette semaine", model.ClassOutOfOffice},
		{"Re: Hello", "Please unsubscribe me", model.ClassUnsubscribe},
		{"", "Merci de me désabonner", model.ClassUnsubscribe},
		{"", "Ne m'écrivez plus", model.ClassUnsubscribe},
		{"", "retirez-moi de votre liste", model.ClassUnsubscribe},
		// bounce wins over the unsubscribe footer it quotes
		{"Undeliverable: Hello", "click to unsubscribe", model.ClassBounce},
	}

	for _, tt := range tests {
		got, ok := MatchRules(tt.subject, tt.body)
		require.True(t, ok, "%q / %q", tt.subject, tt.body)
		assert.Equal(t, tt.want, got, "%q / %q", tt.subject, tt.body)
	}

	for _, text := range []string{"Sounds great, let's talk", "Congrats on the launch", "Not interested, thanks"} {
		_, ok := MatchRules("", text)
		assert.False(t, ok, text)
	}
}

func TestClassifyRuleMatchSkipsModel(t *testing.T) {
	fake := &fakeLLM{}
	e := New(fake)

	r := e.Classify(context.Background(), inbound("Automatic reply: Hello", "Back next week"), nil)
	require.NoError(t, r.Err)
	assert.Equal(t, model.ClassOutOfOffice, *r.Classification)
	assert.Equal(t, 100, *r.ConfidenceScore)
	assert.Equal(t, model.MethodRule, *r.Method)
	assert.False(t, r.NeedsReview)
	assert.Equal(t, 0, fake.calls)
}

func TestClassifyOutbound(t *testing.T) {
	fake := &fakeLLM{}
	msg := inbound("Hello", "unsubscribe")
	msg.Direction = model.DirectionOutbound

	r := New(fake).Classify(context.Background(), msg, nil)
	assert.Nil(t, r.Classification)
	assert.False(t, r.NeedsReview)
	assert.NoError(t, r.Err)
	assert.Equal(t, 0, fake.calls)
}

func TestClassifyEmptyMessage(t *testing.T) {
	fake := &fakeLLM{}
	r := New(fake).Classify(context.Background(), inbound("   ", "  \n "), nil)

	assert.Equal(t, model.ClassOther, *r.Classification)
	assert.Equal(t, 15, *r.ConfidenceScore)
	assert.Equal(t, model.MethodLLM, *r.Method)
	assert.True(t, r.NeedsReview)
	assert.Equal(t, 0, fake.calls)
}

func TestClassifyWithModel(t *testing.T) {
	fake := &fakeLLM{result: &llm.Result{Classification: " interested ", Confidence: 84.6, Reasoning: "asks for a demo"}}
	history := &llm.Context{PreviousMessages: []string{"Hi Jane"}}

	r := New(fake).Classify(context.Background(), inbound("Re: Hello", "Can we book a demo?"), history)
	require.NoError(t, r.Err)
	assert.Equal(t, model.ClassInterested, *r.Classification)
	assert.Equal(t, 85, *r.ConfidenceScore)
	assert.Equal(t, model.MethodLLM, *r.Method)
	assert.False(t, r.NeedsReview)
	assert.Equal(t, "asks for a demo", r.Reasoning)
	assert.Equal(t, "Re: Hello\nCan we book a demo?", fake.text)
	assert.Same(t, history, fake.ctx)
}

func TestClassifyPrefersCleanedBody(t *testing.T) {
	fake := &fakeLLM{result: &llm.Result{Classification: "NOT_NOW", Confidence: 90}}
	msg := inbound("", "Maybe next quarter\n> quoted original")
	cleaned := "Maybe next quarter"
	msg.BodyCleaned = &cleaned

	New(fake).Classify(context.Background(), msg, nil)
	assert.Equal(t, "Maybe next quarter", fake.text)
}

func TestClassifyTruncatesBody(t *testing.T) {
	fake := &fakeLLM{result: &llm.Result{Classification: "OTHER", Confidence: 80}}
	body := strings.Repeat("é", 3000)

	New(fake, WithMaxBodyChars(2000)).Classify(context.Background(), inbound("", body), nil)
	assert.Equal(t, 2000, len([]rune(fake.text)))
}

func TestClassifyLowConfidenceNeedsReview(t *testing.T) {
	fake := &fakeLLM{result: &llm.Result{Classification: "NOT_INTERESTED", Confidence: 69.4}}

	r := New(fake).Classify(context.Background(), inbound("", "hmm"), nil)
	require.NoError(t, r.Err)
	assert.Equal(t, 69, *r.ConfidenceScore)
	assert.True(t, r.NeedsReview)

	fake.result = &llm.Result{Classification: "NOT_INTERESTED", Confidence: 69.5}
	r = New(fake).Classify(context.Background(), inbound("", "hmm"), nil)
	assert.Equal(t, 70, *r.ConfidenceScore)
	assert.False(t, r.NeedsReview)
}

func TestClassifyFailures(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeLLM
	}{
		{"provider error", &fakeLLM{err: &llm.Error{Code: llm.CodeTimeout, Provider: "gemini", Message: "slow"}}},
		{"unknown label", &fakeLLM{result: &llm.Result{Classification: "MAYBE", Confidence: 90}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.fake).Classify(context.Background(), inbound("", "Thanks for reaching out"), nil)
			require.Error(t, r.Err)
			assert.Nil(t, r.Classification)
			assert.Nil(t, r.ConfidenceScore)
			assert.Nil(t, r.Method)
			assert.True(t, r.NeedsReview)
		})
	}

	var labelErr *InvalidLabelError
	r := New(&fakeLLM{result: &llm.Result{Classification: "MAYBE"}}).Classify(context.Background(), inbound("", "ok"), nil)
	assert.True(t, errors.As(r.Err, &labelErr))
}

func TestClassifyWithoutModel(t *testing.T) {
	r := New(nil).Classify(context.Background(), inbound("", "Let's talk"), nil)
	assert.Equal(t, llm.CodeProvider, llm.CodeOf(r.Err))
	assert.True(t, r.NeedsReview)

	r = New(llm.Disabled{}).Classify(context.Background(), inbound("", "Let's talk"), nil)
	assert.Equal(t, llm.CodeProvider, llm.CodeOf(r.Err))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, clampConfidence(math.NaN()))
	assert.Equal(t, 0, clampConfidence(math.Inf(1)))
	assert.Equal(t, 0, clampConfidence(-5))
	assert.Equal(t, 100, clampConfidence(140))
	assert.Equal(t, 43, clampConfidence(42.5))
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory(" out_of_office\n")
	assert.True(t, ok)
	assert.Equal(t, model.ClassOutOfOffice, c)

	_, ok = ParseCategory("SPAM")
	assert.False(t, ok)
}
