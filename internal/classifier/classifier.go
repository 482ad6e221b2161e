// Package classifier assigns an intent to inbound replies: deterministic
// rules first, then a language model.
package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"inbox-sync-go/internal/llm"
	"inbox-sync-go/internal/model"
)

const (
	DefaultThreshold    = 70
	DefaultMaxBodyChars = 2000

	ruleConfidence  = 100
	emptyConfidence = 15
)

// Category is the intent assigned to a reply
type Category = model.ReplyClassification

var categories = map[string]Category{
	string(model.ClassInterested):    model.ClassInterested,
	string(model.ClassNotNow):        model.ClassNotNow,
	string(model.ClassNotInterested): model.ClassNotInterested,
	string(model.ClassNegative):      model.ClassNegative,
	string(model.ClassOther):         model.ClassOther,
	string(model.ClassOutOfOffice):   model.ClassOutOfOffice,
	string(model.ClassUnsubscribe):   model.ClassUnsubscribe,
	string(model.ClassBounce):        model.ClassBounce,
	string(model.ClassNeedsReview):   model.ClassNeedsReview,
}

// ParseCategory normalizes a model label. Unknown labels return false.
func ParseCategory(s string) (Category, bool) {
	c, ok := categories[strings.ToUpper(strings.TrimSpace(s))]
	return c, ok
}

// InvalidLabelError is returned when the model answers with an unknown category
type InvalidLabelError struct {
	Label string
}

func (e *InvalidLabelError) Error() string {
	return fmt.Sprintf("unknown classification label %q", e.Label)
}

// Result is the outcome of classifying one message. A failed
// classification has nil fields, NeedsReview set and Err populated.
type Result struct {
	Classification  *Category
	ConfidenceScore *int
	Method          *model.ClassificationMethod
	NeedsReview     bool
	Reasoning       string
	Err             error
}

// Engine classifies inbox messages
type Engine struct {
	llm          llm.Classifier
	threshold    int
	maxBodyChars int
}

// Option configures an Engine
type Option func(*Engine)

// WithThreshold sets the confidence below which a model answer needs review
func WithThreshold(threshold int) Option {
	return func(e *Engine) {
		if threshold > 0 {
			e.threshold = threshold
		}
	}
}

// WithMaxBodyChars bounds the body text considered
func WithMaxBodyChars(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBodyChars = n
		}
	}
}

// New creates an Engine. A nil classifier leaves every non-rule message
// pending.
func New(c llm.Classifier, opts ...Option) *Engine {
	e := &Engine{
		llm:          c,
		threshold:    DefaultThreshold,
		maxBodyChars: DefaultMaxBodyChars,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classify never returns a Go error; failures are reported in Result.Err.
func (e *Engine) Classify(ctx context.Context, msg *model.InboxMessage, c *llm.Context) Result {
	if msg.Direction == model.DirectionOutbound {
		return Result{}
	}

	subject := ""
	if msg.Subject != nil {
		subject = *msg.Subject
	}

	body := msg.BodyRaw
	if msg.BodyCleaned != nil && strings.TrimSpace(*msg.BodyCleaned) != "" {
		body = *msg.BodyCleaned
	}
	body = truncate(strings.TrimSpace(body), e.maxBodyChars)

	if category, ok := MatchRules(subject, body); ok {
		return result(category, ruleConfidence, model.MethodRule, false, "matched deterministic rule")
	}

	if body == "" && strings.TrimSpace(subject) == "" {
		return result(model.ClassOther, emptyConfidence, model.MethodLLM, true, "empty message")
	}

	if e.llm == nil {
		return failed(&llm.Error{Code: llm.CodeProvider, Provider: "none", Message: "no classifier configured"})
	}

	answer, err := e.llm.ClassifyReply(ctx, strings.TrimSpace(subject+"\n"+body), c)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"message_id": msg.ID,
			"code":       llm.CodeOf(err),
		}).Warnf("LLM classification failed: %v", err)
		return failed(err)
	}

	category, ok := ParseCategory(answer.Classification)
	if !ok {
		return failed(&InvalidLabelError{Label: answer.Classification})
	}

	confidence := clampConfidence(answer.Confidence)
	return result(category, confidence, model.MethodLLM, confidence < e.threshold, answer.Reasoning)
}

func result(category Category, confidence int, method model.ClassificationMethod, needsReview bool, reasoning string) Result {
	return Result{
		Classification:  &category,
		ConfidenceScore: &confidence,
		Method:          &method,
		NeedsReview:     needsReview,
		Reasoning:       reasoning,
	}
}

func failed(err error) Result {
	return Result{NeedsReview: true, Err: err}
}

func clampConfidence(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	rounded := int(math.Round(v))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
