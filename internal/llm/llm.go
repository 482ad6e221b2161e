// Package llm classifies reply text with a hosted or local language model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ErrorCode identifies why a model call failed
type ErrorCode string

const (
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeQuota           ErrorCode = "QUOTA"
	CodeProvider        ErrorCode = "PROVIDER"
	CodeInvalidResponse ErrorCode = "INVALID_RESPONSE"
	CodeConnection      ErrorCode = "CONNECTION"
)

// Error is a classified model failure
type Error struct {
	Code     ErrorCode
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Provider, strings.ToLower(string(e.Code)), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of an *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Code
	}
	return ""
}

// Context is optional thread history given to the model
type Context struct {
	ProspectName     string
	PreviousMessages []string
}

// Result is the raw model answer. Classification is an unvalidated label.
type Result struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// Classifier labels reply text
type Classifier interface {
	ClassifyReply(ctx context.Context, text string, c *Context) (*Result, error)
}

// Categories the model may answer with
var Categories = []string{
	"INTERESTED",
	"NOT_NOW",
	"NOT_INTERESTED",
	"NEGATIVE",
	"OTHER",
	"OUT_OF_OFFICE",
	"UNSUBSCRIBE",
	"BOUNCE",
	"NEEDS_REVIEW",
}

const promptTemplate = `You classify replies to B2B cold outreach emails.

Answer with JSON only, in this exact shape:
{"classification": "<CATEGORY>", "confidence": <0-100>, "reasoning": "<one short sentence>"}

CATEGORY must be one of: %s
- INTERESTED: wants to talk, asks for details, a call or pricing
- NOT_NOW: interested later, bad timing, asks to follow up later
- NOT_INTERESTED: politely declines
- NEGATIVE: hostile or annoyed
- OUT_OF_OFFICE: automatic absence reply
- UNSUBSCRIBE: asks to stop receiving emails
- BOUNCE: delivery failure notice
- OTHER: anything else
- NEEDS_REVIEW: ambiguous, a human should decide

Replies may be in English or French.
%s
REPLY:
%s`

// BuildPrompt renders the classification prompt for text
func BuildPrompt(text string, c *Context) string {
	var history strings.Builder
	if c != nil && len(c.PreviousMessages) > 0 {
		history.WriteString("\nEARLIER MESSAGES IN THE THREAD (oldest first):\n")
		for _, m := range c.PreviousMessages {
			history.WriteString("---\n")
			history.WriteString(m)
			history.WriteString("\n")
		}
	}
	if c != nil && c.ProspectName != "" {
		history.WriteString("\nThe reply was written by " + c.ProspectName + ".\n")
	}

	return fmt.Sprintf(promptTemplate, strings.Join(Categories, ", "), history.String(), text)
}

var codeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// parseResult decodes a model answer, tolerating markdown code fences
func parseResult(provider, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, &Error{Code: CodeInvalidResponse, Provider: provider, Message: "response is not valid JSON", Err: err}
	}
	if strings.TrimSpace(result.Classification) == "" {
		return nil, &Error{Code: CodeInvalidResponse, Provider: provider, Message: "response has no classification"}
	}
	return &result, nil
}

// transportError classifies a failed HTTP round trip
func transportError(ctx context.Context, provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &Error{Code: CodeTimeout, Provider: provider, Message: "request timed out", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Code: CodeTimeout, Provider: provider, Message: "request timed out", Err: err}
	}
	return &Error{Code: CodeConnection, Provider: provider, Message: err.Error(), Err: err}
}

// Disabled is used when no provider is configured; every call fails.
type Disabled struct{}

func (Disabled) ClassifyReply(ctx context.Context, text string, c *Context) (*Result, error) {
	return nil, &Error{Code: CodeProvider, Provider: "none", Message: "no classifier configured"}
}
