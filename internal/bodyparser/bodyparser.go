// Package bodyparser cleans email bodies before they are stored or classified.
package bodyparser

import (
	"encoding/base64"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// quotedPatterns are applied in order; each match is removed from the body.
var quotedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^>.*$`),
	regexp.MustCompile(`(?m)^On\s.+\swrote:\s*$`),
	regexp.MustCompile(`(?m)^Le\s.+\sa\s+écrit\s*:\s*$`),
	regexp.MustCompile(`(?ms)^-----\s*Original Message\s*-----.*`),
	regexp.MustCompile(`(?ms)^_{10,}.*`),
	regexp.MustCompile(`(?m)^On\s.+\sat\s.+wrote:\s*$`),
	regexp.MustCompile(`(?m)^From:\s.+$`),
	regexp.MustCompile(`(?m)^Sent from my (iPhone|Android|iPad|mobile).*`),
}

var (
	blankLines     = regexp.MustCompile(`\n{3,}`)
	horizontalRuns = regexp.MustCompile(`[ \t]+`)

	scriptBlock = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	styleBlock  = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	lineBreak   = regexp.MustCompile(`(?i)<br\s*/?>`)
	paragraph   = regexp.MustCompile(`(?i)</p>`)
	division    = regexp.MustCompile(`(?i)</div>`)

	angleAddress = regexp.MustCompile(`<([^>]+)>`)
	bareAddress  = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.\w+`)
)

var textPolicy = bluemonday.StrictPolicy()

// StripQuotedContent removes quoted history, forward headers and mobile
// signatures so that only the new reply text remains.
func StripQuotedContent(body string) string {
	cleaned := body
	for _, re := range quotedPatterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}

	cleaned = blankLines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// StripHTML converts an HTML body to plain text
func StripHTML(body string) string {
	text := scriptBlock.ReplaceAllString(body, "")
	text = styleBlock.ReplaceAllString(text, "")

	text = lineBreak.ReplaceAllString(text, "\n")
	text = paragraph.ReplaceAllString(text, "\n\n")
	text = division.ReplaceAllString(text, "\n")

	text = textPolicy.Sanitize(text)
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")

	text = horizontalRuns.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ExtractEmailAddress returns the lowercased address from a From or To header.
// "Jane <jane@x.io>" and "jane@x.io" both yield "jane@x.io".
func ExtractEmailAddress(header string) string {
	if m := angleAddress.FindStringSubmatch(header); m != nil {
		return strings.ToLower(strings.TrimSpace(m[1]))
	}

	if m := bareAddress.FindString(header); m != "" {
		return strings.ToLower(strings.TrimSpace(m))
	}

	return strings.ToLower(strings.TrimSpace(header))
}

// DecodeBase64URL decodes Gmail's base64url payloads, padded or not.
// Invalid input decodes to an empty string.
func DecodeBase64URL(data string) string {
	normalized := strings.NewReplacer("+", "-", "/", "_").Replace(data)
	normalized = strings.TrimRight(normalized, "=")

	decoded, err := base64.RawURLEncoding.DecodeString(normalized)
	if err != nil {
		return ""
	}
	return string(decoded)
}
