package classifier

import (
	"regexp"
	"strings"

	"inbox-sync-go/internal/model"
)

type rule struct {
	category model.ReplyClassification
	patterns []*regexp.Regexp
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Evaluated in order; the first category with a matching pattern wins.
var rules = []rule{
	{
		category: model.ClassBounce,
		patterns: compile(
			`delivery fail`,
			`permanent error`,
			`\bmailer[\s-]?daemon\b`,
			`\bundeliverable\b`,
			`message not delivered`,
			`mail delivery subsystem`,
			`delivery status notification`,
			`could not be delivered`,
			`user unknown`,
			`mailbox unavailable`,
			`address rejected`,
			`\bnon[\s-]?remis\b`,
			`erreur de livraison`,
		),
	},
	{
		category: model.ClassOutOfOffice,
		patterns: compile(
			`out of office`,
			`\bvacation\b`,
			`\baway\b.*\b(from|until|till)\b`,
			`\bon leave\b`,
			`auto[\s-]?reply`,
			`automatic reply`,
			`currently unavailable`,
			`\bcong[ée](?:$|[^\p{L}\p{N}_])`,
			`\babsence\b`,
			`\ben vacances?\b`,
			`retour le\b`,
			`de retour\b`,
			`hors du bureau`,
			`\babsent(e)?\b`,
			`r[ée]ponse automatique`,
		),
	},
	{
		category: model.ClassUnsubscribe,
		patterns: compile(
			`\bunsubscribe\b`,
			`\bremove me\b`,
			`\bstop contacting\b`,
			`\bstop emailing\b`,
			`\bdo not contact\b`,
			`\bopt[\s-]?out\b`,
			`\btake me off\b`,
			`\bno longer interested\b`,
			`\bd[ée]sabonner\b`,
			`\bd[ée]sinscription\b`,
			`ne plus recevoir`,
			`ne m['’]?[ée]crivez plus`,
			`arr[êe]tez de m`,
			`plus de mail`,
			`retirez[\s-]moi`,
			`supprimez[\s-]moi`,
		),
	},
}

// MatchRules returns the first deterministic category matching subject or
// body, or false when none applies.
func MatchRules(subject, body string) (model.ReplyClassification, bool) {
	text := strings.ToLower(subject + " " + body)
	for _, r := range rules {
		for _, p := range r.patterns {
			if p.MatchString(text) {
				return r.category, true
			}
		}
	}
	return "", false
}
