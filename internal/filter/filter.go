// Package filter decides whether an inbound message enters the conversation log.
package filter

import (
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

// Config toggles the content rules.
type Config struct {
	HideSpam   bool `mapstructure:"hide_spam" json:"hide_spam"`
	HideLinks  bool `mapstructure:"hide_links" json:"hide_links"`
	CapsFilter bool `mapstructure:"caps_filter" json:"caps_filter"`
}

// Blocklist reports whether a user is blocked.
type Blocklist interface {
	IsBlocked(userID string) bool
}

// Rule names the rule that dropped a message.
type Rule string

const (
	RuleNone          Rule = ""
	RuleBlockedSender Rule = "blocked_sender"
	RuleSpam          Rule = "spam"
	RuleLink          Rule = "link"
	RuleCaps          Rule = "caps"
)

// Decision is the outcome of Admit.
type Decision struct {
	Admit bool
	Rule  Rule
}

const (
	capsRatio     = 0.7
	capsMinLength = 10
)

var linkPattern = regexp.MustCompile(`(?i)(https?://|www\.)\S+|\b[a-z0-9-]+\.(com|net|org|io|tv|gg|co|me|ly|app|dev|xyz)\b`)

// Admit evaluates the rules in order; the first that matches drops the message.
func Admit(msg domain.Message, blocked Blocklist, cfg Config) Decision {
	switch {
	case blocked != nil && blocked.IsBlocked(msg.UserID):
		return Decision{Rule: RuleBlockedSender}
	case cfg.HideSpam && msg.Kind == domain.KindSpam:
		return Decision{Rule: RuleSpam}
	case cfg.HideLinks && ContainsLink(msg.Body):
		return Decision{Rule: RuleLink}
	case cfg.CapsFilter && IsShouting(msg.Body):
		return Decision{Rule: RuleCaps}
	}
	return Decision{Admit: true}
}

// ContainsLink reports whether body contains a URL or bare domain.
func ContainsLink(body string) bool {
	return linkPattern.MatchString(body)
}

// IsShouting reports whether more than 70% of body is uppercase letters and
// body is longer than 10 characters.
func IsShouting(body string) bool {
	n := utf8.RuneCountInString(body)
	if n <= capsMinLength {
		return false
	}
	upper := 0
	for _, r := range body {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return float64(upper)/float64(n) > capsRatio
}
