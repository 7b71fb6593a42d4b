package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
)

type setBlocklist map[string]bool

func (s setBlocklist) IsBlocked(userID string) bool { return s[userID] }

var allOn = Config{HideSpam: true, HideLinks: true, CapsFilter: true}

func msg(user, body string, kind domain.Kind) domain.Message {
	return domain.Message{ID: "m-" + user, UserID: user, Body: body, Kind: kind}
}

func TestBlockedSenderAlwaysDropped(t *testing.T) {
	blocked := setBlocklist{"u1": true}
	bodies := []string{"hello", "", "see www.example.com", "HELLO THERE FRIENDS"}
	configs := []Config{{}, allOn, {HideLinks: true}}

	for _, body := range bodies {
		for _, cfg := range configs {
			d := Admit(msg("u1", body, domain.KindChat), blocked, cfg)
			assert.False(t, d.Admit, body)
			assert.Equal(t, RuleBlockedSender, d.Rule)
		}
	}
}

func TestRuleOrder(t *testing.T) {
	blocked := setBlocklist{}

	d := Admit(msg("u2", "BUY NOW AT spam.com", domain.KindSpam), blocked, allOn)
	assert.Equal(t, RuleSpam, d.Rule)

	d = Admit(msg("u2", "LOOK AT http://x.io NOW", domain.KindChat), blocked, allOn)
	assert.Equal(t, RuleLink, d.Rule)

	d = Admit(msg("u2", "THIS IS SO LOUD", domain.KindChat), blocked, allOn)
	assert.Equal(t, RuleCaps, d.Rule)

	d = Admit(msg("u2", "hello there", domain.KindChat), blocked, allOn)
	assert.True(t, d.Admit)
	assert.Equal(t, RuleNone, d.Rule)
}

func TestCapsRuleRegardlessOfSender(t *testing.T) {
	loud := "AAAAAAAAAAAA"
	for _, role := range []domain.Role{domain.RoleViewer, domain.RoleHost, domain.RoleCreator} {
		m := msg("u3", loud, domain.KindChat)
		m.Role = role
		d := Admit(m, nil, Config{CapsFilter: true})
		assert.False(t, d.Admit, role)
		assert.Equal(t, RuleCaps, d.Rule)
	}
}

func TestRulesDisabled(t *testing.T) {
	d := Admit(msg("u2", "VISIT WWW.EXAMPLE.COM", domain.KindSpam), nil, Config{})
	assert.True(t, d.Admit)
}

func TestIsShouting(t *testing.T) {
	assert.False(t, IsShouting("HELLO WORLD"[:10]), "length 10 is not > 10")
	assert.True(t, IsShouting("HELLOWORLDS"))
	assert.False(t, IsShouting("Hello World!"))
	// 8 of 11 runes uppercase: 0.727
	assert.True(t, IsShouting("ABCDEFGH..."))
	// 7 of 11: 0.636
	assert.False(t, IsShouting("ABCDEFG...."))
}

func TestContainsLink(t *testing.T) {
	for _, s := range []string{"https://a.b/c", "go to www.site.org", "clips at twitch.tv", "HTTP://LOUD.COM"} {
		assert.True(t, ContainsLink(s), s)
	}
	for _, s := range []string{"hello", "e.g. this", "3.14"} {
		assert.False(t, ContainsLink(s), s)
	}
}

func TestAdmitIsDeterministic(t *testing.T) {
	blocked := setBlocklist{"u1": true}
	m := msg("u2", "some text", domain.KindChat)
	first := Admit(m, blocked, allOn)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Admit(m, blocked, allOn))
	}
}
