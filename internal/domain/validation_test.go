package domain

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "lead@example.com", NormalizeEmail("  Lead@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func validEvent() CanonicalEvent {
	return CanonicalEvent{
		Platform:            PlatformInstantly,
		WorkspaceExternalID: "w1",
		LeadEmail:           "a@b.com",
		ThreadSeed:          "e1",
		MessageExternalID:   "e1",
	}
}

func TestCanonicalEvent_Validate(t *testing.T) {
	t.Run("完整事件通过校验", func(t *testing.T) {
		ev := validEvent()
		assert.NoError(t, ev.Validate())
	})

	cases := map[string]func(e *CanonicalEvent){
		"leadEmail":           func(e *CanonicalEvent) { e.LeadEmail = " " },
		"threadSeed":          func(e *CanonicalEvent) { e.ThreadSeed = "" },
		"messageExternalId":   func(e *CanonicalEvent) { e.MessageExternalID = "" },
		"workspaceExternalId": func(e *CanonicalEvent) { e.WorkspaceExternalID = "" },
	}
	for field, mutate := range cases {
		t.Run("缺少 "+field, func(t *testing.T) {
			ev := validEvent()
			mutate(&ev)
			err := ev.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedEvent))
			assert.Contains(t, err.Error(), field)
		})
	}

	t.Run("超长的线索邮箱", func(t *testing.T) {
		ev := validEvent()
		ev.LeadEmail = strings.Repeat("a", MaxEmailLen) + "@b.com"
		assert.ErrorIs(t, ev.Validate(), ErrMalformedEvent)
	})

	t.Run("未知平台", func(t *testing.T) {
		ev := validEvent()
		ev.Platform = "LEMLIST"
		err := ev.Validate()
		assert.ErrorIs(t, err, ErrMalformedEvent)
		assert.ErrorIs(t, err, ErrUnknownPlatform)
	})
}

func TestBoundIdentifier(t *testing.T) {
	assert.Equal(t, "e1", BoundIdentifier("e1"))

	exact := strings.Repeat("x", MaxIdentifierLen)
	assert.Equal(t, exact, BoundIdentifier(exact))

	long := strings.Repeat("é", 400)
	bounded := BoundIdentifier(long)
	assert.Equal(t, MaxIdentifierLen, utf8.RuneCountInString(bounded))
	assert.Equal(t, bounded, BoundIdentifier(long), "同一输入结果稳定")
	assert.NotEqual(t, bounded, BoundIdentifier(long+"!"), "不同输入不会截断成同一个值")
	assert.True(t, strings.HasPrefix(bounded, strings.Repeat("é", 10)))
}

func TestLead_Merge(t *testing.T) {
	lead := &Lead{Email: "a@b.com"}

	changed := lead.Merge(LeadProfile{FirstName: "Jane", CompanyName: "Acme"})
	assert.True(t, changed)
	assert.Equal(t, "Jane", lead.FirstName)

	changed = lead.Merge(LeadProfile{LastName: "Doe"})
	assert.True(t, changed)
	assert.Equal(t, "Jane", lead.FirstName, "空值不应覆盖已知字段")
	assert.Equal(t, "Doe", lead.LastName)

	assert.False(t, lead.Merge(LeadProfile{FirstName: "Jane"}))
	assert.True(t, lead.Merge(LeadProfile{FirstName: "Janet"}))
	assert.Equal(t, "Janet", lead.FirstName)
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("instantly")
	require.NoError(t, err)
	assert.Equal(t, PlatformInstantly, p)
	assert.Equal(t, "instantly", p.Tag())

	p, err = ParsePlatform("PlusVibe")
	require.NoError(t, err)
	assert.Equal(t, PlatformPlusVibe, p)

	_, err = ParsePlatform("smartlead")
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}
