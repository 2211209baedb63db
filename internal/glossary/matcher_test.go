package glossary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terms(matched []Entry) map[string]string {
	out := make(map[string]string, len(matched))
	for _, e := range matched {
		out[e.SourceTerm] = e.TargetTerm
	}
	return out
}

func TestMatch(t *testing.T) {
	entries := []Entry{
		{SourceTerm: "Momo Ayase", TargetTerm: "绫濑桃"},
		{SourceTerm: "Okarun", TargetTerm: "奥卡轮"},
		{SourceTerm: "Turbo Granny", TargetTerm: "涡轮婆婆"},
		{SourceTerm: "Serpo", TargetTerm: "蛇颇"},
	}

	texts := []string{
		"Momo Ayase, look out!",
		"Okarun is here.",
		"This is just a regular line.",
	}

	matched := Match(entries, texts)
	require.Len(t, matched, 2)
	assert.Equal(t, "Momo Ayase", matched[0].SourceTerm)
	assert.Equal(t, "奥卡轮", terms(matched)["Okarun"])
}

func TestMatch_Empty(t *testing.T) {
	assert.Empty(t, Match(nil, []string{"some text"}))
	assert.Empty(t, Match([]Entry{{SourceTerm: "hello", TargetTerm: "world"}}, nil))
}

func TestMatch_CaseSensitive(t *testing.T) {
	entries := []Entry{{SourceTerm: "Momo", TargetTerm: "桃"}}

	assert.Empty(t, Match(entries, []string{"momo is here"}))
	assert.Len(t, Match(entries, []string{"Momo is here"}), 1)
}

func TestMatch_WordBoundary(t *testing.T) {
	entries := []Entry{{SourceTerm: "elf", TargetTerm: "精灵"}}

	assert.Empty(t, Match(entries, []string{"She found herself alone."}))
	assert.Len(t, Match(entries, []string{"The elf cast a spell."}), 1)
	assert.Len(t, Match(entries, []string{"She met an elf"}), 1)
	assert.Len(t, Match(entries, []string{"elf warriors attacked"}), 1)
	assert.Len(t, Match(entries, []string{"Look, an elf!"}), 1)
	assert.Len(t, Match(entries, []string{`"elf"`}), 1)

	assert.Empty(t, Match([]Entry{{SourceTerm: "Dan", TargetTerm: "但"}}, []string{"DanDaDan is great"}))
}

func TestMatch_CJKWithoutSpaces(t *testing.T) {
	entries := []Entry{{SourceTerm: "桃", TargetTerm: "Momo"}}
	assert.Len(t, Match(entries, []string{"我是桃的朋友"}), 1)
}

func TestMatch_LongestWins(t *testing.T) {
	entries := []Entry{
		{SourceTerm: "Momo", TargetTerm: "桃"},
		{SourceTerm: "Momo Ayase", TargetTerm: "绫濑桃"},
	}

	matched := Match(entries, []string{"Momo Ayase arrived."})
	require.Len(t, matched, 1)
	assert.Equal(t, "绫濑桃", matched[0].TargetTerm)

	matched = Match(entries, []string{"Momo Ayase arrived.", "Momo left."})
	assert.Len(t, matched, 2)
}
