package glossary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	assert.Equal(t, "term_map.en-zh.json", Filename("en-US", "zh-Hans"))
	assert.Equal(t, "term_map.ja-en.json", Filename("ja", "en"))
}

func TestLoad_FlatMapAndList(t *testing.T) {
	dir := t.TempDir()

	flat := filepath.Join(dir, "flat.json")
	require.NoError(t, os.WriteFile(flat, []byte(`{"Okarun": "奥卡轮", "Momo": "桃"}`), 0o644))
	entries, err := Load(flat)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{SourceTerm: "Momo", TargetTerm: "桃"},
		{SourceTerm: "Okarun", TargetTerm: "奥卡轮"},
	}, entries)

	list := filepath.Join(dir, "list.json")
	require.NoError(t, Save(list, []Entry{{SourceTerm: "elf", TargetTerm: "精灵", ContextHint: "fantasy race"}}))
	entries, err = Load(list)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fantasy race", entries[0].ContextHint)
}

func TestFindInAncestors(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "show", "season1")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	target := filepath.Join(root, "show", Filename("en", "zh"))
	require.NoError(t, os.WriteFile(target, []byte(`{}`), 0o644))

	assert.Equal(t, target, FindInAncestors(nested, "en", "zh"))
	assert.Equal(t, "", FindInAncestors(nested, "en", "fr"))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	store.Put("show", []Entry{{SourceTerm: "a", TargetTerm: "b"}})

	entries, err := store.Entries(context.Background(), "show")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = store.Entries(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
