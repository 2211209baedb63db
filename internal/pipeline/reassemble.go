package pipeline

import (
	"sort"

	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/subtitle"
	"github.com/MimeLyc/subtrans/pkg/file"
)

// Reassemble merges translated chunks in sequence order, drops any echoed
// context entries and renumbers the result 1..N. Every chunk 0..n-1 must be
// present once and done.
func Reassemble(chunks []TranslatedChunk) ([]subtitle.Entry, error) {
	if len(chunks) == 0 {
		return nil, failure.New(failure.KindIncompleteJob, "no chunks to reassemble")
	}

	ordered := make([]TranslatedChunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Chunk.Sequence < ordered[j].Chunk.Sequence
	})

	var merged []subtitle.Entry
	for i, tc := range ordered {
		seq := tc.Chunk.Sequence
		if seq != i {
			if seq < i {
				return nil, incomplete(seq, "chunk %d appears more than once", seq)
			}
			return nil, incomplete(i, "chunk %d is missing", i)
		}
		if tc.State != jobs.ChunkDone {
			return nil, incomplete(seq, "chunk %d is %s, not done", seq, stateOf(tc.State))
		}

		core := stripContext(tc)
		if len(core) != len(tc.Chunk.Core) {
			return nil, incomplete(seq, "chunk %d has %d translated entries for %d source entries",
				seq, len(core), len(tc.Chunk.Core))
		}
		merged = append(merged, core...)
	}
	return subtitle.Renumber(merged), nil
}

// stripContext removes entries matching the chunk's context boundaries by
// original index and timing.
func stripContext(tc TranslatedChunk) []subtitle.Entry {
	if len(tc.Chunk.ContextBefore) == 0 && len(tc.Chunk.ContextAfter) == 0 {
		return tc.Entries
	}
	coreKeys := make(map[subtitle.Key]bool, len(tc.Chunk.Core))
	for _, e := range tc.Chunk.Core {
		coreKeys[e.Key()] = true
	}
	contextKeys := make(map[subtitle.Key]bool)
	for _, e := range tc.Chunk.ContextBefore {
		contextKeys[e.Key()] = true
	}
	for _, e := range tc.Chunk.ContextAfter {
		contextKeys[e.Key()] = true
	}

	out := make([]subtitle.Entry, 0, len(tc.Entries))
	for _, e := range tc.Entries {
		k := e.Key()
		if contextKeys[k] && !coreKeys[k] {
			continue
		}
		out = append(out, e)
	}
	return out
}

func incomplete(seq int, format string, args ...any) error {
	return failure.Newf(failure.KindIncompleteJob, format, args...).WithContext(failure.CtxChunk, seq)
}

func stateOf(s jobs.ChunkState) jobs.ChunkState {
	if s == "" {
		return jobs.ChunkQueued
	}
	return s
}

// WriteOutput serializes entries to path through an atomic rename. Output
// that does not read back entry for entry is not written.
func WriteOutput(path string, entries []subtitle.Entry) error {
	data := subtitle.Serialize(entries)
	parsed, err := subtitle.ParseSRT(data)
	if err != nil {
		return failure.Wrap(err, failure.KindIncompleteJob, "serialized output does not parse")
	}
	if len(parsed) != len(entries) {
		return failure.Newf(failure.KindIncompleteJob,
			"serialized output reads back as %d entries, want %d", len(parsed), len(entries))
	}
	for i := range parsed {
		if parsed[i].Index != entries[i].Index || len(parsed[i].Lines) != len(entries[i].Lines) {
			return failure.Newf(failure.KindIncompleteJob,
				"serialized entry %d does not read back intact", entries[i].Index)
		}
	}
	return file.WriteAtomic(path, data, 0o644)
}
