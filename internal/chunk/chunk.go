// Package chunk partitions subtitle entries into ordered translation units.
package chunk

import (
	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/subtitle"
)

// Chunk is one translation unit. Only Core is ever emitted; the context
// slices are neighbouring entries sent along for coherence.
type Chunk struct {
	Sequence      int
	Core          []subtitle.Entry
	ContextBefore []subtitle.Entry
	ContextAfter  []subtitle.Entry
}

// Range reports the original indexes of the first and last core entries.
func (c Chunk) Range() (first, last int) {
	if len(c.Core) == 0 {
		return 0, 0
	}
	return c.Core[0].Index, c.Core[len(c.Core)-1].Index
}

// Split groups entries into consecutive chunks of at most size entries.
// Each chunk borrows up to window entries from its neighbours' cores as context.
func Split(entries []subtitle.Entry, size, window int) ([]Chunk, error) {
	if len(entries) == 0 {
		return nil, failure.NewEmptyInputError("no subtitle entries to split")
	}
	if size < 1 {
		return nil, failure.Newf(failure.KindFormat, "chunk size must be at least 1, got %d", size)
	}
	if window < 0 {
		return nil, failure.Newf(failure.KindFormat, "context window must not be negative, got %d", window)
	}

	count := (len(entries) + size - 1) / size
	chunks := make([]Chunk, 0, count)
	for seq := 0; seq < count; seq++ {
		lo := seq * size
		hi := min(lo+size, len(entries))
		chunks = append(chunks, Chunk{
			Sequence: seq,
			Core:     subtitle.CloneEntries(entries[lo:hi]),
		})
	}

	if window == 0 {
		return chunks, nil
	}
	for i := range chunks {
		if i > 0 {
			prev := chunks[i-1].Core
			chunks[i].ContextBefore = subtitle.CloneEntries(prev[len(prev)-min(window, len(prev)):])
		}
		if i < len(chunks)-1 {
			next := chunks[i+1].Core
			chunks[i].ContextAfter = subtitle.CloneEntries(next[:min(window, len(next))])
		}
	}
	return chunks, nil
}

// Flatten concatenates the cores of chunks in slice order.
func Flatten(chunks []Chunk) []subtitle.Entry {
	var out []subtitle.Entry
	for _, c := range chunks {
		out = append(out, c.Core...)
	}
	return out
}
