package subtitle

import (
	"strings"
	"time"
)

// Entry is one subtitle block.
type Entry struct {
	Index int           // subtitle index
	Start time.Duration // start time
	End   time.Duration // end time
	Lines []string      // text lines, in display order
}

// Text joins the entry lines with newlines.
func (e Entry) Text() string {
	return strings.Join(e.Lines, "\n")
}

// Key identifies an entry by its original index and timing.
type Key struct {
	Index int
	Start time.Duration
	End   time.Duration
}

func (e Entry) Key() Key {
	return Key{Index: e.Index, Start: e.Start, End: e.End}
}

// Clone returns a deep copy so callers can mutate Lines safely.
func (e Entry) Clone() Entry {
	out := e
	out.Lines = append([]string(nil), e.Lines...)
	return out
}

func CloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

// StartOrder is the start-time monotonicity rule enforced by Validate.
type StartOrder string

const (
	StartNonDecreasing      StartOrder = "non_decreasing"
	StartStrictlyIncreasing StartOrder = "strict"
)

func ParseStartOrder(s string) (StartOrder, bool) {
	switch StartOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", StartNonDecreasing:
		return StartNonDecreasing, true
	case StartStrictlyIncreasing, "strictly_increasing":
		return StartStrictlyIncreasing, true
	default:
		return "", false
	}
}
