package subtitle

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/MimeLyc/subtrans/internal/failure"
)

type FormatError = failure.FormatError

// ValidationResult is a fully parsed input plus the start-order rule it was checked against.
type ValidationResult struct {
	Entries []Entry
	Policy  StartOrder
}

// Validate checks raw SRT content and returns the first structural defect
// as a *FormatError. Nothing is returned on failure.
func Validate(raw []byte, policy StartOrder) (*ValidationResult, error) {
	if policy == "" {
		policy = StartNonDecreasing
	}
	if policy != StartNonDecreasing && policy != StartStrictlyIncreasing {
		return nil, failure.Newf(failure.KindInternal, "unknown start order policy %q", policy)
	}

	data := normalize(raw)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, failure.NewEmptyInputError("file is empty")
	}

	lines := strings.Split(string(data), "\n")
	var (
		entries []Entry
		current Entry
		state   = "index"
	)

	flush := func() {
		entries = append(entries, current)
		current = Entry{}
	}

	for i, rawLine := range lines {
		lineNo := i + 1
		line := strings.TrimSpace(rawLine)
		entryNo := len(entries) + 1

		switch state {
		case "index":
			if line == "" {
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil || index < 1 {
				return nil, failure.NewFormatError(lineNo, "expected a positive subtitle index, got %q", line).AtEntry(entryNo)
			}
			current.Index = index
			state = "time"

		case "time":
			if line == "" {
				return nil, failure.NewFormatError(lineNo, "missing time range after index %d", current.Index).AtEntry(entryNo)
			}
			start, end, err := parseTimeRange(line)
			if err != nil {
				return nil, failure.NewFormatError(lineNo, "invalid time range %q", line).AtEntry(entryNo)
			}
			if end <= start {
				return nil, failure.NewFormatError(lineNo, "end %s must be after start %s",
					FormatTimestamp(end), FormatTimestamp(start)).AtEntry(entryNo)
			}
			if n := len(entries); n > 0 {
				prev := entries[n-1].Start
				if start < prev || (policy == StartStrictlyIncreasing && start == prev) {
					return nil, failure.NewFormatError(lineNo, "start %s breaks %s start order after %s",
						FormatTimestamp(start), policy, FormatTimestamp(prev)).AtEntry(entryNo)
				}
			}
			current.Start = start
			current.End = end
			state = "first_text"

		case "first_text":
			if line == "" {
				return nil, failure.NewFormatError(lineNo, "empty text block for index %d", current.Index).AtEntry(entryNo)
			}
			current.Lines = []string{line}
			state = "text"

		case "text":
			if line == "" {
				flush()
				state = "index"
				continue
			}
			current.Lines = append(current.Lines, line)
		}
	}

	switch state {
	case "time":
		return nil, failure.NewFormatError(len(lines)+1, "missing time range after index %d", current.Index).AtEntry(len(entries) + 1)
	case "first_text":
		return nil, failure.NewFormatError(len(lines)+1, "empty text block for index %d", current.Index).AtEntry(len(entries) + 1)
	case "text":
		flush()
	}

	return &ValidationResult{Entries: entries, Policy: policy}, nil
}
