package failure

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/subtrans/pkg/log"
)

type Kind int

const (
	KindInternal Kind = iota
	KindFormat
	KindEmptyInput
	KindTransientBackend
	KindPermanentBackend
	KindIncompleteJob
	KindCancelled
	KindInterrupted
	KindNotFound
	KindForbidden
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "FormatError"
	case KindEmptyInput:
		return "EmptyInputError"
	case KindTransientBackend:
		return "TransientBackendError"
	case KindPermanentBackend:
		return "PermanentBackendError"
	case KindIncompleteJob:
		return "IncompleteJobError"
	case KindCancelled:
		return "Cancelled"
	case KindInterrupted:
		return "Interrupted"
	case KindNotFound:
		return "NotFound"
	case KindForbidden:
		return "Forbidden"
	case KindConflict:
		return "Conflict"
	default:
		return "InternalError"
	}
}

// Retryable reports whether errors of this kind may succeed on another attempt.
func (k Kind) Retryable() bool {
	return k == KindTransientBackend
}

// Error is the structured error carried through the pipeline.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// KindOf returns the kind of the outermost *Error in err's chain.
// Context cancellation maps to KindCancelled; anything else unstructured is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var ft *FormatError
	if errors.As(err, &ft) {
		return ft.kind()
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ErrCancelled is the sentinel for a cancelled job.
var ErrCancelled = New(KindCancelled, "job cancelled")

// FormatError reports the first structural defect in subtitle input.
// Line is 1-based; 0 means the input as a whole. Entry is the 1-based
// position of the offending subtitle block, 0 when not known.
type FormatError struct {
	Line   int
	Entry  int
	Reason string
	Empty  bool
}

func (e *FormatError) Error() string {
	if e.Empty {
		return fmt.Sprintf("empty input: %s", e.Reason)
	}
	if e.Entry > 0 {
		return fmt.Sprintf("format error at line %d (entry %d): %s", e.Line, e.Entry, e.Reason)
	}
	return fmt.Sprintf("format error at line %d: %s", e.Line, e.Reason)
}

func (e *FormatError) kind() Kind {
	if e.Empty {
		return KindEmptyInput
	}
	return KindFormat
}

func NewFormatError(line int, format string, args ...any) *FormatError {
	return &FormatError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// AtEntry records the block position of the defect.
func (e *FormatError) AtEntry(n int) *FormatError {
	e.Entry = n
	return e
}

func NewEmptyInputError(reason string) *FormatError {
	return &FormatError{Reason: reason, Empty: true}
}

// Advice returns a short user-facing hint for a failure kind.
func Advice(kind Kind) string {
	switch kind {
	case KindFormat:
		return "Fix the subtitle file at the reported line and resubmit"
	case KindEmptyInput:
		return "The subtitle file contains no entries; upload a non-empty SRT file"
	case KindTransientBackend:
		return "The translation backend kept failing temporarily; resubmit later or choose another engine"
	case KindPermanentBackend:
		return "Check the engine credentials and that the engine supports this language pair"
	case KindCancelled:
		return "The job was cancelled; submit a new job to translate again"
	case KindInterrupted:
		return "The service restarted while the job was running; resubmit the job"
	case KindIncompleteJob:
		return "Reassembly ran before every chunk finished; resubmit the job"
	default:
		return "Review the job details and resubmit"
	}
}

// Handle logs err with advice and reports whether it was a structured error.
func Handle(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		log.Error("Unknown Error: %v", err)
		return false
	}
	log.Error("Error Detail: %v | advice: %s", err, Advice(fe.Kind))
	return true
}
