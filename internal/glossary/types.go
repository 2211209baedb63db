package glossary

import (
	"context"
	"errors"
)

// Entry is one term constraint. ContextHint narrows when the mapping applies.
type Entry struct {
	SourceTerm  string `json:"source_term"`
	TargetTerm  string `json:"target_term"`
	ContextHint string `json:"context_hint,omitempty"`
}

// ErrNotFound is returned by a Store for an unknown glossary ref.
var ErrNotFound = errors.New("glossary not found")

// Store resolves a glossary ref to its entries. Implementations are read-only from the pipeline.
type Store interface {
	Entries(ctx context.Context, ref string) ([]Entry, error)
}
