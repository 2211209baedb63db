package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/subtrans/internal/engine"
	"github.com/MimeLyc/subtrans/internal/subtitle"
)

func makeEntries(n int) []subtitle.Entry {
	entries := make([]subtitle.Entry, n)
	for i := range entries {
		start := time.Duration(i) * 2 * time.Second
		entries[i] = subtitle.Entry{
			Index: i + 1,
			Start: start,
			End:   start + 1500*time.Millisecond,
			Lines: []string{fmt.Sprintf("Line number %d", i+1)},
		}
	}
	return entries
}

// fakeAdapter records every request and delegates to translate.
type fakeAdapter struct {
	name      string
	translate func(call int, req engine.Request) ([]string, error)

	mu       sync.Mutex
	calls    int
	requests []engine.Request
}

func (f *fakeAdapter) Name() string          { return f.name }
func (f *fakeAdapter) Family() engine.Family { return engine.FamilyCloud }

func (f *fakeAdapter) Translate(_ context.Context, req engine.Request) ([]string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.translate(call, req)
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) allRequests() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Request(nil), f.requests...)
}

func identity(_ int, req engine.Request) ([]string, error) {
	return append([]string(nil), req.Lines...), nil
}

func prefixed(prefix string) func(int, engine.Request) ([]string, error) {
	return func(_ int, req engine.Request) ([]string, error) {
		out := make([]string, len(req.Lines))
		for i, line := range req.Lines {
			out[i] = prefix + line
		}
		return out, nil
	}
}

var errTemporary = errors.New("upstream overloaded")

func containsLine(req engine.Request, needle string) bool {
	for _, line := range req.Lines {
		if strings.Contains(line, needle) {
			return true
		}
	}
	return false
}

type fixedRouter struct {
	adapter engine.Adapter
}

func (r fixedRouter) Resolve(_, _, _ string) (engine.Adapter, error) {
	return r.adapter, nil
}
