// Package engine holds the translation backend adapters and the router that picks one.
package engine

import (
	"context"
	"errors"
	"net"

	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/MimeLyc/subtrans/internal/llm"
	"golang.org/x/time/rate"
)

// Family groups adapters for routing.
type Family string

const (
	FamilyCloud Family = "cloud"
	FamilyLocal Family = "local"
)

// Request is one chunk's worth of text. Lines may contain newlines for
// multi-line subtitle entries. Context lines are for coherence only.
type Request struct {
	SourceLang    string
	TargetLang    string
	Lines         []string
	ContextBefore []string
	ContextAfter  []string
	Constraints   []glossary.Entry
}

// Adapter translates Lines and returns exactly one string per line, in order.
type Adapter interface {
	Name() string
	Family() Family
	Translate(ctx context.Context, req Request) ([]string, error)
}

// Transient marks err as retryable for backend.
func Transient(backend string, err error) error {
	return failure.Wrap(err, failure.KindTransientBackend, err.Error()).
		WithContext(failure.CtxBackend, backend)
}

// Permanent marks err as not retryable for backend.
func Permanent(backend string, err error) error {
	return failure.Wrap(err, failure.KindPermanentBackend, err.Error()).
		WithContext(failure.CtxBackend, backend)
}

// Classify maps transport and HTTP errors to transient or permanent failures.
// Errors already classified pass through.
func Classify(backend string, err error) error {
	if err == nil {
		return nil
	}
	switch failure.KindOf(err) {
	case failure.KindTransientBackend, failure.KindPermanentBackend, failure.KindCancelled:
		return err
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(backend, err)
	}

	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Temporary() {
			return Transient(backend, err)
		}
		return Permanent(backend, err)
	}

	var transportErr *llm.TransportError
	if errors.As(err, &transportErr) {
		if transportErr.Temporary() {
			return Transient(backend, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(backend, err)
	}
	return Permanent(backend, err)
}

// rateLimited wraps an Adapter with an outbound request limiter.
type rateLimited struct {
	Adapter
	limiter *rate.Limiter
}

// WithRateLimit caps an adapter at rpm requests per minute. rpm <= 0 disables the limit.
func WithRateLimit(a Adapter, rpm int) Adapter {
	if rpm <= 0 {
		return a
	}
	return &rateLimited{
		Adapter: a,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

// Wait blocks until the limiter admits one request.
func (r *rateLimited) Wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// the wait would outlast the deadline
		return Transient(r.Name(), err)
	}
	return nil
}

// Translate does not wait on the limiter; callers go through Wait first.
func (r *rateLimited) Translate(ctx context.Context, req Request) ([]string, error) {
	return r.Adapter.Translate(ctx, req)
}

// Waiter is implemented by adapters that throttle outbound requests.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Wait blocks until a can take another request. Adapters without a limit
// return at once.
func Wait(ctx context.Context, a Adapter) error {
	if w, ok := a.(Waiter); ok {
		return w.Wait(ctx)
	}
	return ctx.Err()
}
