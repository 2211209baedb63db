package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/jobs"
)

type Action string

const (
	ActionSubmit Action = "submit"
	ActionView   Action = "view"
	ActionCancel Action = "cancel"
)

// Principal is the authenticated caller as supplied by the auth collaborator.
type Principal struct {
	Subject string
	Role    string
}

// Authorizer decides whether a principal may act on a job. job is nil for submit.
type Authorizer interface {
	Allowed(p Principal, action Action, job *jobs.TranslationJob) bool
}

// AllowAll permits everything. Used by the one-shot CLI.
type AllowAll struct{}

func (AllowAll) Allowed(Principal, Action, *jobs.TranslationJob) bool { return true }

const RoleAdmin = "admin"

// RoleAuthorizer lets admins act on every job and everyone else only on
// jobs they own.
type RoleAuthorizer struct{}

func (RoleAuthorizer) Allowed(p Principal, action Action, job *jobs.TranslationJob) bool {
	if p.Subject == "" {
		return false
	}
	if p.Role == RoleAdmin || action == ActionSubmit {
		return true
	}
	return job != nil && job.Owner == p.Subject
}

// Service is the boundary the HTTP layer and CLI talk to.
type Service struct {
	tracker *jobs.Tracker
	runner  *Runner
	auth    Authorizer
}

func NewService(tracker *jobs.Tracker, runner *Runner, auth Authorizer) *Service {
	if auth == nil {
		auth = AllowAll{}
	}
	return &Service{tracker: tracker, runner: runner, auth: auth}
}

// Submit admits a job. Input that fails validation, splitting or routing is
// recorded as a failed job and the error is returned alongside it.
func (s *Service) Submit(ctx context.Context, p Principal, req jobs.SubmitRequest) (*jobs.TranslationJob, error) {
	if !s.auth.Allowed(p, ActionSubmit, nil) {
		return nil, failure.New(failure.KindForbidden, "not allowed to submit jobs")
	}
	req.Owner = p.Subject

	job, err := s.tracker.Create(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.runner.Prepare(ctx, job, req.Content); err != nil {
		s.tracker.Fail(job.ID, err)
		failed, _ := s.tracker.Get(job.ID)
		return failed, err
	}
	if err := s.tracker.Dispatch(job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) Status(_ context.Context, p Principal, id string) (*jobs.TranslationJob, error) {
	return s.authorized(p, ActionView, id)
}

// List returns the jobs p may view, newest first.
func (s *Service) List(_ context.Context, p Principal) []*jobs.TranslationJob {
	all := s.tracker.List()
	visible := make([]*jobs.TranslationJob, 0, len(all))
	for _, job := range all {
		if s.auth.Allowed(p, ActionView, job) {
			visible = append(visible, job)
		}
	}
	return visible
}

// Output returns the serialized result of a completed job.
func (s *Service) Output(_ context.Context, p Principal, id string) ([]byte, error) {
	job, err := s.authorized(p, ActionView, id)
	if err != nil {
		return nil, err
	}
	return readResult(job)
}

// Result serves a completed job's output without a principal. It backs the
// download references handed out on completion; callers check expiry.
func (s *Service) Result(_ context.Context, id string) (*jobs.TranslationJob, []byte, error) {
	job, ok := s.tracker.Get(id)
	if !ok {
		return nil, nil, failure.Newf(failure.KindNotFound, "job %s not found", id)
	}
	data, err := readResult(job)
	if err != nil {
		return nil, nil, err
	}
	return job, data, nil
}

func readResult(job *jobs.TranslationJob) ([]byte, error) {
	id := job.ID
	if job.Status != jobs.StatusCompleted {
		return nil, failure.Newf(failure.KindConflict, "job %s is %s", id, job.Status)
	}
	data, err := os.ReadFile(job.ResultRef)
	if errors.Is(err, os.ErrNotExist) {
		return nil, failure.Newf(failure.KindNotFound, "result of job %s is no longer available", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return data, nil
}

func (s *Service) Cancel(_ context.Context, p Principal, id string) (*jobs.TranslationJob, error) {
	if _, err := s.authorized(p, ActionCancel, id); err != nil {
		return nil, err
	}
	return s.tracker.Cancel(id)
}

// Wait blocks until the job is terminal.
func (s *Service) Wait(ctx context.Context, p Principal, id string) (*jobs.TranslationJob, error) {
	if _, err := s.authorized(p, ActionView, id); err != nil {
		return nil, err
	}
	return s.tracker.Wait(ctx, id)
}

// CanView reports whether p may see job id.
func (s *Service) CanView(p Principal, id string) bool {
	_, err := s.authorized(p, ActionView, id)
	return err == nil
}

func (s *Service) authorized(p Principal, action Action, id string) (*jobs.TranslationJob, error) {
	job, ok := s.tracker.Get(id)
	if !ok {
		return nil, failure.Newf(failure.KindNotFound, "job %s not found", id)
	}
	if !s.auth.Allowed(p, action, job) {
		return nil, failure.Newf(failure.KindForbidden, "not allowed to %s job %s", action, id)
	}
	return job, nil
}
