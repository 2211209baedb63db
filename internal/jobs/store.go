package jobs

import "context"

// Store persists job states and inputs for restart recovery.
type Store interface {
	LoadJobs(ctx context.Context) ([]*TranslationJob, error)
	UpsertJob(ctx context.Context, job *TranslationJob) error
	DeleteJob(ctx context.Context, jobID string) error
	SaveInput(ctx context.Context, jobID string, content []byte) error
	LoadInput(ctx context.Context, jobID string) ([]byte, error)
	// DeleteJobData removes the stored input of a job.
	DeleteJobData(ctx context.Context, jobID string) error
}
