package jobs

import (
	"time"

	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/subtitle"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type ChunkState string

const (
	ChunkQueued      ChunkState = "queued"
	ChunkTranslating ChunkState = "translating"
	ChunkDone        ChunkState = "done"
	ChunkFailed      ChunkState = "failed"
)

func (s ChunkState) Terminal() bool {
	return s == ChunkDone || s == ChunkFailed
}

// ChunkStatus is written only by the worker translating that chunk.
type ChunkStatus struct {
	Sequence          int              `json:"sequence"`
	State             ChunkState       `json:"state"`
	AttemptCount      int              `json:"attempt_count"`
	Error             *failure.Cause   `json:"error,omitempty"`
	TranslatedEntries []subtitle.Entry `json:"translated_entries,omitempty"`
}

type SubmitRequest struct {
	Filename    string
	Content     []byte
	SourceLang  string
	TargetLang  string
	GlossaryRef string
	Engine      string
	Owner       string
}

type TranslationJob struct {
	ID          string         `json:"id"`
	Status      Status         `json:"status"`
	Filename    string         `json:"filename,omitempty"`
	SourceLang  string         `json:"source_lang"`
	TargetLang  string         `json:"target_lang"`
	Engine      string         `json:"engine,omitempty"`
	GlossaryRef string         `json:"glossary_ref,omitempty"`
	Owner       string         `json:"owner,omitempty"`
	Chunks      []ChunkStatus  `json:"chunks"`
	ResultRef   string         `json:"result_ref,omitempty"`
	Error       *failure.Cause `json:"error,omitempty"`
	// Warning is set when a job completed with some chunks left untranslated.
	Warning     *failure.Cause `json:"warning,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Progress is the share of chunks in a terminal state, computed on read.
func (j *TranslationJob) Progress() float64 {
	if len(j.Chunks) == 0 {
		if j.Status == StatusCompleted {
			return 1
		}
		return 0
	}
	finished := 0
	for _, c := range j.Chunks {
		if c.State.Terminal() {
			finished++
		}
	}
	return float64(finished) / float64(len(j.Chunks))
}

type ChunkSummary struct {
	Total       int `json:"total"`
	Queued      int `json:"queued"`
	Translating int `json:"translating"`
	Done        int `json:"done"`
	Failed      int `json:"failed"`
}

func (j *TranslationJob) Summary() ChunkSummary {
	s := ChunkSummary{Total: len(j.Chunks)}
	for _, c := range j.Chunks {
		switch c.State {
		case ChunkQueued:
			s.Queued++
		case ChunkTranslating:
			s.Translating++
		case ChunkDone:
			s.Done++
		case ChunkFailed:
			s.Failed++
		}
	}
	return s
}

func cloneJob(job *TranslationJob) *TranslationJob {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.Chunks != nil {
		tmp.Chunks = make([]ChunkStatus, len(job.Chunks))
		for i, c := range job.Chunks {
			c.TranslatedEntries = subtitle.CloneEntries(c.TranslatedEntries)
			tmp.Chunks[i] = c
		}
	}
	if job.CompletedAt != nil {
		at := *job.CompletedAt
		tmp.CompletedAt = &at
	}
	return &tmp
}
