// Package notify publishes job progress and completion: status-stream events,
// download references and optional ntfy pushes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/subtrans/internal/config"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/pkg/log"
)

// DownloadRef points at a completed job's output.
type DownloadRef struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Notifier turns tracker changes into outward signals. It implements jobs.Observer.
type Notifier struct {
	baseURL string
	expiry  time.Duration
	broker  *Broker
	push    pusher
	now     func() time.Time

	wg sync.WaitGroup
}

func New(cfg config.NotifyConfig, broker *Broker) *Notifier {
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Notifier{
		baseURL: strings.TrimRight(cfg.DownloadBaseURL, "/"),
		expiry:  expiry,
		broker:  broker,
		push:    newPusher(cfg.NtfyTopic, cfg.NtfyTimeout),
		now:     time.Now,
	}
}

// DownloadRef is nil unless the job completed.
func (n *Notifier) DownloadRef(job *jobs.TranslationJob) *DownloadRef {
	if job == nil || job.Status != jobs.StatusCompleted {
		return nil
	}
	completed := job.UpdatedAt
	if job.CompletedAt != nil {
		completed = *job.CompletedAt
	}
	return &DownloadRef{
		URL:       n.baseURL + "/" + job.ID + ".srt",
		ExpiresAt: completed.Add(n.expiry),
	}
}

// Expired reports whether a completed job's download reference has lapsed.
func (n *Notifier) Expired(job *jobs.TranslationJob) bool {
	ref := n.DownloadRef(job)
	return ref == nil || n.now().After(ref.ExpiresAt)
}

func (n *Notifier) JobChanged(job *jobs.TranslationJob) {
	if job.Status.Terminal() {
		n.JobTerminal(context.Background(), job)
		return
	}
	n.JobProgress(job)
}

func (n *Notifier) JobProgress(job *jobs.TranslationJob) {
	n.publish(n.event(job))
}

// JobTerminal publishes the final event and, when configured, an ntfy push.
// The push runs in the background; Close waits for it.
func (n *Notifier) JobTerminal(ctx context.Context, job *jobs.TranslationJob) {
	ev := n.event(job)
	n.publish(ev)

	if n.push == nil {
		return
	}
	data := terminalPayload(job, ev.DownloadURL)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.push.send(context.WithoutCancel(ctx), data); err != nil {
			log.Warn("ntfy notification for job %s failed: %v", job.ID, err)
		}
	}()
}

// ErrPushDisabled is returned by SendTest when no ntfy topic is configured.
var ErrPushDisabled = errors.New("ntfy topic is not configured")

// SendTest delivers a test push synchronously.
func (n *Notifier) SendTest(ctx context.Context) error {
	if n.push == nil {
		return ErrPushDisabled
	}
	return n.push.send(ctx, payload{
		title:   "subtrans - Test",
		message: "Test notification from subtrans",
		tags:    []string{"subtrans", "test"},
	})
}

// Close waits for pending pushes.
func (n *Notifier) Close() {
	n.wg.Wait()
}

func (n *Notifier) event(job *jobs.TranslationJob) Event {
	ev := Event{
		JobID:    job.ID,
		Owner:    job.Owner,
		Status:   job.Status,
		Progress: job.Progress(),
		Chunks:   job.Summary(),
		Error:    job.Error,
		Warning:  job.Warning,
		At:       job.UpdatedAt,
	}
	if ref := n.DownloadRef(job); ref != nil {
		ev.DownloadURL = ref.URL
		expires := ref.ExpiresAt
		ev.ExpiresAt = &expires
	}
	return ev
}

func (n *Notifier) publish(ev Event) {
	if n.broker != nil {
		n.broker.Publish(ev)
	}
}

func terminalPayload(job *jobs.TranslationJob, downloadURL string) payload {
	name := job.Filename
	if name == "" {
		name = job.ID
	}
	if job.Status == jobs.StatusCompleted {
		message := fmt.Sprintf("Translated %s to %s", name, job.TargetLang)
		if job.Warning != nil {
			message += " (partial: " + job.Warning.Message + ")"
		}
		if downloadURL != "" {
			message += "\n" + downloadURL
		}
		return payload{
			title:   "subtrans - Job Complete",
			message: message,
			tags:    []string{"subtrans", "job", "completed"},
		}
	}

	reason := "unknown"
	if job.Error != nil {
		reason = job.Error.Kind + ": " + job.Error.Message
	}
	return payload{
		title:    "subtrans - Job Failed",
		message:  fmt.Sprintf("Translation of %s failed\n%s", name, reason),
		tags:     []string{"subtrans", "job", "failed"},
		priority: "high",
	}
}
