package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/sensitive"
	"github.com/MimeLyc/subtrans/pkg/file"
	"github.com/MimeLyc/subtrans/pkg/log"
	"github.com/go-chi/chi/v5"
)

type jobView struct {
	ID          string            `json:"id"`
	Status      jobs.Status       `json:"status"`
	Filename    string            `json:"filename,omitempty"`
	SourceLang  string            `json:"source_lang"`
	TargetLang  string            `json:"target_lang"`
	Engine      string            `json:"engine,omitempty"`
	GlossaryRef string            `json:"glossary_ref,omitempty"`
	Owner       string            `json:"owner,omitempty"`
	Progress    float64           `json:"progress"`
	Chunks      jobs.ChunkSummary `json:"chunks"`
	DownloadURL string            `json:"download_url,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Error       *failure.Cause    `json:"error,omitempty"`
	Warning     *failure.Cause    `json:"warning,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func (s *Server) viewOf(job *jobs.TranslationJob) jobView {
	v := jobView{
		ID:          job.ID,
		Status:      job.Status,
		Filename:    job.Filename,
		SourceLang:  job.SourceLang,
		TargetLang:  job.TargetLang,
		Engine:      job.Engine,
		GlossaryRef: job.GlossaryRef,
		Owner:       job.Owner,
		Progress:    job.Progress(),
		Chunks:      job.Summary(),
		Error:       job.Error,
		Warning:     job.Warning,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
	}
	if s.notifier != nil {
		if ref := s.notifier.DownloadRef(job); ref != nil {
			v.DownloadURL = ref.URL
			expires := ref.ExpiresAt
			v.ExpiresAt = &expires
		}
	}
	return v
}

type submitJobRequest struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	SourceLang  string `json:"source_lang"`
	TargetLang  string `json:"target_lang"`
	GlossaryRef string `json:"glossary"`
	Engine      string `json:"engine"`
}

// handleSubmitJob accepts a multipart upload (field "file") or a JSON body.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	req, err := decodeSubmit(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "subtitle file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.service.Submit(r.Context(), p, req)
	if err != nil {
		if job != nil {
			cause := failure.CauseFrom(err)
			writeJSON(w, statusFor(err), map[string]any{
				"error": cause.Message,
				"cause": cause,
				"job":   s.viewOf(job),
			})
			return
		}
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.viewOf(job))
}

func decodeSubmit(r *http.Request) (jobs.SubmitRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		f, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return jobs.SubmitRequest{}, err
			}
			return jobs.SubmitRequest{}, errors.New("file is required")
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return jobs.SubmitRequest{}, err
		}
		return jobs.SubmitRequest{
			Filename:    header.Filename,
			Content:     content,
			SourceLang:  strings.TrimSpace(r.FormValue("source_lang")),
			TargetLang:  strings.TrimSpace(r.FormValue("target_lang")),
			GlossaryRef: strings.TrimSpace(r.FormValue("glossary")),
			Engine:      strings.TrimSpace(r.FormValue("engine")),
		}, nil
	}

	var body submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return jobs.SubmitRequest{}, err
		}
		return jobs.SubmitRequest{}, errors.New("invalid json body")
	}
	return jobs.SubmitRequest{
		Filename:    body.Filename,
		Content:     []byte(body.Content),
		SourceLang:  strings.TrimSpace(body.SourceLang),
		TargetLang:  strings.TrimSpace(body.TargetLang),
		GlossaryRef: strings.TrimSpace(body.GlossaryRef),
		Engine:      strings.TrimSpace(body.Engine),
	}, nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r)
	status := jobs.Status(r.URL.Query().Get("status"))

	list := s.service.List(r.Context(), p)
	views := make([]jobView, 0, len(list))
	for _, job := range list {
		if status != "" && job.Status != status {
			continue
		}
		views = append(views, s.viewOf(job))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r)
	job, err := s.service.Status(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(job))
}

func (s *Server) handleJobOutput(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r)
	id := chi.URLParam(r, "id")
	job, err := s.service.Status(r.Context(), p, id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	data, err := s.service.Output(r.Context(), p, id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSubtitle(w, outputName(job), data)
}

// handleDownload serves the link handed out on completion until it expires.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	id, ok := strings.CutSuffix(name, ".srt")
	if !ok || id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	job, data, err := s.service.Result(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if s.notifier != nil && s.notifier.Expired(job) {
		writeError(w, http.StatusGone, "download link has expired")
		return
	}
	writeSubtitle(w, outputName(job), data)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r)
	job, err := s.service.Cancel(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(job))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.settings.GetRuntimeSettings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	var req struct {
		DefaultEngine   string `json:"default_engine"`
		RetentionCron   string `json:"retention_cron"`
		RetentionDays   int    `json:"retention_days"`
		PartialDelivery bool   `json:"partial_delivery"`
		StartOrder      string `json:"start_order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	next := s.settings.GetRuntimeSettings()
	next.DefaultEngine = req.DefaultEngine
	next.RetentionCron = req.RetentionCron
	next.RetentionDays = req.RetentionDays
	next.PartialDelivery = req.PartialDelivery
	next.StartOrder = req.StartOrder
	if err := next.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := s.settings.UpdateRuntimeSettings(next)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.apply != nil {
		if err := s.apply(saved); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleListGlossaries(w http.ResponseWriter, r *http.Request) {
	if s.glossaries == nil {
		writeError(w, http.StatusNotImplemented, "glossary store is not configured")
		return
	}
	list, err := s.glossaries.ListGlossaries(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetGlossary(w http.ResponseWriter, r *http.Request) {
	if s.glossaries == nil {
		writeError(w, http.StatusNotImplemented, "glossary store is not configured")
		return
	}
	entries, err := s.glossaries.Entries(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeFailure(w, glossaryError(err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handlePutGlossary replaces a glossary from a JSON entry list or a flat {"source": "target"} map.
func (s *Server) handlePutGlossary(w http.ResponseWriter, r *http.Request) {
	if s.glossaries == nil {
		writeError(w, http.StatusNotImplemented, "glossary store is not configured")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	entries, err := glossary.Decode(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref := chi.URLParam(r, "ref")
	if err := s.glossaries.PutGlossary(r.Context(), ref, entries); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ref": ref, "entries": len(entries)})
}

func (s *Server) handleDeleteGlossary(w http.ResponseWriter, r *http.Request) {
	if s.glossaries == nil {
		writeError(w, http.StatusNotImplemented, "glossary store is not configured")
		return
	}
	if err := s.glossaries.DeleteGlossary(r.Context(), chi.URLParam(r, "ref")); err != nil {
		writeFailure(w, glossaryError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSensitiveWords(w http.ResponseWriter, r *http.Request) {
	if s.sensitive == nil {
		writeError(w, http.StatusNotImplemented, "sensitive word store is not configured")
		return
	}
	words, err := s.sensitive.Words(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, words)
}

// handleAddSensitiveWords takes a JSON array or a plain-text list, one word per line.
func (s *Server) handleAddSensitiveWords(w http.ResponseWriter, r *http.Request) {
	if s.sensitive == nil {
		writeError(w, http.StatusNotImplemented, "sensitive word store is not configured")
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.maxUpload)
	var words []string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(body).Decode(&words); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	} else {
		var err error
		if words, err = sensitive.ReadWords(body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	added, err := s.sensitive.AddSensitiveWords(r.Context(), words)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func (s *Server) handleRemoveSensitiveWord(w http.ResponseWriter, r *http.Request) {
	if s.sensitive == nil {
		writeError(w, http.StatusNotImplemented, "sensitive word store is not configured")
		return
	}
	removed, err := s.sensitive.RemoveSensitiveWord(r.Context(), chi.URLParam(r, "word"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "word not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func glossaryError(err error) error {
	if errors.Is(err, glossary.ErrNotFound) {
		return failure.Wrap(err, failure.KindNotFound, err.Error())
	}
	return err
}

func outputName(job *jobs.TranslationJob) string {
	name := filepath.Base(job.Filename)
	if job.Filename == "" {
		name = job.ID + ".srt"
	}
	return file.WithLanguageSuffix(name, job.TargetLang)
}

func writeSubtitle(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(err error) int {
	switch failure.KindOf(err) {
	case failure.KindFormat, failure.KindEmptyInput:
		return http.StatusBadRequest
	case failure.KindNotFound:
		return http.StatusNotFound
	case failure.KindForbidden:
		return http.StatusForbidden
	case failure.KindConflict, failure.KindCancelled, failure.KindInterrupted:
		return http.StatusConflict
	case failure.KindPermanentBackend:
		return http.StatusUnprocessableEntity
	case failure.KindTransientBackend:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed: %v", err)
	}
	cause := failure.CauseFrom(err)
	writeJSON(w, status, map[string]any{
		"error": cause.Message,
		"cause": cause,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
