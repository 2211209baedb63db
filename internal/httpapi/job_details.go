package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/jobs"
	"github.com/MimeLyc/subtrans/internal/subtitle"
	"github.com/go-chi/chi/v5"
)

const (
	defaultJobPreviewLimit = 80
	maxJobPreviewLimit     = 500
)

type jobDetailResponse struct {
	jobView
	ChunkStates   []chunkView      `json:"chunk_states"`
	Preview       []jobPreviewLine `json:"preview"`
	PreviewOffset int              `json:"preview_offset"`
	PreviewLimit  int              `json:"preview_limit"`
	PreviewTotal  int              `json:"preview_total"`
}

type chunkView struct {
	Sequence     int             `json:"sequence"`
	State        jobs.ChunkState `json:"state"`
	AttemptCount int             `json:"attempt_count"`
	Entries      int             `json:"translated_entries"`
	Error        *failure.Cause  `json:"error,omitempty"`
}

type jobPreviewLine struct {
	Index          int    `json:"index"`
	Chunk          int    `json:"chunk"`
	Start          string `json:"start"`
	End            string `json:"end"`
	TranslatedText string `json:"translated_text"`
}

// handleJobDetail returns per-chunk state plus a page of the entries
// translated so far, in chunk order.
func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r)
	job, err := s.service.Status(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	offset := parsePositiveIntWithDefault(r.URL.Query().Get("offset"), 0)
	limit := parsePositiveIntWithDefault(r.URL.Query().Get("limit"), defaultJobPreviewLimit)
	if limit <= 0 {
		limit = defaultJobPreviewLimit
	}
	if limit > maxJobPreviewLimit {
		limit = maxJobPreviewLimit
	}

	writeJSON(w, http.StatusOK, s.buildJobDetail(job, offset, limit))
}

func (s *Server) buildJobDetail(job *jobs.TranslationJob, offset, limit int) jobDetailResponse {
	detail := jobDetailResponse{
		jobView:       s.viewOf(job),
		ChunkStates:   make([]chunkView, 0, len(job.Chunks)),
		PreviewOffset: offset,
		PreviewLimit:  limit,
	}

	all := make([]jobPreviewLine, 0)
	for _, c := range job.Chunks {
		detail.ChunkStates = append(detail.ChunkStates, chunkView{
			Sequence:     c.Sequence,
			State:        c.State,
			AttemptCount: c.AttemptCount,
			Entries:      len(c.TranslatedEntries),
			Error:        c.Error,
		})
		for _, e := range c.TranslatedEntries {
			all = append(all, jobPreviewLine{
				Index:          e.Index,
				Chunk:          c.Sequence,
				Start:          subtitle.FormatTimestamp(e.Start),
				End:            subtitle.FormatTimestamp(e.End),
				TranslatedText: e.Text(),
			})
		}
	}
	detail.PreviewTotal = len(all)
	detail.Preview = pageOf(all, offset, limit)
	return detail
}

func pageOf(lines []jobPreviewLine, offset, limit int) []jobPreviewLine {
	if offset >= len(lines) {
		return []jobPreviewLine{}
	}
	end := min(offset+limit, len(lines))
	return lines[offset:end]
}

func parsePositiveIntWithDefault(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
