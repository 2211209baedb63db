// Package persistence is the SQLite backing store for jobs, job inputs,
// glossaries and the sensitive word list.
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/subtrans/internal/failure"
	"github.com/MimeLyc/subtrans/internal/glossary"
	"github.com/MimeLyc/subtrans/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrInputNotFound is returned by LoadInput when a job has no stored input.
var ErrInputNotFound = errors.New("job input not found")

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ jobs.Store     = (*SQLiteStore)(nil)
	_ glossary.Store = (*SQLiteStore)(nil)
)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths always use forward slashes
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.TranslationJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, status, filename, source_lang, target_lang, engine, glossary_ref, owner,
			result_ref, error_json, warning_json, created_at, updated_at, completed_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.TranslationJob, 0)
	byID := make(map[string]*jobs.TranslationJob)
	for rows.Next() {
		var (
			item        jobs.TranslationJob
			status      string
			errorJSON   string
			warningJSON string
			completedAt sql.NullTime
		)
		if err := rows.Scan(
			&item.ID,
			&status,
			&item.Filename,
			&item.SourceLang,
			&item.TargetLang,
			&item.Engine,
			&item.GlossaryRef,
			&item.Owner,
			&item.ResultRef,
			&errorJSON,
			&warningJSON,
			&item.CreatedAt,
			&item.UpdatedAt,
			&completedAt,
		); err != nil {
			return nil, err
		}
		item.Status = jobs.Status(status)
		if item.Error, err = decodeCause(errorJSON); err != nil {
			return nil, fmt.Errorf("job %s: %w", item.ID, err)
		}
		if item.Warning, err = decodeCause(warningJSON); err != nil {
			return nil, fmt.Errorf("job %s: %w", item.ID, err)
		}
		if completedAt.Valid {
			at := completedAt.Time
			item.CompletedAt = &at
		}
		ret = append(ret, &item)
		byID[item.ID] = &item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := s.loadChunks(ctx, byID); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) loadChunks(ctx context.Context, byID map[string]*jobs.TranslationJob) error {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, sequence, state, attempt_count, error_json, translated_json
		 FROM job_chunks
		 ORDER BY job_id ASC, sequence ASC`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			jobID          string
			chunk          jobs.ChunkStatus
			state          string
			errorJSON      string
			translatedJSON string
		)
		if err := rows.Scan(&jobID, &chunk.Sequence, &state, &chunk.AttemptCount, &errorJSON, &translatedJSON); err != nil {
			return err
		}
		job, ok := byID[jobID]
		if !ok {
			continue
		}
		chunk.State = jobs.ChunkState(state)
		if chunk.Error, err = decodeCause(errorJSON); err != nil {
			return fmt.Errorf("job %s chunk %d: %w", jobID, chunk.Sequence, err)
		}
		if translatedJSON != "" {
			if err := json.Unmarshal([]byte(translatedJSON), &chunk.TranslatedEntries); err != nil {
				return fmt.Errorf("job %s chunk %d: %w", jobID, chunk.Sequence, err)
			}
		}
		job.Chunks = append(job.Chunks, chunk)
	}
	return rows.Err()
}

// DeleteJob removes the job row and its chunks.
func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM job_chunks WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertJob writes the job row and its chunk table in one transaction.
func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.TranslationJob) (err error) {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	errorJSON, err := encodeCause(job.Error)
	if err != nil {
		return err
	}
	warningJSON, err := encodeCause(job.Warning)
	if err != nil {
		return err
	}
	var completedAt sql.NullTime
	if job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: job.CompletedAt.UTC(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, status, filename, source_lang, target_lang, engine, glossary_ref, owner,
			result_ref, error_json, warning_json, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			filename=excluded.filename,
			source_lang=excluded.source_lang,
			target_lang=excluded.target_lang,
			engine=excluded.engine,
			glossary_ref=excluded.glossary_ref,
			owner=excluded.owner,
			result_ref=excluded.result_ref,
			error_json=excluded.error_json,
			warning_json=excluded.warning_json,
			updated_at=excluded.updated_at,
			completed_at=excluded.completed_at`,
		job.ID,
		string(job.Status),
		job.Filename,
		job.SourceLang,
		job.TargetLang,
		job.Engine,
		job.GlossaryRef,
		job.Owner,
		job.ResultRef,
		errorJSON,
		warningJSON,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
		completedAt,
	)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM job_chunks WHERE job_id = ? AND sequence >= ?`, job.ID, len(job.Chunks)); err != nil {
		return err
	}
	for _, c := range job.Chunks {
		var chunkError, translated string
		if chunkError, err = encodeCause(c.Error); err != nil {
			return err
		}
		if len(c.TranslatedEntries) > 0 {
			var raw []byte
			if raw, err = json.Marshal(c.TranslatedEntries); err != nil {
				return err
			}
			translated = string(raw)
		}
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO job_chunks (job_id, sequence, state, attempt_count, error_json, translated_json)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(job_id, sequence) DO UPDATE SET
				state=excluded.state,
				attempt_count=excluded.attempt_count,
				error_json=excluded.error_json,
				translated_json=excluded.translated_json`,
			job.ID,
			c.Sequence,
			string(c.State),
			c.AttemptCount,
			chunkError,
			translated,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveInput(ctx context.Context, jobID string, content []byte) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_inputs (job_id, content, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET content=excluded.content`,
		jobID,
		content,
		s.now().UTC(),
	)
	return err
}

func (s *SQLiteStore) LoadInput(ctx context.Context, jobID string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM job_inputs WHERE job_id = ?`, jobID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrInputNotFound)
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// DeleteJobData removes the stored input of a job.
func (s *SQLiteStore) DeleteJobData(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_inputs WHERE job_id = ?`, jobID)
	return err
}

// Entries implements glossary.Store. An unknown ref yields glossary.ErrNotFound.
func (s *SQLiteStore) Entries(ctx context.Context, ref string) ([]glossary.Entry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT source_term, target_term, context_hint
		 FROM glossary_entries
		 WHERE ref = ?
		 ORDER BY source_term ASC`,
		ref,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]glossary.Entry, 0)
	for rows.Next() {
		var e glossary.Entry
		if err := rows.Scan(&e.SourceTerm, &e.TargetTerm, &e.ContextHint); err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("glossary %q: %w", ref, glossary.ErrNotFound)
	}
	return ret, nil
}

// PutGlossary replaces every entry stored under ref.
func (s *SQLiteStore) PutGlossary(ctx context.Context, ref string, entries []glossary.Entry) (err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return failure.New(failure.KindFormat, "glossary ref is required")
	}
	if len(entries) == 0 {
		return failure.Newf(failure.KindEmptyInput, "glossary %q has no entries", ref)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM glossary_entries WHERE ref = ?`, ref); err != nil {
		return err
	}
	updatedAt := s.now().UTC()
	for _, e := range entries {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO glossary_entries (ref, source_term, target_term, context_hint, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(ref, source_term) DO UPDATE SET
				target_term=excluded.target_term,
				context_hint=excluded.context_hint,
				updated_at=excluded.updated_at`,
			ref,
			e.SourceTerm,
			e.TargetTerm,
			e.ContextHint,
			updatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteGlossary(ctx context.Context, ref string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM glossary_entries WHERE ref = ?`, ref)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("glossary %q: %w", ref, glossary.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListGlossaries(ctx context.Context) ([]GlossarySummary, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT ref, COUNT(*) FROM glossary_entries GROUP BY ref ORDER BY ref ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]GlossarySummary, 0)
	for rows.Next() {
		var item GlossarySummary
		if err := rows.Scan(&item.Ref, &item.Entries); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	return ret, rows.Err()
}

// Words implements sensitive.Source.
func (s *SQLiteStore) Words(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT word FROM sensitive_words ORDER BY word ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]string, 0)
	for rows.Next() {
		var word string
		if err := rows.Scan(&word); err != nil {
			return nil, err
		}
		ret = append(ret, word)
	}
	return ret, rows.Err()
}

// AddSensitiveWords stores words, skipping blanks and duplicates, and reports how many were new.
func (s *SQLiteStore) AddSensitiveWords(ctx context.Context, words []string) (added int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	createdAt := s.now().UTC()
	for _, word := range words {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		var res sql.Result
		res, err = tx.ExecContext(
			ctx,
			`INSERT INTO sensitive_words (word, created_at) VALUES (?, ?) ON CONFLICT(word) DO NOTHING`,
			word,
			createdAt,
		)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *SQLiteStore) RemoveSensitiveWord(ctx context.Context, word string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sensitive_words WHERE word = ?`, strings.TrimSpace(word))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func encodeCause(c *failure.Cause) (string, error) {
	if c == nil {
		return "", nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeCause(raw string) (*failure.Cause, error) {
	if raw == "" {
		return nil, nil
	}
	var c failure.Cause
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode cause: %w", err)
	}
	return &c, nil
}
