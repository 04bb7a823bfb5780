// Package queue is the durable warm job queue: one SQLite row per job key,
// priority ordered, with flat backoff tiers for failing jobs.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/radialmonster/flickr-justified-block-sub001/internal/sqlite"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

// ErrJobNotFound is returned for unknown job keys.
var ErrJobNotFound = errors.New("job not found")

var (
	queueJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gallery_queue_jobs",
		Help: "Warm jobs by status, as of the last Stats call",
	}, []string{"status"})

	queueResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_queue_results",
		Help: "Job results recorded by outcome",
	}, []string{"outcome"}) // success, failure, rescheduled, failed
)

const schema = `
CREATE TABLE IF NOT EXISTS warm_jobs (
	job_key    TEXT PRIMARY KEY,
	job_type   TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '{}',
	priority   INTEGER NOT NULL DEFAULT 0,
	not_before INTEGER,
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_warm_jobs_due
	ON warm_jobs (status, not_before, priority DESC, created_at);
`

const jobColumns = `job_key, job_type, payload, priority, not_before, attempts, last_error, status, created_at, updated_at`

// A pending row keeps its failure state so re-discovery does not reset
// backoff; done and failed rows become fresh pending jobs.
const upsertSQL = `
INSERT INTO warm_jobs (` + jobColumns + `)
VALUES (?, ?, ?, ?, ?, 0, NULL, 'pending', ?, ?)
ON CONFLICT(job_key) DO UPDATE SET
	job_type   = excluded.job_type,
	payload    = excluded.payload,
	priority   = excluded.priority,
	attempts   = CASE WHEN warm_jobs.status = 'pending' THEN warm_jobs.attempts ELSE 0 END,
	last_error = CASE WHEN warm_jobs.status = 'pending' THEN warm_jobs.last_error ELSE NULL END,
	not_before = CASE WHEN warm_jobs.status = 'pending' THEN warm_jobs.not_before ELSE excluded.not_before END,
	status     = 'pending',
	updated_at = excluded.updated_at
`

// Queue is the job queue.
type Queue struct {
	db     *sql.DB
	tier   Tier
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithTier sets the backoff tier. Default FastTier.
func WithTier(t Tier) Option { return func(q *Queue) { q.tier = t } }

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(q *Queue) { q.logger = l } }

// New returns a queue over db and creates the table.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Queue, error) {
	q := &Queue{db: db, tier: FastTier, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.EnsureTable(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// EnsureTable creates warm_jobs if missing.
func (q *Queue) EnsureTable(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create warm_jobs: %w", err)
	}
	return nil
}

// Tier returns the backoff tier in use.
func (q *Queue) Tier() Tier { return q.tier }

// SetTier switches the backoff tier for future failures.
func (q *Queue) SetTier(t Tier) { q.tier = t }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (q *Queue) upsert(ctx context.Context, db execer, job Job) error {
	if job.Key == "" {
		return fmt.Errorf("upsert: empty job key")
	}
	if !job.Type.Valid() {
		return fmt.Errorf("upsert %s: invalid job type %q", job.Key, job.Type)
	}
	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}
	now := q.now().UnixMilli()
	_, err := db.ExecContext(ctx, upsertSQL,
		job.Key, string(job.Type), payload, job.Priority, millisPtr(job.NotBefore), now, now)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", job.Key, err)
	}
	return nil
}

// Upsert inserts or replaces the job with the same key.
func (q *Queue) Upsert(ctx context.Context, job Job) error {
	return q.upsert(ctx, q.db, job)
}

// EnqueueNow upserts job and makes it due immediately, clearing any
// backoff delay. Attempts and last error are kept on pending rows.
func (q *Queue) EnqueueNow(ctx context.Context, job Job) error {
	err := sqlite.RunTx(ctx, q.db, func(tx *sql.Tx) error {
		if err := q.upsert(ctx, tx, job); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE warm_jobs SET not_before = NULL WHERE job_key = ?`, job.Key)
		return err
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Key, err)
	}
	return nil
}

// DequeueDue returns up to limit pending jobs that are due, highest priority
// first, oldest first within a priority. Rows are not claimed.
func (q *Queue) DequeueDue(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM warm_jobs
		WHERE status = 'pending' AND (not_before IS NULL OR not_before <= ?)
		ORDER BY priority DESC, created_at ASC, rowid ASC
		LIMIT ?`, q.now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkResult records the outcome of an attempt. Success marks the job done.
// Failure increments attempts and pushes not_before to now plus the tier
// delay for the new attempt count, always strictly past the previous value.
func (q *Queue) MarkResult(ctx context.Context, key string, success bool, errMsg string) error {
	now := q.now()
	if success {
		res, err := q.db.ExecContext(ctx, `
			UPDATE warm_jobs
			SET status = 'done', attempts = 0, last_error = NULL, not_before = NULL, updated_at = ?
			WHERE job_key = ?`, now.UnixMilli(), key)
		if err != nil {
			return fmt.Errorf("mark %s done: %w", key, err)
		}
		if err := requireRow(res, key); err != nil {
			return err
		}
		queueResults.WithLabelValues("success").Inc()
		return nil
	}

	err := sqlite.RunTx(ctx, q.db, func(tx *sql.Tx) error {
		var (
			attempts  int
			notBefore sql.NullInt64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT attempts, not_before FROM warm_jobs WHERE job_key = ?`, key,
		).Scan(&attempts, &notBefore)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, key)
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}

		attempts++
		next := now.Add(q.tier.Delay(attempts)).UnixMilli()
		if notBefore.Valid && next <= notBefore.Int64 {
			next = notBefore.Int64 + 1
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE warm_jobs
			SET attempts = ?, last_error = ?, not_before = ?, status = 'pending', updated_at = ?
			WHERE job_key = ?`, attempts, nullString(errMsg), next, now.UnixMilli(), key)
		if err != nil {
			return fmt.Errorf("mark %s failed attempt: %w", key, err)
		}

		q.logger.Debug().
			Str(logging.FieldJobKey, key).
			Int("attempts", attempts).
			Time("not_before", time.UnixMilli(next)).
			Str("error", errMsg).
			Msg("Job attempt failed")
		return nil
	})
	if err != nil {
		return err
	}
	queueResults.WithLabelValues("failure").Inc()
	return nil
}

// Reschedule defers a job that made progress. Attempts are untouched.
func (q *Queue) Reschedule(ctx context.Context, key string, after time.Duration) error {
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE warm_jobs SET status = 'pending', not_before = ?, updated_at = ?
		WHERE job_key = ?`, now.Add(after).UnixMilli(), now.UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", key, err)
	}
	if err := requireRow(res, key); err != nil {
		return err
	}
	queueResults.WithLabelValues("rescheduled").Inc()
	return nil
}

// MarkFailed parks a job that can never succeed as it stands.
func (q *Queue) MarkFailed(ctx context.Context, key, errMsg string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE warm_jobs SET status = 'failed', last_error = ?, updated_at = ?
		WHERE job_key = ?`, nullString(errMsg), q.now().UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("mark %s failed: %w", key, err)
	}
	if err := requireRow(res, key); err != nil {
		return err
	}
	queueResults.WithLabelValues("failed").Inc()
	q.logger.Warn().Str(logging.FieldJobKey, key).Str("error", errMsg).Msg("Job parked as failed")
	return nil
}

// Reseed upserts jobs and removes pending and done rows whose key is not
// among them, in one transaction. Failed rows stay for inspection. Returns
// the number of removed rows.
func (q *Queue) Reseed(ctx context.Context, jobs []Job) (int, error) {
	keep := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		keep[j.Key] = struct{}{}
	}

	removed := 0
	err := sqlite.RunTx(ctx, q.db, func(tx *sql.Tx) error {
		removed = 0
		for _, j := range jobs {
			if err := q.upsert(ctx, tx, j); err != nil {
				return err
			}
		}

		rows, err := tx.QueryContext(ctx, `SELECT job_key FROM warm_jobs WHERE status IN ('pending', 'done')`)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		var stale []string
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return err
			}
			if _, ok := keep[k]; !ok {
				stale = append(stale, k)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, k := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM warm_jobs WHERE job_key = ?`, k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reseed: %w", err)
	}

	q.logger.Info().Int("jobs", len(jobs)).Int("removed", removed).Msg("Queue reseeded")
	return removed, nil
}

// DeleteByType removes every job of the given types.
func (q *Queue) DeleteByType(ctx context.Context, types ...resource.Kind) (int, error) {
	total := 0
	for _, t := range types {
		res, err := q.db.ExecContext(ctx, `DELETE FROM warm_jobs WHERE job_type = ?`, string(t))
		if err != nil {
			return total, fmt.Errorf("delete %s jobs: %w", t, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// Get returns one job.
func (q *Queue) Get(ctx context.Context, key string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM warm_jobs WHERE job_key = ?`, key)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Stats is a snapshot of the queue.
type Stats struct {
	Pending int `json:"pending"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Due     int `json:"due"`
}

// Total returns the number of rows.
func (s Stats) Total() int { return s.Pending + s.Done + s.Failed }

// Stats counts jobs by status and the pending jobs that are due now.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM warm_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch Status(status) {
		case StatusPending:
			s.Pending = n
		case StatusDone:
			s.Done = n
		case StatusFailed:
			s.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM warm_jobs
		WHERE status = 'pending' AND (not_before IS NULL OR not_before <= ?)`,
		q.now().UnixMilli()).Scan(&s.Due)
	if err != nil {
		return nil, fmt.Errorf("queue due count: %w", err)
	}

	queueJobs.WithLabelValues(string(StatusPending)).Set(float64(s.Pending))
	queueJobs.WithLabelValues(string(StatusDone)).Set(float64(s.Done))
	queueJobs.WithLabelValues(string(StatusFailed)).Set(float64(s.Failed))
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (Job, error) {
	var (
		j                    Job
		typ, payload, status string
		notBefore            sql.NullInt64
		lastError            sql.NullString
		created, updated     int64
	)
	if err := s.Scan(&j.Key, &typ, &payload, &j.Priority, &notBefore, &j.Attempts, &lastError, &status, &created, &updated); err != nil {
		return Job{}, err
	}
	j.Type = resource.Kind(typ)
	j.Payload = []byte(payload)
	j.Status = Status(status)
	j.LastError = lastError.String
	j.CreatedAt = time.UnixMilli(created)
	j.UpdatedAt = time.UnixMilli(updated)
	if notBefore.Valid {
		t := time.UnixMilli(notBefore.Int64)
		j.NotBefore = &t
	}
	return j, nil
}

func requireRow(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	return nil
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
