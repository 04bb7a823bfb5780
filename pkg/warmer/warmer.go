// Package warmer drains the job queue: one cycle dequeues due jobs and runs
// each through the metadata fetcher or the pagination aggregator, recording
// the result on the job row.
package warmer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/pagination"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/queue"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

var (
	warmerCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_warmer_cycles_total",
		Help: "Warmer cycles run",
	})

	warmerJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_warmer_jobs_total",
		Help: "Warm jobs processed by result",
	}, []string{"result"}) // success, failure, partial, invalid
)

// Job results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultPartial = "partial"
	ResultInvalid = "invalid"
)

// Photos is the photo side of the fetcher.
type Photos interface {
	PhotoInfo(ctx context.Context, photoID string) (resource.Result[resource.PhotoInfo], error)
	PhotoSizes(ctx context.Context, photoID string, sizes []string) (resource.Result[resource.Projection], error)
	PhotoStats(ctx context.Context, photoID string) (resource.Result[resource.Stats], error)
}

// Collections aggregates albums and photostreams.
type Collections interface {
	FetchAll(ctx context.Context, ref resource.Ref) (*pagination.Outcome, error)
}

// Quota reports whether calls may be made.
type Quota interface {
	CanMakeCall(ctx context.Context) bool
}

// Config holds cycle configuration.
type Config struct {
	// ItemBudget is the most jobs one cycle attempts.
	ItemBudget int

	// Sizes are the size labels warmed for every photo. Empty means all.
	Sizes []string

	// PartialRequeue is how soon a partially aggregated collection runs again.
	PartialRequeue time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ItemBudget:     50,
		PartialRequeue: 30 * time.Second,
	}
}

// JobReport is the outcome of one job.
type JobReport struct {
	Key    string `json:"key"`
	Result string `json:"result"`
	Detail string `json:"detail,omitempty"`
}

// CycleReport summarises one cycle.
type CycleReport struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Dequeued       int           `json:"dequeued"`
	Attempted      int           `json:"attempted"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Rescheduled    int           `json:"rescheduled"`
	Invalid        int           `json:"invalid"`
	QuotaExhausted bool          `json:"quota_exhausted"`

	// Remaining is the number of due jobs left after the cycle.
	Remaining int         `json:"remaining"`
	Jobs      []JobReport `json:"jobs,omitempty"`
}

// WorkRemains reports whether another cycle has something to do soon.
func (r *CycleReport) WorkRemains() bool {
	return r.Remaining > 0 || r.Rescheduled > 0
}

// Warmer runs warm cycles.
type Warmer struct {
	queue       *queue.Queue
	photos      Photos
	collections Collections
	quota       Quota
	config      Config
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Warmer.
type Option func(*Warmer)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(w *Warmer) { w.now = now } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(w *Warmer) { w.logger = l } }

// New creates a warmer.
func New(q *queue.Queue, photos Photos, collections Collections, quota Quota, cfg Config, opts ...Option) *Warmer {
	def := DefaultConfig()
	if cfg.ItemBudget <= 0 {
		cfg.ItemBudget = def.ItemBudget
	}
	if cfg.PartialRequeue <= 0 {
		cfg.PartialRequeue = def.PartialRequeue
	}
	w := &Warmer{
		queue:       q,
		photos:      photos,
		collections: collections,
		quota:       quota,
		config:      cfg,
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunCycle processes up to ItemBudget due jobs sequentially. It stops early
// once the hourly quota is gone. The error is non-nil only when the queue
// itself is unusable or ctx is cancelled.
func (w *Warmer) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{ID: uuid.NewString(), StartedAt: w.now()}
	log := logging.ForCycle(w.logger, report.ID)
	warmerCycles.Inc()

	// One memo scope per cycle: repeated lookups of a key cost one read.
	ctx = cache.WithMemo(ctx)

	jobs, err := w.queue.DequeueDue(ctx, w.config.ItemBudget)
	if err != nil {
		return nil, err
	}
	report.Dequeued = len(jobs)

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !w.quota.CanMakeCall(ctx) {
			report.QuotaExhausted = true
			log.Warn().Int("attempted", report.Attempted).Msg("Quota exhausted - ending cycle early")
			break
		}

		report.Attempted++
		jr := w.process(ctx, job)
		report.Jobs = append(report.Jobs, jr)
		warmerJobs.WithLabelValues(jr.Result).Inc()

		switch jr.Result {
		case ResultSuccess:
			report.Succeeded++
		case ResultFailure:
			report.Failed++
		case ResultPartial:
			report.Rescheduled++
		case ResultInvalid:
			report.Invalid++
		}
	}

	if stats, err := w.queue.Stats(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to read queue stats")
	} else {
		report.Remaining = stats.Due
	}
	report.Duration = w.now().Sub(report.StartedAt)

	log.Info().
		Int("dequeued", report.Dequeued).
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("rescheduled", report.Rescheduled).
		Int("invalid", report.Invalid).
		Int("remaining", report.Remaining).
		Bool("quota_exhausted", report.QuotaExhausted).
		Dur("duration", report.Duration).
		Msg("Warm cycle finished")
	return report, nil
}

// process runs one job and records its result on the row.
func (w *Warmer) process(ctx context.Context, job queue.Job) JobReport {
	jr := JobReport{Key: job.Key}
	log := logging.ForJob(w.logger, job.Key, string(job.Type), job.Attempts)

	ref, err := job.Ref()
	if err != nil {
		jr.Result, jr.Detail = ResultInvalid, err.Error()
		if merr := w.queue.MarkFailed(ctx, job.Key, err.Error()); merr != nil {
			log.Error().Err(merr).Msg("Failed to park invalid job")
		}
		return jr
	}

	var (
		result string
		detail string
	)
	if ref.Kind == resource.KindPhoto {
		result, detail, err = w.warmPhoto(ctx, ref.ID)
	} else {
		result, detail, err = w.warmCollection(ctx, ref)
	}
	if err != nil {
		result, detail = ResultFailure, err.Error()
		log.Error().Err(err).Msg("Warm job failed")
	}
	jr.Result, jr.Detail = result, detail

	switch result {
	case ResultSuccess:
		err = w.queue.MarkResult(ctx, job.Key, true, "")
	case ResultPartial:
		err = w.queue.Reschedule(ctx, job.Key, w.config.PartialRequeue)
	default:
		err = w.queue.MarkResult(ctx, job.Key, false, detail)
	}
	if err != nil {
		log.Error().Err(err).Str("result", result).Msg("Failed to record job result")
	}
	return jr
}

func (w *Warmer) warmPhoto(ctx context.Context, id string) (string, string, error) {
	info, err := w.photos.PhotoInfo(ctx, id)
	if err != nil {
		return "", "", err
	}
	switch info.Status {
	case resource.StatusRateLimited:
		return ResultFailure, "photo info rate limited", nil
	case resource.StatusNotFound:
		return ResultSuccess, "not found", nil
	}

	sizes, err := w.photos.PhotoSizes(ctx, id, w.config.Sizes)
	if err != nil {
		return "", "", err
	}
	if sizes.IsRateLimited() {
		return ResultFailure, "photo sizes rate limited", nil
	}

	// Derived from the cached info; costs no call.
	if _, err := w.photos.PhotoStats(ctx, id); err != nil {
		return "", "", err
	}
	return ResultSuccess, "", nil
}

func (w *Warmer) warmCollection(ctx context.Context, ref resource.Ref) (string, string, error) {
	out, err := w.collections.FetchAll(ctx, ref)
	if err != nil {
		return "", "", err
	}
	switch out.State {
	case pagination.StateComplete:
		n := 0
		if out.Collection != nil {
			n = len(out.Collection.Photos)
		}
		return ResultSuccess, fmt.Sprintf("%d photos", n), nil
	case pagination.StateNotFound:
		return ResultSuccess, "not found", nil
	case pagination.StatePartial:
		return ResultPartial, fmt.Sprintf("resume at page %d of %d", out.ResumePage, out.TotalPages), nil
	case pagination.StateFailed:
		return ResultFailure, fmt.Sprintf("page %d of %d unavailable", out.ResumePage, out.TotalPages), nil
	default:
		return ResultFailure, fmt.Sprintf("rate limited at page %d", out.ResumePage), nil
	}
}
