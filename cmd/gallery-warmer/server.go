package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/metrics"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/warmer"
)

// statusResponse is the /status body.
type statusResponse struct {
	*warmer.Status
	NextRun   *time.Time           `json:"next_run,omitempty"`
	LastCycle *warmer.CycleReport `json:"last_cycle,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// newRouter builds the HTTP surface of serve. sched may be nil.
func newRouter(a *app, sched *warmer.Scheduler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		st, err := a.admin.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp := statusResponse{Status: st}
		if sched != nil {
			if next := sched.NextRun(); !next.IsZero() {
				resp.NextRun = &next
			}
			resp.LastCycle = sched.LastReport()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if a.reader != nil {
		r.Route("/gallery", func(r chi.Router) {
			r.Get("/photos/{id}", photoHandler(a))
			r.Get("/collection", collectionHandler(a))
		})
	}
	return r
}

// photoHandler serves GET /gallery/photos/{id}?sizes=Medium,Large.
func photoHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := cache.WithMemo(r.Context())
		id := chi.URLParam(r, "id")

		var sizes []string
		if raw := r.URL.Query().Get("sizes"); raw != "" {
			sizes = strings.Split(raw, ",")
		}
		proj, err := a.reader.GetPhotoProjection(ctx, id, sizes)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		stats, err := a.reader.GetPhotoStats(ctx, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		switch {
		case proj.IsRateLimited():
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"rate_limited": true})
		case !proj.OK():
			writeJSON(w, http.StatusNotFound, map[string]any{"id": id, "available": false})
		default:
			body := map[string]any{"id": id, "sizes": proj.Value.Sizes}
			if stats.OK() {
				body["stats"] = stats.Value
			}
			writeJSON(w, http.StatusOK, body)
		}
	}
}

// collectionHandler serves GET /gallery/collection?url=...&page=1&per_page=50.
func collectionHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ref, ok := resource.ParseURL(q.Get("url"))
		if !ok || !ref.Kind.IsCollection() {
			writeError(w, http.StatusBadRequest, errors.New("url must be an album or photostream link"))
			return
		}
		page, _ := strconv.Atoi(q.Get("page"))
		perPage, _ := strconv.Atoi(q.Get("per_page"))

		res, err := a.reader.GetCollectionPage(cache.WithMemo(r.Context()), ref, page, perPage)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		status := http.StatusOK
		if res.RateLimited {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, res)
	}
}

// httpService runs an http.Server under suture.
type httpService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func (h *httpService) String() string { return "http-server" }

// Serve implements suture.Service.
func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// sweeper drops expired rows from the SQLite cache table.
type sweeper struct {
	backend  *cache.SQLiteBackend
	interval time.Duration
	logger   zerolog.Logger
}

func (s *sweeper) String() string { return "cache-sweeper" }

// Serve implements suture.Service.
func (s *sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.backend.Sweep(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Cache sweep failed")
				continue
			}
			s.logger.Debug().Int("removed", n).Msg("Expired cache rows swept")
		}
	}
}

// eventHook logs supervisor events.
func eventHook(logger zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		logger.Warn().Fields(e.Map()).Msg(e.String())
	}
}

// newSupervisor assembles the serve tree: the warm scheduler, the HTTP
// server and, for the sqlite backend, the cache sweeper.
func newSupervisor(a *app, sched *warmer.Scheduler) *suture.Supervisor {
	sup := suture.New("gallery-warmer", suture.Spec{
		EventHook: eventHook(a.component("supervisor")),
		Timeout:   a.cfg.Server.ShutdownTimeout,
	})

	sup.Add(sched)
	sup.Add(&httpService{
		server: &http.Server{
			Addr:              a.cfg.Server.Addr,
			Handler:           newRouter(a, sched),
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: a.cfg.Server.ShutdownTimeout,
	})
	if b, ok := a.backend.(*cache.SQLiteBackend); ok {
		sup.Add(&sweeper{backend: b, interval: time.Hour, logger: a.component("sweeper")})
	}
	return sup
}
