package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/transfix-export/pkg/metrics"
	"github.com/Sternrassler/transfix-export/pkg/progress"
)

func newRouter(state *progress.State, redisClient *redis.Client) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/health", healthHandler)
	router.Get("/ready", readyHandler(redisClient))
	router.Get("/status", statusHandler(state))
	router.Handle("/metrics", metrics.Handler())
	return router
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports ready when the optional Redis backend answers.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "READY")
	}
}

type statusBody struct {
	RunID     string  `json:"run_id"`
	Status    string  `json:"status"`
	Cancelled bool    `json:"cancelled"`
	Days      [2]int  `json:"days"`
	Jobs      [2]int  `json:"jobs"`
	Files     [2]int  `json:"files"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Fraction  float64 `json:"fraction"`
	Elapsed   string  `json:"elapsed"`
}

// statusHandler serves the current progress snapshot as JSON.
func statusHandler(state *progress.State) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s := state.Snapshot()
		body := statusBody{
			RunID:     s.RunID,
			Status:    string(s.Status),
			Cancelled: s.Cancelled,
			Days:      [2]int{s.ProcessedDays, s.TotalDays},
			Jobs:      [2]int{s.ProcessedUnitsDiscovered, s.TotalUnitsDiscovered},
			Files:     [2]int{s.ProcessedExportUnits, s.TotalExportUnits},
			Failed:    s.Failed,
			Skipped:   s.Skipped,
			Fraction:  s.Fraction(),
			Elapsed:   s.Elapsed(time.Now()).Round(time.Millisecond).String(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

// serve runs the monitoring server until ctx is done.
func serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) <-chan struct{} {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})

	go func() {
		defer close(done)
		logger.Info().Str("addr", addr).Msg("Starting monitoring server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Monitoring server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Monitoring server shutdown failed")
		}
	}()
	return done
}
