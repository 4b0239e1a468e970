// File: cmd/serve.go
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/intel"
	"github.com/elara-sec/verdict/internal/observability"
	"github.com/elara-sec/verdict/internal/store"
	"github.com/elara-sec/verdict/internal/worker"
)

// newServeCmd creates the long-running `serve` command: the HTTP API, the
// worker pool, and the threat-intel aggregator.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scan API server, worker pool, and intel aggregator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			components, err := initializeComponents(ctx, cfg, logger, true)
			if err != nil {
				components.Shutdown()
				return fmt.Errorf("failed to initialize server components: %w", err)
			}
			defer components.Shutdown()

			queue := worker.NewQueue(cfg.Engine.QueueSize)
			pool := worker.NewPool(logger, cfg.Engine, queue, components.Engine, components.Store)
			aggregator := intel.NewAggregator(logger, cfg.Intel, components.IntelStore)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				pool.Run(ctx)
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				aggregator.Run(ctx)
			}()

			api := &apiServer{logger: logger.Named("api"), pool: pool, store: components.Store}

			mux := http.NewServeMux()
			mux.HandleFunc("POST /v1/scans", api.handleSubmit)
			mux.HandleFunc("GET /v1/scans/{id}", api.handleGet)
			mux.HandleFunc("GET /healthz", api.handleHealth)
			mux.Handle("GET "+cfg.Server.MetricsPath, promhttp.Handler())

			srv := &http.Server{
				Addr:              cfg.Server.ListenAddr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				logger.Info("API server listening.", zap.String("addr", cfg.Server.ListenAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case err := <-serverErr:
				return fmt.Errorf("API server failed: %w", err)
			case <-ctx.Done():
			}

			logger.Info("Shutting down.")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP server shutdown incomplete.", zap.Error(err))
			}
			queue.Close()
			wg.Wait()
			return nil
		},
	}
}

type apiServer struct {
	logger *zap.Logger
	pool   *worker.Pool
	store  *store.Store
}

type submitRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type scanStatusResponse struct {
	Job    *schemas.ScanJob    `json:"job"`
	Result *schemas.ScanResult `json:"result,omitempty"`
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "request body must be JSON with a non-empty url field")
		return
	}

	job, err := s.pool.Submit(r.Context(), req.URL)
	if err != nil {
		s.logger.Error("Failed to submit scan job.", zap.Error(err), zap.String("url", req.URL))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{ID: job.ID, Status: string(job.Status)})
}

func (s *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to load job.", zap.Error(err), zap.String("job_id", id))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "unknown scan id")
		return
	}

	resp := scanStatusResponse{Job: job}
	if job.Status == schemas.JobCompleted {
		result, err := s.store.GetResult(r.Context(), id)
		if err != nil {
			s.logger.Error("Failed to load result.", zap.Error(err), zap.String("job_id", id))
			writeError(w, http.StatusInternalServerError, "failed to load result")
			return
		}
		resp.Result = result
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
