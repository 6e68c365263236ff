package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/harborlight-collective/grantscout/internal/discovery"
	"github.com/harborlight-collective/grantscout/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trigger/cancel HTTP server",
	Long: `Start the HTTP server the external scheduler and operators call.

POST /sync/trigger starts a run: requests carrying the scheduler secret
are recorded as scheduled, requests naming an operator as manual. Only
one run may be in flight; a concurrent trigger gets 409.
POST /sync/cancel requests cooperative cancellation, escalating to a
forced cancel when repeated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "serve: migrate")
		}

		s := &syncServer{
			env:             env,
			schedulerSecret: cfg.Sync.SchedulerSecret,
			inFlight:        semaphore.NewWeighted(1),
		}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type", "X-Scheduler-Secret"},
		}))

		r.Get("/health", s.handleHealth)
		r.Post("/sync/trigger", s.handleTrigger)
		r.Post("/sync/cancel", s.handleCancel)
		r.Get("/runs/{id}", s.handleGetRun)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type syncServer struct {
	env             *appEnv
	schedulerSecret string
	inFlight        *semaphore.Weighted
}

type triggerRequest struct {
	Operator string `json:"operator"`
}

// resolveTrigger classifies a trigger request. The scheduler authenticates
// with its shared secret; anything else must name an operator.
func resolveTrigger(r *http.Request, secret string) (model.Trigger, string, error) {
	if got := r.Header.Get("X-Scheduler-Secret"); got != "" {
		if secret == "" || got != secret {
			return "", "", eris.New("invalid scheduler secret")
		}
		return model.TriggerScheduled, "scheduler", nil
	}

	var req triggerRequest
	if r.Body != nil {
		// Empty body is fine; operator is then missing and rejected below.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Operator == "" {
		return "", "", eris.New("operator is required for manual triggers")
	}
	return model.TriggerManual, req.Operator, nil
}

func (s *syncServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *syncServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	trigger, by, err := resolveTrigger(r, s.schedulerSecret)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	if !s.inFlight.TryAcquire(1) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in flight"})
		return
	}

	// The run outlives the request; detach it from the request context so
	// a scheduler timeout cannot kill the batch.
	go func() {
		defer s.inFlight.Release(1)
		run, err := s.env.Syncer.Run(context.Background(), trigger, by)
		if err != nil {
			zap.L().Error("triggered run failed to start", zap.Error(err))
			return
		}
		zap.L().Info("triggered run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"trigger": string(trigger),
	})
}

func (s *syncServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	res, err := discovery.RequestCancel(r.Context(), s.env.Store)
	if err != nil {
		if eris.Is(err, discovery.ErrNoActiveRun) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active run"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": res.RunID,
		"forced": res.Forced,
	})
}

func (s *syncServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
