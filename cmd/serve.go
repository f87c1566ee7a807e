package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/model"
)

// runRequestSemSize caps concurrent extraction runs the server will
// drive at once; requests beyond that are rejected with 429.
const runRequestSemSize = 4

type runRequest struct {
	TargetURL   string `json:"target_url"`
	NameHint    string `json:"name_hint,omitempty"`
	AddressHint string `json:"address_hint,omitempty"`
}

// buildMux constructs the HTTP handler for the serve command: a health
// check, the artifact debug server, and a synchronous extraction
// endpoint. It returns the mux and a drain function the caller should
// invoke after the listener stops accepting new connections.
func buildMux(env *runEnv) (*http.ServeMux, func()) {
	mux := http.NewServeMux()
	sem := make(chan struct{}, runRequestSemSize)
	var wg sync.WaitGroup

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := env.Store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.Handle("GET /artifacts/", env.ArtifactSrv)

	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.TargetURL == "" {
			http.Error(w, `{"error":"target_url is required"}`, http.StatusBadRequest)
			return
		}

		select {
		case sem <- struct{}{}:
		default:
			http.Error(w, `{"error":"server busy, try again shortly"}`, http.StatusTooManyRequests)
			return
		}
		wg.Add(1)
		defer func() { <-sem; wg.Done() }()

		opts := model.DefaultOptions()
		opts.RestaurantNameHint = req.NameHint
		opts.AddressHint = req.AddressHint
		opts.EnableStrategicAnalysis = cfg.Pipeline.EnableStrategicAnalysis

		record, analysis, err := env.Orchestrator.Run(r.Context(), req.TargetURL, opts)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&runOutput{Record: record, Strategy: analysis})
	})

	return mux, wg.Wait
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the extraction pipeline as an HTTP service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRunEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mux, drain := buildMux(env)
		srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: mux}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("serving", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "http server")
		}

		drain()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
