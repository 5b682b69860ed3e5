package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keystone-build/reconcile-cli/internal/blueprint"
)

var servePort int

// buildMux wires the webhook routes. Extracted from the serve command so the
// handlers are testable without binding a listener.
func buildMux(ctx context.Context, env *pipelineEnv) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /summary", func(w http.ResponseWriter, r *http.Request) {
		summary, err := env.Ledger.GetSummary(r.Context())
		if err != nil {
			zap.L().Error("summary handler failed", zap.Error(err))
			http.Error(w, `{"error":"ledger unavailable"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summary)
	})

	mux.HandleFunc("GET /pending", func(w http.ResponseWriter, r *http.Request) {
		pending, err := env.Ledger.GetPending(r.Context())
		if err != nil {
			zap.L().Error("pending handler failed", zap.Error(err))
			http.Error(w, `{"error":"ledger unavailable"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pending)
	})

	mux.HandleFunc("POST /webhook/reconcile", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BeforePath string `json:"before_path"`
			AfterPath  string `json:"after_path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.BeforePath == "" || req.AfterPath == "" {
			http.Error(w, `{"error":"before_path and after_path are required"}`, http.StatusBadRequest)
			return
		}

		before, err := blueprint.LoadSnapshot(req.BeforePath)
		if err != nil {
			http.Error(w, `{"error":"before snapshot invalid"}`, http.StatusBadRequest)
			return
		}
		after, err := blueprint.LoadSnapshot(req.AfterPath)
		if err != nil {
			http.Error(w, `{"error":"after snapshot invalid"}`, http.StatusBadRequest)
			return
		}

		// Run reconciliation asynchronously
		go func() {
			if env.Pipeline == nil {
				return
			}
			report, err := env.Pipeline.Run(ctx, before, after)
			if err != nil {
				zap.L().Error("webhook reconciliation failed",
					zap.String("before", before.Revision),
					zap.String("after", after.Revision),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("webhook reconciliation complete",
				zap.String("run_id", report.RunID),
				zap.Int("committed", report.Committed),
				zap.Int("pending", report.Pending),
				zap.Int("rejected", report.Rejected),
			)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "accepted",
			"before": before.Revision,
			"after":  after.Revision,
		})
	})

	return mux
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for reconciliation requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildMux(ctx, env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
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
