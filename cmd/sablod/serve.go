package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Servoy/sablo-sub001/internal/config"
	"github.com/Servoy/sablo-sub001/pkg/middleware"
	"github.com/Servoy/sablo-sub001/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		configDir string
		listen    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configDir, "config", "c", ".", "Directory containing sablo.json")
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides sablo.json)")

	return cmd
}

func runServe(cfg *config.Config) error {
	logger := cfg.Logger()

	sessionCfg, err := cfg.ServerSessionConfig()
	if err != nil {
		return err
	}
	manager := server.NewSessionManager(sessionCfg, logger)
	ws := server.NewWebSocketServer(manager, logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.OTel(middleware.WithRequestFilter(func(req *http.Request) bool {
		return req.URL.Path != "/metrics" && req.URL.Path != "/health"
	})))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, manager.SessionCount())
	})
	for _, endpointType := range cfg.EndpointTypes {
		r.Handle("/websocket/"+endpointType, ws.Handler(endpointType))
		logger.Info("endpoint registered", "type", endpointType, "path", "/websocket/"+endpointType)
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		manager.Shutdown()
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	manager.Shutdown()
	return nil
}
