package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boxtvstar/ai-split-hd/internal/cli"
	"github.com/boxtvstar/ai-split-hd/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the split/enhance workflow as a JSON HTTP API",
	Long: `Serve starts a local HTTP server. Each client creates a session, uploads
a source image, splits it, requests enhancement of individual tiles, follows
progress on a server-sent event stream, and downloads tiles or a zip.

Examples:
  split-hd serve
  split-hd serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().Int("max-upload-mb", 10, "Largest accepted source image in MiB")
	bindFlag(serveCmd, "server.port", "port")
	bindFlag(serveCmd, "server.max_upload_mb", "max-upload-mb")
}

func runServe(cmd *cobra.Command, _ []string) error {
	initStart := time.Now()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enhancer := cli.InitEnhancer(ctx, cfg.Gemini, true)
	reg := session.NewRegistry(enhancer, session.WithExporter(newExporter()))
	defer reg.CloseAll()

	api := newAPIServer(reg, cfg.Grid, cfg.Server.MaxUploadMB)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// Closing sessions ends open event streams so Shutdown can drain.
	srv.RegisterOnShutdown(reg.CloseAll)

	logStartup("serve").
		Config("port", fmt.Sprintf("%d", cfg.Server.Port)).
		Config("maxUploadMB", fmt.Sprintf("%d", cfg.Server.MaxUploadMB)).
		InitDuration(time.Since(initStart)).
		Log()

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Server shutdown did not complete cleanly")
		}
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("Starting API server")
	fmt.Fprintf(cmd.OutOrStdout(), "\n  split-hd API: http://localhost:%d/api/sessions\n\n", cfg.Server.Port)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
