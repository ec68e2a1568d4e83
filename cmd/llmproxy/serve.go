package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"llmproxy/config"
	"llmproxy/internal/app"
	"llmproxy/internal/logging"
	"llmproxy/internal/providers"
	"llmproxy/internal/providers/anthropic"
	"llmproxy/internal/providers/gemini"
	"llmproxy/internal/providers/mistral"
	"llmproxy/internal/providers/openai"
	"llmproxy/internal/version"
)

// newFactory registers every supported provider.
func newFactory() *providers.ProviderFactory {
	factory := providers.NewProviderFactory()
	factory.Add(openai.Registration)
	factory.Add(gemini.Registration)
	factory.Add(mistral.Registration)
	factory.Add(anthropic.Registration)
	return factory
}

func newServeCmd(configPath *string) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP proxy server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if port != "" {
				cfg.Server.Port = port
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			slog.SetDefault(logger)

			logger.Info("starting llmproxy",
				"version", version.Version,
				"commit", version.Commit,
				"build_date", version.Date,
			)

			application, err := app.New(app.Config{
				AppConfig: cfg,
				Factory:   newFactory(),
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- application.Start(net.JoinHostPort("", cfg.Server.Port))
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := application.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errCh
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides server.port)")
	return cmd
}
