// Command pinnlo-mcp serves the PINNLO prompt and card-generation tools over
// MCP, on streamable HTTP or stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pinnlo/service_layer/internal/ai"
	app "github.com/pinnlo/service_layer/internal/app"
	"github.com/pinnlo/service_layer/internal/config"
	"github.com/pinnlo/service_layer/internal/logging"
	"github.com/pinnlo/service_layer/internal/mcpserver"
)

func main() {
	envFile := flag.String("env", ".env", "Path to a .env file (missing file is ignored)")
	stdio := flag.Bool("stdio", false, "Serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		logging.NewDefault("pinnlo-mcp").WithError(err).Fatal("load env file")
	}
	cfg, err := config.Load()
	if err != nil {
		logging.NewDefault("pinnlo-mcp").WithError(err).Fatal("load config")
	}
	log := logging.New("pinnlo-mcp", cfg.LogLevel, cfg.LogFormat)
	if *stdio {
		// stdout carries the protocol
		log.Logger.SetOutput(os.Stderr)
	}

	// The MCP server calls the models directly.
	if cfg.AI.DefaultProvider == ai.ProviderMCP {
		cfg.AI.DefaultProvider = ai.ProviderOpenAI
		if cfg.AI.OpenAIKey == "" && cfg.AI.AnthropicKey != "" {
			cfg.AI.DefaultProvider = ai.ProviderAnthropic
		}
	}
	gen, err := app.NewGenerator(cfg, log.Named("ai"))
	if err != nil {
		log.WithError(err).Fatal("build generator")
	}
	server := mcpserver.New(mcpserver.Config{Name: "pinnlo-mcp", Version: app.Version, Token: cfg.MCP.Token}, gen, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *stdio {
		log.Info("serving MCP on stdio")
		if err := server.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Fatal("stdio server")
		}
		return
	}

	if cfg.MCP.Token == "" {
		log.Warn("MCP_SERVER_TOKEN not set; /mcp accepts unauthenticated requests")
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MCP.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("pinnlo-mcp listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.WithError(err).Error("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	log.Info("stopped")
}
