// Command pinnlo-api serves the PINNLO REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/pinnlo/service_layer/internal/app"
	"github.com/pinnlo/service_layer/internal/app/httpapi"
	"github.com/pinnlo/service_layer/internal/config"
	"github.com/pinnlo/service_layer/internal/logging"
)

func main() {
	os.Exit(run())
}

// run serves until a signal arrives or the listener fails and returns the
// process exit code once shutdown has finished.
func run() int {
	envFile := flag.String("env", ".env", "Path to a .env file (missing file is ignored)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		logging.NewDefault("pinnlo-api").WithError(err).Fatal("load env file")
	}
	cfg, err := config.Load()
	if err != nil {
		logging.NewDefault("pinnlo-api").WithError(err).Fatal("load config")
	}
	log := logging.New("pinnlo-api", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("build application")
		return 1
	}
	router, err := httpapi.NewRouter(application, log.Named("http"))
	if err != nil {
		log.WithError(err).Error("build router")
		_ = application.Stop(context.Background())
		return 1
	}
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start services")
		_ = application.Stop(context.Background())
		return 1
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// generation requests wait on the model
		WriteTimeout: cfg.AI.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).
			WithField("store", cfg.StoreBackend).
			WithField("services", application.Services()).
			Info("pinnlo-api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.WithError(err).Error("server error")
		code = 1
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("stop services")
	}
	log.WithField("exit_code", code).Info("stopped")
	return code
}
