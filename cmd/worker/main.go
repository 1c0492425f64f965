// Command worker runs only the job lanes, for deployments that scale the
// consumers apart from the API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"contest_judge/internal/app"
	"contest_judge/internal/platform/config"
	"contest_judge/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "text").WithError(err).Fatal("failed to load configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise application")
	}
	defer a.Close()

	a.StartWorkers(ctx)
	log.Info("workers running")

	<-ctx.Done()
	log.Info("shutting down workers")
	a.Wait()
	log.Info("workers stopped")
}
