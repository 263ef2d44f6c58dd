// SPDX-License-Identifier: Apache-2.0

// syncd runs the periodic system-config sync without the API surface. It is
// meant for deployments that schedule syncs separately from serving traffic.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/saleskit/ltc-backend/internal/config"
	"github.com/saleskit/ltc-backend/internal/logging"
	"github.com/saleskit/ltc-backend/internal/persistence/postgres"
	"github.com/saleskit/ltc-backend/internal/repository"
	"github.com/saleskit/ltc-backend/internal/scheduler"
	"github.com/saleskit/ltc-backend/internal/syncer"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, "syncd")

	if cfg.SyncSchedule == "" {
		log.Fatal("SYNC_SCHEDULE is required for syncd")
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	systemRepo := repository.NewSystemRepository(pool, logger)
	pipelineRepo := repository.NewPipelineRepository(pool, logger)
	teamRepo := repository.NewTeamRepository(pool, logger)

	engine := syncer.New(systemRepo, pipelineRepo, teamRepo, logger)

	sched, err := scheduler.New(scheduler.Config{
		Sync:          engine,
		Logger:        logger,
		Schedule:      cfg.SyncSchedule,
		WebhookURL:    cfg.SyncWebhookURL,
		WebhookSecret: cfg.SyncWebhookSecret,
	})
	if err != nil {
		log.Fatalf("scheduler setup failed: %v", err)
	}

	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()
}
