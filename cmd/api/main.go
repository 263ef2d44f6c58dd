// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saleskit/ltc-backend/internal/auth"
	"github.com/saleskit/ltc-backend/internal/config"
	"github.com/saleskit/ltc-backend/internal/executor"
	"github.com/saleskit/ltc-backend/internal/llm"
	"github.com/saleskit/ltc-backend/internal/logging"
	"github.com/saleskit/ltc-backend/internal/persistence/postgres"
	"github.com/saleskit/ltc-backend/internal/repository"
	"github.com/saleskit/ltc-backend/internal/scheduler"
	"github.com/saleskit/ltc-backend/internal/skills"
	"github.com/saleskit/ltc-backend/internal/syncer"
	httptransport "github.com/saleskit/ltc-backend/internal/transport/http"
	"github.com/saleskit/ltc-backend/internal/transport/ws"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const userTokenTTL = 24 * time.Hour

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, "api")

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema migration failed: %v", err)
		}
	}

	verifier, err := auth.NewTokenVerifier(cfg.AuthSecret, userTokenTTL)
	if err != nil {
		log.Fatalf("auth setup failed: %v", err)
	}

	systemRepo := repository.NewSystemRepository(pool, logger)
	pipelineRepo := repository.NewPipelineRepository(pool, logger)
	teamRepo := repository.NewTeamRepository(pool, logger)
	interactionRepo := repository.NewInteractionRepository(pool, logger)
	documentRepo := repository.NewDocumentRepository(pool, logger)

	catalog := skills.NewCatalog(cfg.SkillsDir, logger)
	if err := catalog.Load(); err != nil {
		log.Fatalf("skill catalog load failed: %v", err)
	}

	provider := llm.NewClient(llm.Options{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		IdleTimeout: cfg.StreamIdleExpiry,
	}, logger)

	coordinator := executor.NewCoordinator(
		teamRepo,
		catalog,
		interactionRepo,
		documentRepo,
		teamRepo,
		provider,
		logger,
	)
	engine := syncer.New(systemRepo, pipelineRepo, teamRepo, logger)
	gateway := ws.NewGateway(coordinator, verifier, logger)

	handler := httptransport.NewRouter(httptransport.Deps{
		System:       systemRepo,
		Pipeline:     pipelineRepo,
		Teams:        teamRepo,
		Interactions: interactionRepo,
		Documents:    documentRepo,
		Skills:       catalog,
		Sync:         engine,
		Verifier:     verifier,
		Issuer:       verifier,
		Stream:       gateway,
		AdminToken:   cfg.AdminToken,
		Logger:       logger,
		Version:      Version,
		Commit:       Commit,
		BuildDate:    BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if cfg.WatchSkills {
		g.Go(func() error {
			if err := catalog.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if cfg.SyncSchedule != "" {
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
		g.Go(func() error {
			sched.Start(gctx)
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
