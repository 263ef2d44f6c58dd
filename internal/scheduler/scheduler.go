// SPDX-License-Identifier: Apache-2.0

// Package scheduler runs the periodic full sync on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/saleskit/ltc-backend/internal/syncer"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

type SyncRunner interface {
	SyncToAllTeams(ctx context.Context) (syncer.Result, error)
}

// Config holds the dependencies for the sync scheduler.
type Config struct {
	Sync     SyncRunner
	Logger   *slog.Logger
	Schedule string // 5-field cron expression

	// Optional webhook fired after every scheduled run.
	WebhookURL    string
	WebhookSecret string
	HTTPClient    *http.Client
}

// Scheduler fires SyncToAllTeams whenever the cron schedule comes due.
type Scheduler struct {
	sync     SyncRunner
	logger   *slog.Logger
	schedule cronlib.Schedule
	expr     string

	webhookURL    string
	webhookSecret string
	httpClient    *http.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*Scheduler, error) {
	schedule, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sync schedule %q: %w", cfg.Schedule, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Scheduler{
		sync:          cfg.Sync,
		logger:        logger,
		schedule:      schedule,
		expr:          cfg.Schedule,
		webhookURL:    cfg.WebhookURL,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    client,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sync scheduler started", "schedule", s.expr)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes one full sync pass and reports the outcome.
func (s *Scheduler) runOnce(ctx context.Context) {
	started := time.Now().UTC()
	result, err := s.sync.SyncToAllTeams(ctx)
	finished := time.Now().UTC()

	if err != nil {
		s.logger.Error("scheduled sync failed", "error", err)
		return
	}

	s.logger.Info("scheduled sync completed",
		"total", result.Total,
		"success", result.Success,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"duration_ms", finished.Sub(started).Milliseconds(),
	)

	s.deliverSyncWebhook(ctx, result, started, finished)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
