// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zetherion/zetherion/pkg/config"
	"github.com/zetherion/zetherion/pkg/extract"
	"github.com/zetherion/zetherion/pkg/health"
	"github.com/zetherion/zetherion/pkg/heartbeat"
	"github.com/zetherion/zetherion/pkg/logger"
	"github.com/zetherion/zetherion/pkg/observability"
	"github.com/zetherion/zetherion/pkg/registry"
	"github.com/zetherion/zetherion/pkg/server"
	"github.com/zetherion/zetherion/pkg/settings"
	extractskill "github.com/zetherion/zetherion/pkg/skills/extract"
	healthskill "github.com/zetherion/zetherion/pkg/skills/health"
	updateskill "github.com/zetherion/zetherion/pkg/skills/update"
	"github.com/zetherion/zetherion/pkg/store"
	"github.com/zetherion/zetherion/pkg/users"
)

// ServeCmd starts the skills server and the heartbeat driver.
type ServeCmd struct {
	Watch bool `help:"Reload config on file changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cleanup, err := initLogging(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	config.LoadDotEnv()
	loader := config.NewLoader(cli.Config)
	cfg, err := loader.Load(context.Background())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence. A failed pool here is fatal; everything downstream
	// degrades rather than crashes.
	db, err := store.Open(cfg.Database.Dialect, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// The trust schema is initialized here so the chat adapter can attach
	// its ledger to the same database.
	if _, err := store.NewTrustStore(db); err != nil {
		return err
	}

	settingsStore, err := store.NewSettingsStore(db)
	if err != nil {
		return err
	}
	userStore, err := store.NewUserStore(db)
	if err != nil {
		return err
	}
	healthStore, err := store.NewHealthStore(db)
	if err != nil {
		return err
	}

	settingsManager := settings.NewManager(settingsStore)
	scheduler := settings.NewScheduler(settingsManager)
	if err := seedInterval(ctx, settingsManager, scheduler, cfg); err != nil {
		return err
	}

	userManager := users.NewManager(userStore)
	if err := userManager.EnsureOwner(ctx, cfg.OwnerID); err != nil {
		return fmt.Errorf("bootstrap owner: %w", err)
	}

	// Skills.
	reg := registry.NewSkillRegistry()
	if interval, err := scheduler.Interval(ctx); err == nil {
		reg.HeartbeatInterval = interval
	}
	if cfg.Scheduler.HeartbeatBudgetSeconds > 0 {
		reg.HeartbeatBudget = time.Duration(cfg.Scheduler.HeartbeatBudgetSeconds) * time.Second
	}

	recorder := health.NewStatsRecorder()
	reg.Stats = recorder

	// Metrics.
	metrics, err := observability.InitMetrics(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	if cfg.Health.Enabled {
		collectorOpts := []health.CollectorOption{
			health.WithSystemProbe(health.NewGopsutilProbe("/")),
		}
		collector := health.NewCollector(recorder, recorder, reg, collectorOpts...)

		healerOpts := []health.HealerOption{
			health.WithRestarter(reg),
			health.WithConnPool(db),
			health.WithVacuumer(db),
			health.WithScheduler(scheduler),
			health.WithFlusher(logger.Flusher{}),
			health.WithActionMetrics(metrics),
		}
		if cfg.Health.OllamaURL != "" {
			healerOpts = append(healerOpts, health.WithWarmer(health.NewHTTPModelWarmer(cfg.Health.OllamaURL)))
		}
		healer := health.NewHealer(healthStore, healerOpts...)
		healer.Enabled = cfg.Health.HealingEnabled

		hs := healthskill.New(collector, health.NewAnalyzer(), healer, healthStore, cfg.OwnerID,
			healthskill.WithRetentionDays(cfg.Health.RetentionDays))
		if err := reg.Register(hs); err != nil {
			return err
		}
	}

	// Extraction always runs; tiers 2 and 3 attach only when configured.
	var tier2, tier3 extract.Provider
	if cfg.Extraction.Tier2URL != "" {
		tier2 = extract.NewOllamaProvider(cfg.Extraction.Tier2URL, cfg.Extraction.Tier2Model)
	}
	if cfg.Extraction.Tier3URL != "" {
		tier3 = extract.NewOpenAIProvider(cfg.Extraction.Tier3URL, cfg.Extraction.Tier3Model, cfg.Extraction.Tier3APIKey)
	}
	if err := reg.Register(extractskill.New(extract.NewPipeline(tier2, tier3,
		extract.WithRequestStats(recorder)))); err != nil {
		return err
	}

	if cfg.Update.Enabled {
		oracle := updateskill.NewHTTPOracle(cfg.Update.OracleURL, cfg.Update.OraclePath)
		us := updateskill.New(oracle, healthStore, buildVersion(), cfg.OwnerID,
			updateskill.WithAutoApply(cfg.Update.AutoApply))
		if err := reg.Register(us); err != nil {
			return err
		}
	}

	results := reg.InitializeAll(ctx)
	for name, ok := range results {
		if !ok {
			slog.Warn("Skill failed to initialize", "skill", name)
		}
	}
	defer reg.Cleanup(context.Background())

	srv := server.New(cfg.Server, reg,
		server.WithUsers(userManager),
		server.WithSettings(settingsManager),
		server.WithMetrics(metrics),
	)

	driver := heartbeat.NewDriver(reg, scheduler, heartbeat.LogSink{})
	if cfg.OwnerID != "" {
		driver.UserIDs = []string{cfg.OwnerID}
	}
	go func() {
		if err := driver.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Heartbeat driver stopped", "error", err)
		}
	}()

	if c.Watch {
		watchLoader := config.NewLoader(cli.Config, config.WithOnChange(func(next *config.Config) {
			slog.Info("Config changed; restart to apply server or database changes")
		}))
		go func() {
			if err := watchLoader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("Config watcher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seedInterval writes the configured heartbeat interval into settings on
// first boot only; a persisted value always wins.
func seedInterval(ctx context.Context, manager *settings.Manager, scheduler *settings.Scheduler, cfg *config.Config) error {
	_, ok, err := manager.Get(ctx, settings.NamespaceScheduler, "interval_seconds")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return scheduler.SetInterval(ctx, time.Duration(cfg.Scheduler.IntervalSeconds)*time.Second)
}
