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

// Package health implements the health monitor skill. Every heartbeat it
// collects and persists a snapshot; every sixth beat it analyzes the last 24
// hours and drives the self-healer; every 288th beat it writes the daily
// report and prunes old snapshots.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zetherion/zetherion/pkg/health"
	"github.com/zetherion/zetherion/pkg/skill"
)

const (
	// SkillName identifies the skill in the registry.
	SkillName = "health_monitor"

	analyzeEveryBeats = 6
	reportEveryBeats  = 288

	baselineWindow = 24 * time.Hour

	// DefaultRetentionDays bounds how long snapshots are kept.
	DefaultRetentionDays = 7

	criticalPriority = 9
)

// Store is the persistence surface the skill needs. *store.HealthStore
// satisfies it.
type Store interface {
	SaveSnapshot(ctx context.Context, id string, snap *health.Snapshot) error
	SnapshotsSince(ctx context.Context, cutoff time.Time) ([]map[string]any, error)
	FullSnapshotsSince(ctx context.Context, cutoff time.Time) ([]*health.Snapshot, error)
	SaveDailyReport(ctx context.Context, report *health.DailyReport) error
	GetDailyReport(ctx context.Context, date string) (*health.DailyReport, error)
	PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error)
	OpenIncident(ctx context.Context, metricPath string, severity health.Severity) error
	ResolveIncidents(ctx context.Context, stillAnomalous map[string]bool, resolution string) error
}

// Skill composes the collector, analyzer, and healer on the heartbeat.
type Skill struct {
	*skill.BaseSkill

	collector *health.Collector
	analyzer  *health.Analyzer
	healer    *health.Healer
	store     Store

	ownerID       string
	retentionDays int

	mu           sync.Mutex
	beats        int64
	lastSnapshot *health.Snapshot
	lastAnalysis health.AnalysisResult

	now func() time.Time
}

// Option configures the skill.
type Option func(*Skill)

// WithRetentionDays overrides the snapshot retention window.
func WithRetentionDays(days int) Option {
	return func(s *Skill) {
		if days > 0 {
			s.retentionDays = days
		}
	}
}

// New builds the skill. ownerID receives critical-anomaly notifications.
func New(collector *health.Collector, analyzer *health.Analyzer, healer *health.Healer, store Store, ownerID string, opts ...Option) *Skill {
	s := &Skill{
		BaseSkill: skill.NewBaseSkill(skill.Metadata{
			Name:        SkillName,
			Description: "Collects system health metrics, detects anomalies, and triggers self-healing",
			Version:     "1.0.0",
			Permissions: skill.NewPermissionSet(skill.PermReadHealth, skill.PermManageSystem, skill.PermSendMessages),
			Intents:     []string{"health_status", "health_report"},
		}),
		collector:     collector,
		analyzer:      analyzer,
		healer:        healer,
		store:         store,
		ownerID:       ownerID,
		retentionDays: DefaultRetentionDays,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.RegisterHandler("health_status", s.handleStatus)
	s.RegisterHandler("health_report", s.handleReport)
	return s
}

func (s *Skill) Initialize(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("health store not configured")
	}
	return nil
}

// OnHeartbeat drives the collect/analyze/report cadence.
func (s *Skill) OnHeartbeat(ctx context.Context, userIDs []string) ([]skill.HeartbeatAction, error) {
	s.mu.Lock()
	s.beats++
	beat := s.beats
	s.mu.Unlock()

	snap := s.collector.Collect(ctx)

	// Baseline is read before the new snapshot is persisted so the current
	// metrics never score against themselves.
	var baseline []map[string]any
	if beat%analyzeEveryBeats == 0 {
		var err error
		baseline, err = s.store.SnapshotsSince(ctx, s.now().Add(-baselineWindow))
		if err != nil {
			slog.Warn("Baseline fetch failed, skipping analysis this beat", "error", err)
			baseline = nil
		}
	}

	if err := s.store.SaveSnapshot(ctx, uuid.NewString(), snap); err != nil {
		slog.Warn("Snapshot persistence failed", "error", err)
	}

	var actions []skill.HeartbeatAction
	if beat%analyzeEveryBeats == 0 && baseline != nil {
		actions = s.analyze(ctx, snap, baseline)
	}

	if beat%reportEveryBeats == 0 {
		s.dailyReport(ctx)
	}

	s.mu.Lock()
	s.lastSnapshot = snap
	s.mu.Unlock()

	return actions, nil
}

func (s *Skill) analyze(ctx context.Context, snap *health.Snapshot, baseline []map[string]any) []skill.HeartbeatAction {
	result := s.analyzer.AnalyzeSnapshot(snap.Metrics, baseline)

	s.mu.Lock()
	s.lastAnalysis = result
	s.mu.Unlock()

	stillAnomalous := make(map[string]bool, len(result.Anomalies))
	for _, a := range result.Anomalies {
		stillAnomalous[a.MetricPath] = true
		if a.Severity == health.SeverityCritical {
			if err := s.store.OpenIncident(ctx, a.MetricPath, a.Severity); err != nil {
				slog.Warn("Incident open failed", "path", a.MetricPath, "error", err)
			}
		}
	}
	if err := s.store.ResolveIncidents(ctx, stillAnomalous, "metric back within baseline"); err != nil {
		slog.Warn("Incident resolution failed", "error", err)
	}

	if len(result.RecommendedActions) > 0 {
		s.healer.ExecuteRecommended(ctx, result.RecommendedActions)
	}

	if !result.HasCritical || s.ownerID == "" {
		return nil
	}

	var criticals []string
	for _, a := range result.Anomalies {
		if a.Severity == health.SeverityCritical {
			criticals = append(criticals, a.Description)
		}
	}
	return []skill.HeartbeatAction{{
		SkillName:  SkillName,
		ActionType: "send_message",
		UserID:     s.ownerID,
		Priority:   criticalPriority,
		Data: map[string]any{
			"message":   fmt.Sprintf("Critical health anomaly detected (%d total)", len(criticals)),
			"anomalies": criticals,
		},
	}}
}

func (s *Skill) dailyReport(ctx context.Context) {
	now := s.now()
	snapshots, err := s.store.FullSnapshotsSince(ctx, now.Add(-baselineWindow))
	if err != nil {
		slog.Warn("Daily report snapshot fetch failed", "error", err)
		return
	}
	report := s.analyzer.GenerateDailyReport(now.Format("2006-01-02"), snapshots)
	if err := s.store.SaveDailyReport(ctx, report); err != nil {
		slog.Warn("Daily report persistence failed", "error", err)
	}

	cutoff := now.Add(-time.Duration(s.retentionDays) * 24 * time.Hour)
	if pruned, err := s.store.PruneSnapshots(ctx, cutoff); err != nil {
		slog.Warn("Snapshot pruning failed", "error", err)
	} else if pruned > 0 {
		slog.Info("Pruned old snapshots", "count", pruned, "retention_days", s.retentionDays)
	}
}

// ============================================================================
// INTENTS
// ============================================================================

func (s *Skill) handleStatus(ctx context.Context, req *skill.Request) (*skill.Response, error) {
	s.mu.Lock()
	snap := s.lastSnapshot
	analysis := s.lastAnalysis
	s.mu.Unlock()

	if snap == nil {
		snap = s.collector.Collect(ctx)
	}

	anomalies := make([]map[string]any, 0, len(analysis.Anomalies))
	for _, a := range analysis.Anomalies {
		anomalies = append(anomalies, map[string]any{
			"metric_path": a.MetricPath,
			"severity":    string(a.Severity),
			"description": a.Description,
		})
	}
	return skill.OKResponse(req, "Current health status", map[string]any{
		"timestamp":          snap.Timestamp,
		"metrics":            snap.Metrics,
		"warnings":           snap.Warnings,
		"collection_time_ms": snap.CollectionTimeMS,
		"anomalies":          anomalies,
		"has_critical":       analysis.HasCritical,
	}), nil
}

// handleReport returns today's daily report, generating one on demand when
// the 288th beat has not come around yet.
func (s *Skill) handleReport(ctx context.Context, req *skill.Request) (*skill.Response, error) {
	date := s.now().Format("2006-01-02")
	report, err := s.store.GetDailyReport(ctx, date)
	if err != nil {
		return skill.ErrorResponse(req, fmt.Sprintf("Failed to load daily report: %v", err)), nil
	}
	if report == nil {
		snapshots, err := s.store.FullSnapshotsSince(ctx, s.now().Add(-baselineWindow))
		if err != nil {
			return skill.ErrorResponse(req, fmt.Sprintf("Failed to load snapshots: %v", err)), nil
		}
		report = s.analyzer.GenerateDailyReport(date, snapshots)
	}
	return skill.OKResponse(req, "Daily health report", map[string]any{
		"date":           report.Date,
		"health_score":   report.HealthScore,
		"snapshot_count": report.SnapshotCount,
		"deductions":     report.Deductions,
		"generated_at":   report.GeneratedAt,
	}), nil
}
