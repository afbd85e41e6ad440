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

package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zetherion/zetherion/pkg/skill"
)

// Recovery action catalogue. Every action is an in-process operation; the
// healer never restarts a subprocess or container.
const (
	ActionRestartSkill          = "restart_skill"
	ActionClearStaleConnections = "clear_stale_connections"
	ActionVacuumDatabases       = "vacuum_databases"
	ActionWarmLLMModels         = "warm_llm_models"
	ActionAdjustRateLimits      = "adjust_rate_limits"
	ActionFlushLogBuffer        = "flush_log_buffer"
)

// DefaultCooldown is the minimum spacing between invocations of the same
// action type.
const DefaultCooldown = 300 * time.Second

// maxSchedulerInterval caps adjust_rate_limits doubling.
const maxSchedulerInterval = 1800 * time.Second

// ErrCooldown is recorded when an action is rejected for recency.
var ErrCooldown = fmt.Errorf("cooldown")

// SkillRestarter locates and re-initializes errored skills. The skill
// registry satisfies it.
type SkillRestarter interface {
	List() []skill.Skill
	SafeInitialize(ctx context.Context, s skill.Skill) bool
}

// ConnPool expires live connections. The store pool satisfies it.
type ConnPool interface {
	ExpireIdle(ctx context.Context) (int, error)
}

// Vacuumer compacts and re-analyzes designated storage tables.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// ModelWarmer keeps loaded LLM models resident.
type ModelWarmer interface {
	ListModels(ctx context.Context) ([]string, error)
	KeepAlive(ctx context.Context, model string) error
}

// Scheduler exposes the heartbeat interval for adjustment.
type Scheduler interface {
	Interval(ctx context.Context) (time.Duration, error)
	SetInterval(ctx context.Context, d time.Duration) error
}

// LogFlusher forces buffered log sinks to disk.
type LogFlusher interface {
	Flush() error
}

// AuditStore persists healing actions and answers cooldown queries.
type AuditStore interface {
	RecordHealingAction(ctx context.Context, rec HealingRecord) error
	LastHealingAction(ctx context.Context, actionType string) (time.Time, bool, error)
}

// ActionMetrics counts healing attempts for the metrics endpoint. The
// observability meter satisfies it.
type ActionMetrics interface {
	RecordHealingAction(ctx context.Context, actionType string, success bool)
}

// Healer dispatches the recovery catalogue with per-action cooldowns,
// auditing every attempt to the store.
type Healer struct {
	Enabled  bool
	Cooldown time.Duration

	store     AuditStore
	restarter SkillRestarter
	pool      ConnPool
	vacuumer  Vacuumer
	warmer    ModelWarmer
	scheduler Scheduler
	flusher   LogFlusher
	metrics   ActionMetrics

	now func() time.Time
}

// HealerOption wires an optional collaborator.
type HealerOption func(*Healer)

func WithRestarter(r SkillRestarter) HealerOption { return func(h *Healer) { h.restarter = r } }
func WithConnPool(p ConnPool) HealerOption        { return func(h *Healer) { h.pool = p } }
func WithVacuumer(v Vacuumer) HealerOption        { return func(h *Healer) { h.vacuumer = v } }
func WithWarmer(w ModelWarmer) HealerOption       { return func(h *Healer) { h.warmer = w } }
func WithScheduler(s Scheduler) HealerOption      { return func(h *Healer) { h.scheduler = s } }
func WithFlusher(f LogFlusher) HealerOption       { return func(h *Healer) { h.flusher = f } }
func WithActionMetrics(m ActionMetrics) HealerOption {
	return func(h *Healer) { h.metrics = m }
}

func NewHealer(store AuditStore, opts ...HealerOption) *Healer {
	h := &Healer{
		Enabled:  true,
		Cooldown: DefaultCooldown,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ExecuteRecommended dispatches the given actions in order. Unknown action
// names map to false.
func (h *Healer) ExecuteRecommended(ctx context.Context, actions []string) map[string]bool {
	results := make(map[string]bool, len(actions))
	for _, action := range actions {
		results[action] = h.ExecuteAction(ctx, action, "analyzer recommendation")
	}
	return results
}

// ExecuteAction runs one catalogue action: enabled check, cooldown check,
// perform, audit. The boolean is the binding result; the audit row records
// the detail.
func (h *Healer) ExecuteAction(ctx context.Context, actionType, trigger string) bool {
	if !h.Enabled {
		return false
	}

	if last, ok, err := h.store.LastHealingAction(ctx, actionType); err != nil {
		slog.Warn("Cooldown lookup failed, refusing action", "action", actionType, "error", err)
		return false
	} else if ok && h.now().Sub(last) < h.Cooldown {
		h.audit(ctx, actionType, trigger, HealingFailed, map[string]any{"error": ErrCooldown.Error()})
		return false
	}

	details, err := h.perform(ctx, actionType)
	if err != nil {
		slog.Warn("Healing action failed", "action", actionType, "trigger", trigger, "error", err)
		if details == nil {
			details = map[string]any{}
		}
		details["error"] = err.Error()
		h.audit(ctx, actionType, trigger, HealingFailed, details)
		return false
	}

	slog.Info("Healing action executed", "action", actionType, "trigger", trigger)
	h.audit(ctx, actionType, trigger, HealingSuccess, details)
	return true
}

func (h *Healer) audit(ctx context.Context, actionType, trigger string, result HealingResult, details map[string]any) {
	if h.metrics != nil {
		h.metrics.RecordHealingAction(ctx, actionType, result == HealingSuccess)
	}
	rec := HealingRecord{
		Timestamp:  h.now(),
		ActionType: actionType,
		Trigger:    trigger,
		Result:     result,
		Details:    details,
	}
	if err := h.store.RecordHealingAction(ctx, rec); err != nil {
		slog.Warn("Failed to audit healing action", "action", actionType, "error", err)
	}
}

func (h *Healer) perform(ctx context.Context, actionType string) (map[string]any, error) {
	switch actionType {
	case ActionRestartSkill:
		return h.restartSkill(ctx)
	case ActionClearStaleConnections:
		return h.clearStaleConnections(ctx)
	case ActionVacuumDatabases:
		return h.vacuumDatabases(ctx)
	case ActionWarmLLMModels:
		return h.warmModels(ctx)
	case ActionAdjustRateLimits:
		return h.adjustRateLimits(ctx)
	case ActionFlushLogBuffer:
		return h.flushLogs()
	default:
		return nil, fmt.Errorf("unknown healing action: %s", actionType)
	}
}

// restartSkill re-initializes the first skill found in the error state.
func (h *Healer) restartSkill(ctx context.Context) (map[string]any, error) {
	if h.restarter == nil {
		return nil, fmt.Errorf("skill restarter not configured")
	}
	for _, s := range h.restarter.List() {
		if s.Status() != skill.StatusError {
			continue
		}
		name := s.Metadata().Name
		if !h.restarter.SafeInitialize(ctx, s) {
			return map[string]any{"skill": name}, fmt.Errorf("skill %s failed to re-initialize", name)
		}
		return map[string]any{"skill": name}, nil
	}
	return nil, fmt.Errorf("no skill in error state")
}

func (h *Healer) clearStaleConnections(ctx context.Context) (map[string]any, error) {
	if h.pool == nil {
		return nil, fmt.Errorf("connection pool not configured")
	}
	expired, err := h.pool.ExpireIdle(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"expired": expired}, nil
}

func (h *Healer) vacuumDatabases(ctx context.Context) (map[string]any, error) {
	if h.vacuumer == nil {
		return nil, fmt.Errorf("vacuumer not configured")
	}
	if err := h.vacuumer.Vacuum(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}

// warmModels sends one minimal keep-alive request per loaded model.
func (h *Healer) warmModels(ctx context.Context) (map[string]any, error) {
	if h.warmer == nil {
		return nil, fmt.Errorf("model warmer not configured")
	}
	models, err := h.warmer.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	warmed := 0
	for _, model := range models {
		if err := h.warmer.KeepAlive(ctx, model); err != nil {
			slog.Warn("Keep-alive failed", "model", model, "error", err)
			continue
		}
		warmed++
	}
	return map[string]any{"models": len(models), "warmed": warmed}, nil
}

// adjustRateLimits doubles the scheduler interval, capped at 1800s, and
// persists it via settings.
func (h *Healer) adjustRateLimits(ctx context.Context) (map[string]any, error) {
	if h.scheduler == nil {
		return nil, fmt.Errorf("scheduler not configured")
	}
	current, err := h.scheduler.Interval(ctx)
	if err != nil {
		return nil, fmt.Errorf("read interval: %w", err)
	}
	next := current * 2
	if next > maxSchedulerInterval {
		next = maxSchedulerInterval
	}
	if err := h.scheduler.SetInterval(ctx, next); err != nil {
		return nil, fmt.Errorf("set interval: %w", err)
	}
	return map[string]any{
		"old_interval_seconds": current.Seconds(),
		"new_interval_seconds": next.Seconds(),
	}, nil
}

func (h *Healer) flushLogs() (map[string]any, error) {
	if h.flusher == nil {
		return nil, fmt.Errorf("log flusher not configured")
	}
	if err := h.flusher.Flush(); err != nil {
		return nil, err
	}
	return nil, nil
}
