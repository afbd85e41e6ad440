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
	"log/slog"
	"time"

	"github.com/zetherion/zetherion/pkg/registry"
)

// LLMStatsSource feeds the performance/reliability/usage sections.
type LLMStatsSource interface {
	ProviderStats(ctx context.Context) (*ProviderStats, error)
}

// HeartbeatStatsSource feeds the heartbeat numbers.
type HeartbeatStatsSource interface {
	HeartbeatStats(ctx context.Context) (*HeartbeatStats, error)
}

// SkillStatsSource feeds the skills section. The skill registry satisfies it.
type SkillStatsSource interface {
	GetStatusSummary() registry.StatusSummary
}

// Collector pulls every metric category into one snapshot tree. Each source
// call is individually guarded: a failing source yields a zero-filled
// sub-tree and a warning, never a failed collection.
type Collector struct {
	llm       LLMStatsSource
	heartbeat HeartbeatStatsSource
	skills    SkillStatsSource
	system    SystemProbe

	startedAt time.Time
	now       func() time.Time
}

// CollectorOption configures optional sources.
type CollectorOption func(*Collector)

func WithSystemProbe(probe SystemProbe) CollectorOption {
	return func(c *Collector) { c.system = probe }
}

func NewCollector(llm LLMStatsSource, heartbeat HeartbeatStatsSource, skills SkillStatsSource, opts ...CollectorOption) *Collector {
	c := &Collector{
		llm:       llm,
		heartbeat: heartbeat,
		skills:    skills,
		startedAt: time.Now(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect assembles one immutable snapshot.
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	start := c.now()

	metrics := map[string]any{}
	var warnings []string

	performance, reliability, usage, warn := c.collectLLM(ctx)
	warnings = append(warnings, warn...)

	c.mergeHeartbeat(ctx, reliability, usage, &warnings)

	metrics["performance"] = performance
	metrics["reliability"] = reliability
	metrics["usage"] = usage
	metrics["system"] = c.collectSystem(ctx, &warnings)
	metrics["skills"] = c.collectSkills(&warnings)

	reliability["uptime_seconds"] = c.now().Sub(c.startedAt).Seconds()

	snap := &Snapshot{
		Timestamp:        start,
		Metrics:          metrics,
		Warnings:         warnings,
		CollectionTimeMS: float64(c.now().Sub(start)) / float64(time.Millisecond),
	}
	return snap
}

func (c *Collector) collectLLM(ctx context.Context) (performance, reliability, usage map[string]any, warnings []string) {
	performance = map[string]any{
		"avg_latency_ms":       map[string]any{},
		"p95_latency_ms":       map[string]any{},
		"total_requests":       0,
		"requests_by_provider": map[string]any{},
	}
	reliability = map[string]any{
		"error_rate_by_provider": map[string]any{},
		"rate_limit_count":       0,
		"rate_limit_by_provider": map[string]any{},
	}
	usage = map[string]any{
		"total_cost_usd_today": 0.0,
		"cost_by_provider":     map[string]any{},
		"total_tokens_input":   0,
		"total_tokens_output":  0,
	}

	if c.llm == nil {
		warnings = append(warnings, "llm stats source not configured")
		return performance, reliability, usage, warnings
	}

	stats, err := c.llm.ProviderStats(ctx)
	if err != nil {
		slog.Warn("LLM stats collection failed, zero-filling", "error", err)
		warnings = append(warnings, "llm: "+err.Error())
		return performance, reliability, usage, warnings
	}

	performance["avg_latency_ms"] = toAnyMap(stats.AvgLatencyMS)
	performance["p95_latency_ms"] = toAnyMap(stats.P95LatencyMS)
	performance["total_requests"] = stats.TotalRequests
	performance["requests_by_provider"] = toAnyMapInt(stats.RequestsByProvider)

	reliability["error_rate_by_provider"] = toAnyMap(stats.ErrorRateByProvider)
	reliability["rate_limit_count"] = stats.RateLimitCount
	reliability["rate_limit_by_provider"] = toAnyMapInt(stats.RateLimitByProvider)

	usage["total_cost_usd_today"] = stats.CostTodayUSD
	usage["cost_by_provider"] = toAnyMap(stats.CostByProvider)
	usage["total_tokens_input"] = stats.TokensInput
	usage["total_tokens_output"] = stats.TokensOutput

	return performance, reliability, usage, warnings
}

func (c *Collector) mergeHeartbeat(ctx context.Context, reliability, usage map[string]any, warnings *[]string) {
	reliability["skill_failure_count"] = 0
	reliability["skill_error_names"] = []string{}
	reliability["heartbeat_success_rate"] = 1.0
	usage["heartbeat_total_beats"] = 0
	usage["heartbeat_total_actions"] = 0

	if c.heartbeat == nil {
		*warnings = append(*warnings, "heartbeat stats source not configured")
		return
	}
	stats, err := c.heartbeat.HeartbeatStats(ctx)
	if err != nil {
		slog.Warn("Heartbeat stats collection failed, zero-filling", "error", err)
		*warnings = append(*warnings, "heartbeat: "+err.Error())
		return
	}
	reliability["skill_failure_count"] = stats.SkillFailureCount
	reliability["skill_error_names"] = stats.SkillErrorNames
	reliability["heartbeat_success_rate"] = stats.SuccessRate
	usage["heartbeat_total_beats"] = stats.TotalBeats
	usage["heartbeat_total_actions"] = stats.TotalActions
}

func (c *Collector) collectSystem(ctx context.Context, warnings *[]string) map[string]any {
	system := map[string]any{
		"memory_rss_mb":      0.0,
		"memory_percent":     0.0,
		"disk_total_gb":      0.0,
		"disk_used_gb":       0.0,
		"disk_free_gb":       0.0,
		"disk_usage_percent": 0.0,
	}
	if c.system == nil {
		*warnings = append(*warnings, "system probe not available")
		return system
	}
	stats, err := c.system.SystemStats(ctx)
	if err != nil {
		slog.Warn("System stats collection failed, zero-filling", "error", err)
		*warnings = append(*warnings, "system: "+err.Error())
		return system
	}
	system["memory_rss_mb"] = stats.MemoryRSSMB
	system["memory_percent"] = stats.MemoryPercent
	system["disk_total_gb"] = stats.DiskTotalGB
	system["disk_used_gb"] = stats.DiskUsedGB
	system["disk_free_gb"] = stats.DiskFreeGB
	system["disk_usage_percent"] = stats.DiskUsagePercent
	return system
}

func (c *Collector) collectSkills(warnings *[]string) map[string]any {
	skills := map[string]any{
		"total_skills":     0,
		"ready_count":      0,
		"error_count":      0,
		"skills_by_status": map[string]any{},
	}
	if c.skills == nil {
		*warnings = append(*warnings, "skill stats source not configured")
		return skills
	}
	summary := c.skills.GetStatusSummary()
	byStatus := map[string]any{}
	for status, names := range summary.ByStatus {
		byStatus[status] = names
	}
	skills["total_skills"] = summary.TotalSkills
	skills["ready_count"] = summary.ReadyCount
	skills["error_count"] = summary.ErrorCount
	skills["skills_by_status"] = byStatus
	return skills
}

func toAnyMap(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toAnyMapInt(m map[string]int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
