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

// Package health implements the periodic health monitor: a collector that
// snapshots metrics from its collaborators, an analyzer that flags anomalies
// against a rolling baseline, and a self-healer that dispatches in-process
// recovery actions under per-action cooldowns.
package health

import "time"

// Severity of an anomaly.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Snapshot is a point-in-time metrics tree. Immutable once written.
type Snapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Metrics   map[string]any `json:"metrics"`
	Anomalies map[string]any `json:"anomalies,omitempty"`

	// Warnings lists sources that degraded to zero-fill during collection.
	Warnings []string `json:"warnings,omitempty"`

	CollectionTimeMS float64 `json:"collection_time_ms"`
}

// Anomaly is one metric leaf that strayed from its baseline.
type Anomaly struct {
	MetricPath  string   `json:"metric_path"`
	Current     float64  `json:"current"`
	Mean        float64  `json:"mean"`
	StdDev      float64  `json:"stddev"`
	Z           float64  `json:"z"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// AnalysisResult is the analyzer's verdict for one snapshot.
type AnalysisResult struct {
	Anomalies          []Anomaly `json:"anomalies"`
	HasCritical        bool      `json:"has_critical"`
	RecommendedActions []string  `json:"recommended_actions"`
}

// DailyReport is the once-a-day health summary.
type DailyReport struct {
	Date          string         `json:"date"`
	HealthScore   float64        `json:"health_score"`
	SnapshotCount int            `json:"snapshot_count"`
	Deductions    map[string]any `json:"deductions"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// HealingResult of one healer invocation.
type HealingResult string

const (
	HealingSuccess HealingResult = "success"
	HealingFailed  HealingResult = "failed"
	HealingSkipped HealingResult = "skipped"
)

// HealingRecord is one append-only audit row.
type HealingRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	ActionType string         `json:"action_type"`
	Trigger    string         `json:"trigger"`
	Result     HealingResult  `json:"result"`
	Details    map[string]any `json:"details,omitempty"`
}

// Incident tracks a critical anomaly from detection to resolution.
type Incident struct {
	ID         string     `json:"id"`
	MetricPath string     `json:"metric_path"`
	Severity   Severity   `json:"severity"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
}
