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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	tree := map[string]any{
		"system": map[string]any{
			"memory_rss_mb": 512.0,
			"nested": map[string]any{
				"depth": 3,
			},
		},
		"count":   int64(7),
		"label":   "ignored",
		"nothing": nil,
		"list":    []string{"also", "ignored"},
	}

	flat := Flatten(tree)
	assert.Equal(t, map[string]float64{
		"system.memory_rss_mb": 512.0,
		"system.nested.depth":  3,
		"count":                7,
	}, flat)
}

// steadyBaseline builds n metric trees with the same value at the path.
func steadyBaseline(n int, value float64) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"system": map[string]any{"memory_rss_mb": value}}
	}
	return out
}

func TestAnalyzeSnapshot_InsufficientBaseline(t *testing.T) {
	a := NewAnalyzer()
	current := map[string]any{"system": map[string]any{"memory_rss_mb": 9999.0}}

	result := a.AnalyzeSnapshot(current, steadyBaseline(4, 100))
	assert.Empty(t, result.Anomalies)
	assert.False(t, result.HasCritical)
	assert.Empty(t, result.RecommendedActions)
}

func TestAnalyzeSnapshot_ZeroStddevDeviation(t *testing.T) {
	a := NewAnalyzer()
	current := map[string]any{"system": map[string]any{"memory_rss_mb": 200.0}}

	result := a.AnalyzeSnapshot(current, steadyBaseline(5, 100))
	require.Len(t, result.Anomalies, 1)

	anomaly := result.Anomalies[0]
	assert.Equal(t, "system.memory_rss_mb", anomaly.MetricPath)
	assert.Equal(t, SeverityWarning, anomaly.Severity)
	assert.True(t, math.IsInf(anomaly.Z, 1))
	assert.False(t, result.HasCritical)
}

func TestAnalyzeSnapshot_ZeroStddevMatch(t *testing.T) {
	a := NewAnalyzer()
	current := map[string]any{"system": map[string]any{"memory_rss_mb": 100.0}}
	result := a.AnalyzeSnapshot(current, steadyBaseline(10, 100))
	assert.Empty(t, result.Anomalies)
}

// varyingBaseline yields mean 100, population stddev 2 at the path.
func varyingBaseline(path string) []map[string]any {
	values := []float64{98, 98, 100, 102, 102, 100}
	out := make([]map[string]any, len(values))
	for i, v := range values {
		out[i] = map[string]any{path: v}
	}
	return out
}

func TestAnalyzeSnapshot_ZScoreSeverities(t *testing.T) {
	a := NewAnalyzer()

	// stddev is sqrt((4+4+0+4+4+0)/6) = sqrt(8/3) ~ 1.633
	stddev := math.Sqrt(8.0 / 3.0)

	tests := []struct {
		name         string
		current      float64
		wantAnomaly  bool
		wantSeverity Severity
	}{
		{"within one sigma", 101, false, ""},
		{"warning band", 100 + 2.5*stddev, true, SeverityWarning},
		{"critical above three sigma", 100 + 3.5*stddev, true, SeverityCritical},
		{"critical on negative side", 100 - 4*stddev, true, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := map[string]any{"latency": tt.current}
			result := a.AnalyzeSnapshot(current, varyingBaseline("latency"))
			if !tt.wantAnomaly {
				assert.Empty(t, result.Anomalies)
				return
			}
			require.Len(t, result.Anomalies, 1)
			assert.Equal(t, tt.wantSeverity, result.Anomalies[0].Severity)
			assert.Equal(t, tt.wantSeverity == SeverityCritical, result.HasCritical)
		})
	}
}

func TestAnalyzeSnapshot_RecommendedActions(t *testing.T) {
	a := NewAnalyzer()

	baseline := make([]map[string]any, 6)
	for i := range baseline {
		baseline[i] = map[string]any{
			"reliability": map[string]any{
				"error_rate_by_provider": map[string]any{"openai": 0.01},
				"rate_limit_count":       0.0,
			},
			"system": map[string]any{"memory_rss_mb": 500.0},
		}
	}
	current := map[string]any{
		"reliability": map[string]any{
			"error_rate_by_provider": map[string]any{"openai": 0.9},
			"rate_limit_count":       50.0,
		},
		"system": map[string]any{"memory_rss_mb": 4000.0},
	}

	result := a.AnalyzeSnapshot(current, baseline)
	require.Len(t, result.Anomalies, 3)
	assert.ElementsMatch(t,
		[]string{ActionRestartSkill, ActionAdjustRateLimits, ActionClearStaleConnections},
		result.RecommendedActions)
}

func TestAnalyzeSnapshot_MemoryDropNotStale(t *testing.T) {
	a := NewAnalyzer()

	// A memory drop is anomalous but must not trigger connection clearing:
	// only positive deviations do.
	current := map[string]any{"system": map[string]any{"memory_rss_mb": 1.0}}
	baseline := make([]map[string]any, 6)
	for i, v := range []float64{98, 98, 100, 102, 102, 100} {
		baseline[i] = map[string]any{"system": map[string]any{"memory_rss_mb": v}}
	}
	result := a.AnalyzeSnapshot(current, baseline)
	require.NotEmpty(t, result.Anomalies)
	assert.NotContains(t, result.RecommendedActions, ActionClearStaleConnections)
}

// ============================================================================
// DAILY REPORT
// ============================================================================

func TestGenerateDailyReport_CleanDay(t *testing.T) {
	a := NewAnalyzer()
	snapshots := []*Snapshot{
		{Metrics: map[string]any{
			"reliability": map[string]any{
				"error_rate_by_provider": map[string]any{"openai": 0.0},
				"rate_limit_count":       0,
			},
			"system": map[string]any{"memory_rss_mb": 400.0},
			"skills": map[string]any{"error_count": 0},
		}},
	}

	report := a.GenerateDailyReport("2026-08-24", snapshots)
	assert.Equal(t, "2026-08-24", report.Date)
	assert.Equal(t, 1, report.SnapshotCount)
	assert.Equal(t, 100.0, report.HealthScore)
}

func TestGenerateDailyReport_Deductions(t *testing.T) {
	a := NewAnalyzer()
	snapshots := []*Snapshot{
		{Metrics: map[string]any{
			"reliability": map[string]any{
				"error_rate_by_provider": map[string]any{"openai": 0.10},
				"rate_limit_count":       4,
			},
			"system": map[string]any{"memory_rss_mb": 1524.0},
			"skills": map[string]any{"error_count": 2},
		}},
	}

	report := a.GenerateDailyReport("2026-08-24", snapshots)

	// error 0.10*300=30, rate limits 4*2=8, skill errors 2*5=10,
	// memory (1524-1024)/100=5 => 100-53=47
	assert.Equal(t, 47.0, report.HealthScore)
	assert.Equal(t, 30.0, report.Deductions["error_rate"])
	assert.Equal(t, 8.0, report.Deductions["rate_limits"])
	assert.Equal(t, 10.0, report.Deductions["skill_errors"])
	assert.Equal(t, 5.0, report.Deductions["memory"])
}

func TestGenerateDailyReport_MissingDataAndFloor(t *testing.T) {
	a := NewAnalyzer()

	// No snapshots at all: the error-rate category deducts 5 for missing data.
	report := a.GenerateDailyReport("2026-08-24", nil)
	assert.Equal(t, 95.0, report.HealthScore)
	assert.Equal(t, "missing data (-5)", report.Deductions["error_rate"])

	// Catastrophic day: deductions are capped per category, the score at 0.
	bad := []*Snapshot{
		{Metrics: map[string]any{
			"reliability": map[string]any{
				"error_rate_by_provider": map[string]any{"openai": 1.0},
				"rate_limit_count":       1000,
			},
			"system": map[string]any{"memory_rss_mb": 20000.0},
			"skills": map[string]any{"error_count": 100},
		}},
	}
	report = a.GenerateDailyReport("2026-08-24", bad)
	assert.Equal(t, 0.0, report.HealthScore)
	assert.Equal(t, 30.0, report.Deductions["error_rate"])
	assert.Equal(t, 20.0, report.Deductions["rate_limits"])
	assert.Equal(t, 20.0, report.Deductions["skill_errors"])
	assert.Equal(t, 10.0, report.Deductions["memory"])
}
