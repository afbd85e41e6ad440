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
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// minBaselineSnapshots is the minimum history before anomaly detection runs.
const minBaselineSnapshots = 5

const (
	warningZ  = 2.0
	criticalZ = 3.0
)

// Analyzer detects anomalies in a snapshot against a rolling baseline using
// per-leaf z-scores. It is stateless; callers pass the baseline each time.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Flatten reduces a metrics tree to dotted paths of numeric leaves. Only
// numeric leaves participate; strings, slices, and nil are skipped.
func Flatten(tree map[string]any) map[string]float64 {
	out := make(map[string]float64)
	flattenInto(out, "", tree)
	return out
}

func flattenInto(out map[string]float64, prefix string, tree map[string]any) {
	for key, value := range tree {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]any:
			flattenInto(out, path, v)
		case float64:
			out[path] = v
		case float32:
			out[path] = float64(v)
		case int:
			out[path] = float64(v)
		case int64:
			out[path] = float64(v)
		}
	}
}

// AnalyzeSnapshot compares the current metrics tree against the baseline
// trees. Fewer than minBaselineSnapshots baselines yields an empty result.
func (a *Analyzer) AnalyzeSnapshot(current map[string]any, baseline []map[string]any) AnalysisResult {
	result := AnalysisResult{}
	if len(baseline) < minBaselineSnapshots {
		return result
	}

	history := make([]map[string]float64, len(baseline))
	for i, tree := range baseline {
		history[i] = Flatten(tree)
	}

	// Paths iterate in a stable order so descriptions and recommendations
	// are deterministic across runs.
	flat := Flatten(current)
	for _, path := range sortedKeys(flat) {
		values := historicalValues(history, path)
		if len(values) < minBaselineSnapshots {
			continue
		}
		if anomaly, ok := detect(path, flat[path], values); ok {
			result.Anomalies = append(result.Anomalies, anomaly)
			if anomaly.Severity == SeverityCritical {
				result.HasCritical = true
			}
		}
	}

	result.RecommendedActions = recommendActions(result.Anomalies)
	return result
}

func historicalValues(history []map[string]float64, path string) []float64 {
	var values []float64
	for _, flat := range history {
		if v, ok := flat[path]; ok {
			values = append(values, v)
		}
	}
	return values
}

// detect computes the z-score of current against the historical values.
// Zero stddev with a deviating current is a warning with infinite z.
func detect(path string, current float64, values []float64) (Anomaly, bool) {
	mean := meanOf(values)
	stddev := pstdev(values, mean)

	var z float64
	if stddev == 0 {
		if current == mean {
			return Anomaly{}, false
		}
		z = math.Inf(1)
	} else {
		z = (current - mean) / stddev
	}

	abs := math.Abs(z)
	if abs < warningZ {
		return Anomaly{}, false
	}
	severity := SeverityWarning
	if abs >= criticalZ && !math.IsInf(z, 0) {
		severity = SeverityCritical
	}

	return Anomaly{
		MetricPath:  path,
		Current:     current,
		Mean:        mean,
		StdDev:      stddev,
		Z:           z,
		Severity:    severity,
		Description: fmt.Sprintf("%s is %.2f (baseline mean %.2f, stddev %.2f, z %.2f)", path, current, mean, stddev, z),
	}, true
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// pstdev is the population standard deviation.
func pstdev(values []float64, mean float64) float64 {
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// recommendActions maps anomaly paths to recovery actions. Duplicates are
// collapsed, first-occurrence order preserved.
func recommendActions(anomalies []Anomaly) []string {
	var actions []string
	seen := make(map[string]bool)
	add := func(action string) {
		if !seen[action] {
			seen[action] = true
			actions = append(actions, action)
		}
	}

	for _, a := range anomalies {
		path := a.MetricPath
		switch {
		case strings.Contains(path, "error_rate"):
			add(ActionRestartSkill)
		case strings.Contains(path, "rate_limit"):
			add(ActionAdjustRateLimits)
		case strings.Contains(path, "memory") && a.Z > 0:
			add(ActionClearStaleConnections)
		case strings.Contains(path, "skill_failure"), strings.Contains(path, "skill_error"):
			add(ActionRestartSkill)
		case strings.Contains(path, "latency") && a.Z > 0:
			add(ActionWarmLLMModels)
		}
	}
	return actions
}

// ============================================================================
// DAILY REPORT
// ============================================================================

// GenerateDailyReport scores one day of snapshots, starting at 100 with
// capped deductions per failure category.
func (a *Analyzer) GenerateDailyReport(date string, snapshots []*Snapshot) *DailyReport {
	report := &DailyReport{
		Date:          date,
		SnapshotCount: len(snapshots),
		Deductions:    map[string]any{},
		GeneratedAt:   time.Now(),
	}

	score := 100.0

	// Error rates: average per-snapshot mean of provider error rates.
	var errRates []float64
	var maxRateLimits, maxSkillErrors float64
	var maxMemory float64
	for _, snap := range snapshots {
		flat := Flatten(snap.Metrics)
		var sum float64
		var n int
		for path, v := range flat {
			switch {
			case strings.Contains(path, "error_rate_by_provider."):
				sum += v
				n++
			case strings.HasSuffix(path, "rate_limit_count"):
				if v > maxRateLimits {
					maxRateLimits = v
				}
			case strings.HasSuffix(path, "skills.error_count"):
				if v > maxSkillErrors {
					maxSkillErrors = v
				}
			case strings.HasSuffix(path, "memory_rss_mb"):
				if v > maxMemory {
					maxMemory = v
				}
			}
		}
		if n > 0 {
			errRates = append(errRates, sum/float64(n))
		}
	}

	if len(errRates) == 0 {
		score -= 5
		report.Deductions["error_rate"] = "missing data (-5)"
	} else {
		d := math.Min(meanOf(errRates)*300, 30)
		score -= d
		report.Deductions["error_rate"] = round1(d)
	}

	d := math.Min(maxRateLimits*2, 20)
	score -= d
	report.Deductions["rate_limits"] = round1(d)

	d = math.Min(maxSkillErrors*5, 20)
	score -= d
	report.Deductions["skill_errors"] = round1(d)

	if maxMemory > 1024 {
		d = math.Min((maxMemory-1024)/100, 10)
		score -= d
		report.Deductions["memory"] = round1(d)
	}

	report.HealthScore = math.Max(0, math.Min(100, round1(score)))
	return report
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
