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
	"math"
	"sort"
	"sync"
)

// ProviderStats is the performance/reliability/usage view of LLM traffic.
type ProviderStats struct {
	AvgLatencyMS        map[string]float64
	P95LatencyMS        map[string]float64
	TotalRequests       int
	RequestsByProvider  map[string]int
	ErrorRateByProvider map[string]float64
	RateLimitCount      int
	RateLimitByProvider map[string]int
	CostTodayUSD        float64
	CostByProvider      map[string]float64
	TokensInput         int
	TokensOutput        int
}

// HeartbeatStats is the reliability view of the heartbeat loop.
type HeartbeatStats struct {
	TotalBeats        int
	TotalActions      int
	SuccessRate       float64
	SkillFailureCount int
	SkillErrorNames   []string
}

// P95 returns the 95th percentile of samples: index floor(n*0.95) of the
// ascending sort, clamped to n-1. Zero for an empty slice.
func P95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := int(math.Floor(float64(len(sorted)) * 0.95))
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// StatsRecorder accumulates per-provider request outcomes in memory. The chat
// layer records each LLM call; the collector reads the aggregate view.
type StatsRecorder struct {
	mu sync.Mutex

	latencies    map[string][]float64
	requests     map[string]int
	errors       map[string]int
	rateLimits   map[string]int
	costs        map[string]float64
	tokensInput  int
	tokensOutput int

	beats       int
	beatErrors  int
	actions     int
	skillErrors map[string]int
}

func NewStatsRecorder() *StatsRecorder {
	return &StatsRecorder{
		latencies:   make(map[string][]float64),
		requests:    make(map[string]int),
		errors:      make(map[string]int),
		rateLimits:  make(map[string]int),
		costs:       make(map[string]float64),
		skillErrors: make(map[string]int),
	}
}

// RecordRequest records one LLM call outcome.
func (r *StatsRecorder) RecordRequest(provider string, latencyMS float64, errored, rateLimited bool, costUSD float64, tokensIn, tokensOut int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.latencies[provider] = append(r.latencies[provider], latencyMS)
	r.requests[provider]++
	if errored {
		r.errors[provider]++
	}
	if rateLimited {
		r.rateLimits[provider]++
	}
	r.costs[provider] += costUSD
	r.tokensInput += tokensIn
	r.tokensOutput += tokensOut
}

// RecordBeat records one heartbeat cycle.
func (r *StatsRecorder) RecordBeat(actions int, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.beats++
	r.actions += actions
	if failed {
		r.beatErrors++
	}
}

// RecordSkillError counts one runtime failure of the named skill.
func (r *StatsRecorder) RecordSkillError(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skillErrors[name]++
}

// ProviderStats returns the aggregate LLM traffic view.
func (r *StatsRecorder) ProviderStats(ctx context.Context) (*ProviderStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &ProviderStats{
		AvgLatencyMS:        make(map[string]float64),
		P95LatencyMS:        make(map[string]float64),
		RequestsByProvider:  make(map[string]int),
		ErrorRateByProvider: make(map[string]float64),
		RateLimitByProvider: make(map[string]int),
		CostByProvider:      make(map[string]float64),
		TokensInput:         r.tokensInput,
		TokensOutput:        r.tokensOutput,
	}

	for provider, samples := range r.latencies {
		if len(samples) == 0 {
			continue
		}
		var sum float64
		for _, s := range samples {
			sum += s
		}
		stats.AvgLatencyMS[provider] = sum / float64(len(samples))
		stats.P95LatencyMS[provider] = P95(samples)
	}
	for provider, count := range r.requests {
		stats.TotalRequests += count
		stats.RequestsByProvider[provider] = count
		if count > 0 {
			stats.ErrorRateByProvider[provider] = float64(r.errors[provider]) / float64(count)
		}
	}
	for provider, count := range r.rateLimits {
		stats.RateLimitCount += count
		stats.RateLimitByProvider[provider] = count
	}
	for provider, cost := range r.costs {
		stats.CostTodayUSD += cost
		stats.CostByProvider[provider] = cost
	}
	return stats, nil
}

// HeartbeatStats returns the aggregate heartbeat view.
func (r *StatsRecorder) HeartbeatStats(ctx context.Context) (*HeartbeatStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &HeartbeatStats{
		TotalBeats:   r.beats,
		TotalActions: r.actions,
		SuccessRate:  1.0,
	}
	if r.beats > 0 {
		stats.SuccessRate = float64(r.beats-r.beatErrors) / float64(r.beats)
	}
	for name, count := range r.skillErrors {
		stats.SkillFailureCount += count
		stats.SkillErrorNames = append(stats.SkillErrorNames, name)
	}
	sort.Strings(stats.SkillErrorNames)
	return stats, nil
}

// ResetDaily clears the usage counters that are scoped to one day.
func (r *StatsRecorder) ResetDaily() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costs = make(map[string]float64)
	r.tokensInput = 0
	r.tokensOutput = 0
}
