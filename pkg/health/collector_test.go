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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetherion/zetherion/pkg/registry"
)

type failingLLMSource struct{}

func (failingLLMSource) ProviderStats(ctx context.Context) (*ProviderStats, error) {
	return nil, fmt.Errorf("provider registry offline")
}

func TestCollector_NilSourcesZeroFill(t *testing.T) {
	c := NewCollector(nil, nil, nil)
	snap := c.Collect(context.Background())

	require.NotNil(t, snap)
	assert.False(t, snap.Timestamp.IsZero())

	// Every category is present even with nothing wired.
	for _, section := range []string{"performance", "reliability", "usage", "system", "skills"} {
		assert.Contains(t, snap.Metrics, section, section)
	}

	// Degraded sources surface as warnings, never as a failed collection.
	assert.Len(t, snap.Warnings, 4)

	reliability := snap.Metrics["reliability"].(map[string]any)
	assert.Equal(t, 0, reliability["rate_limit_count"])
	assert.Equal(t, 1.0, reliability["heartbeat_success_rate"])
	assert.Contains(t, reliability, "uptime_seconds")
}

func TestCollector_FailingSourceWarnsAndZeroFills(t *testing.T) {
	recorder := NewStatsRecorder()
	c := NewCollector(failingLLMSource{}, recorder, nil)

	snap := c.Collect(context.Background())

	found := false
	for _, w := range snap.Warnings {
		if w == "llm: provider registry offline" {
			found = true
		}
	}
	assert.True(t, found, "expected llm failure warning, got %v", snap.Warnings)

	performance := snap.Metrics["performance"].(map[string]any)
	assert.Equal(t, 0, performance["total_requests"])
}

func TestCollector_WithLiveSources(t *testing.T) {
	recorder := NewStatsRecorder()
	recorder.RecordRequest("openai", 120, false, false, 0.02, 100, 50)
	recorder.RecordBeat(3, false)

	reg := registry.NewSkillRegistry()
	c := NewCollector(recorder, recorder, reg)

	snap := c.Collect(context.Background())

	performance := snap.Metrics["performance"].(map[string]any)
	assert.Equal(t, 1, performance["total_requests"])

	usage := snap.Metrics["usage"].(map[string]any)
	assert.Equal(t, 1, usage["heartbeat_total_beats"])
	assert.Equal(t, 3, usage["heartbeat_total_actions"])

	skills := snap.Metrics["skills"].(map[string]any)
	assert.Equal(t, 0, skills["total_skills"])

	// Only the system probe is missing.
	require.Len(t, snap.Warnings, 1)
	assert.Equal(t, "system probe not available", snap.Warnings[0])
}

func TestCollector_SnapshotIsFlattenable(t *testing.T) {
	c := NewCollector(nil, nil, nil)
	snap := c.Collect(context.Background())

	flat := Flatten(snap.Metrics)
	assert.Contains(t, flat, "system.memory_rss_mb")
	assert.Contains(t, flat, "reliability.rate_limit_count")
	assert.Contains(t, flat, "reliability.uptime_seconds")
}
