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

package extract

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetherion/zetherion/internal/httpclient"
)

// fakeProvider returns canned raw items and counts invocations.
type fakeProvider struct {
	name  string
	items []map[string]any
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) ExtractItems(ctx context.Context, event *ObservationEvent) ([]map[string]any, error) {
	f.calls++
	return f.items, f.err
}

func rawItem(itemType, content string, confidence float64) map[string]any {
	return map[string]any{
		"item_type":  itemType,
		"content":    content,
		"confidence": confidence,
	}
}

// ============================================================================
// ESCALATION
// ============================================================================

func TestNeedsEscalation(t *testing.T) {
	tests := []struct {
		name    string
		items   []Item
		content string
		want    bool
	}{
		{"confident item", []Item{{Confidence: 0.85}}, "whatever", false},
		{"uncertain item", []Item{{Confidence: 0.45}}, "whatever", true},
		{"band lower bound", []Item{{Confidence: 0.3}}, "whatever", true},
		{"band upper bound excluded", []Item{{Confidence: 0.6}}, "whatever", false},
		{"below band", []Item{{Confidence: 0.1}}, "whatever", false},
		{"nothing found, long message", nil, "a message easily long enough to carry signal", true},
		{"nothing found, short message", nil, "ok thanks", false},
		{"mixed set escalates on one uncertain", []Item{{Confidence: 0.9}, {Confidence: 0.5}}, "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsEscalation(tt.items, tt.content))
		})
	}
}

func TestExtract_NoEscalationSkipsProviders(t *testing.T) {
	local := &fakeProvider{name: "local"}
	cloud := &fakeProvider{name: "cloud"}
	p := NewPipeline(local, cloud)

	// A confident tier 1 hit on a short message: nothing escalates.
	items := p.Extract(context.Background(), event("TODO: buy milk"))
	require.NotEmpty(t, items)
	assert.Equal(t, 0, local.calls)
	assert.Equal(t, 0, cloud.calls)
}

func TestExtract_EscalatesToLocal(t *testing.T) {
	local := &fakeProvider{name: "local", items: []map[string]any{
		rawItem("task", "call the plumber about the leak", 0.8),
	}}
	p := NewPipeline(local, nil)

	// Task verb without a date sits in the escalation band (0.55).
	items := p.Extract(context.Background(), event("I need to call the plumber about the leak in the kitchen"))
	assert.Equal(t, 1, local.calls)

	task := itemOfType(items, ItemTask)
	require.NotNil(t, task)
	assert.Equal(t, TierLocalLLM, task.ExtractionTier)
	assert.Equal(t, 0.8, task.Confidence)
}

func TestExtract_SupersedesUncertainTier1(t *testing.T) {
	local := &fakeProvider{name: "local", items: []map[string]any{
		rawItem("task", "an entirely different phrasing of the same task", 0.8),
	}}
	p := NewPipeline(local, nil)

	items := p.Extract(context.Background(), event("I should probably deal with the tax paperwork sometime"))

	// The uncertain tier 1 task must not survive alongside the tier 2 one.
	var tasks []Item
	for _, item := range items {
		if item.ItemType == ItemTask {
			tasks = append(tasks, item)
		}
	}
	require.Len(t, tasks, 1)
	assert.Equal(t, TierLocalLLM, tasks[0].ExtractionTier)
}

func TestExtract_ProviderFailureYieldsTier1(t *testing.T) {
	local := &fakeProvider{name: "local", err: fmt.Errorf("model not loaded")}
	p := NewPipeline(local, nil)

	items := p.Extract(context.Background(), event("I need to call the plumber about the leak in the kitchen"))
	assert.Equal(t, 1, local.calls)

	task := itemOfType(items, ItemTask)
	require.NotNil(t, task)
	assert.Equal(t, TierRegex, task.ExtractionTier)
}

// requestLog captures the per-call records a pipeline emits.
type requestLog struct {
	providers   []string
	errored     []bool
	rateLimited []bool
}

func (l *requestLog) RecordRequest(provider string, latencyMS float64, errored, rateLimited bool, costUSD float64, tokensIn, tokensOut int) {
	l.providers = append(l.providers, provider)
	l.errored = append(l.errored, errored)
	l.rateLimited = append(l.rateLimited, rateLimited)
}

func TestExtract_RecordsProviderStats(t *testing.T) {
	local := &fakeProvider{name: "local", items: []map[string]any{
		rawItem("task", "call the plumber about the leak", 0.8),
	}}
	log := &requestLog{}
	p := NewPipeline(local, nil, WithRequestStats(log))

	p.Extract(context.Background(), event("I need to call the plumber about the leak in the kitchen"))

	require.Equal(t, []string{"local"}, log.providers)
	assert.Equal(t, []bool{false}, log.errored)
	assert.Equal(t, []bool{false}, log.rateLimited)
}

func TestExtract_RecordsProviderError(t *testing.T) {
	local := &fakeProvider{name: "local", err: fmt.Errorf("model not loaded")}
	log := &requestLog{}
	p := NewPipeline(local, nil, WithRequestStats(log))

	p.Extract(context.Background(), event("I need to call the plumber about the leak in the kitchen"))

	require.Equal(t, []string{"local"}, log.providers)
	assert.Equal(t, []bool{true}, log.errored)
	assert.Equal(t, []bool{false}, log.rateLimited)
}

func TestExtract_RecordsRateLimit(t *testing.T) {
	local := &fakeProvider{name: "local", err: &httpclient.RetryableError{
		StatusCode: 429,
		Message:    "rate limited",
	}}
	log := &requestLog{}
	p := NewPipeline(local, nil, WithRequestStats(log))

	p.Extract(context.Background(), event("I need to call the plumber about the leak in the kitchen"))

	require.Equal(t, []bool{true}, log.errored)
	assert.Equal(t, []bool{true}, log.rateLimited)
}

func TestExtract_ProviderItemFiltering(t *testing.T) {
	local := &fakeProvider{name: "local", items: []map[string]any{
		rawItem("task", "keep me", 0.7),
		rawItem("task", "too uncertain", 0.2), // below min provider confidence
		rawItem("", "no type", 0.9),
		rawItem("task", "", 0.9),
		{"item_type": "task", "content": "weakly typed", "confidence": "0.8"}, // string coerces
	}}
	p := NewPipeline(local, nil)

	items := p.Extract(context.Background(), event("a long enough message with no tier one signal at all"))

	var contents []string
	for _, item := range items {
		contents = append(contents, item.Content)
	}
	assert.ElementsMatch(t, []string{"keep me", "weakly typed"}, contents)
}

// ============================================================================
// MERGE
// ============================================================================

func TestMerge_HigherTierWins(t *testing.T) {
	t1 := []Item{{ItemType: ItemTask, Content: "file expenses", Confidence: 0.5, ExtractionTier: TierRegex}}
	t2 := []Item{{ItemType: ItemTask, Content: "file expenses", Confidence: 0.8, ExtractionTier: TierLocalLLM}}

	merged := Merge(t1, t2)
	require.Len(t, merged, 1)
	assert.Equal(t, TierLocalLLM, merged[0].ExtractionTier)
}

func TestMerge_DistinctTypesAllSurvive(t *testing.T) {
	t1 := []Item{
		{ItemType: ItemTask, Content: "file expenses", ExtractionTier: TierRegex},
		{ItemType: ItemMeeting, Content: "file expenses", ExtractionTier: TierRegex},
	}
	merged := Merge(t1)
	assert.Len(t, merged, 2)
}

func TestMerge_NearDuplicateDropped(t *testing.T) {
	// Same 30-char prefix, different 50-char grouping: once a higher-tier
	// version is kept, the lower-tier near-duplicate behind it is dropped.
	a := "schedule the quarterly planning meeting for next month"
	b := "schedule the quarterly planning session with the leadership group instead"

	merged := Merge(
		[]Item{{ItemType: ItemMeeting, Content: a, ExtractionTier: TierCloudLLM}},
		[]Item{{ItemType: ItemMeeting, Content: b, ExtractionTier: TierRegex}},
	)
	require.Len(t, merged, 1)
	assert.Equal(t, TierCloudLLM, merged[0].ExtractionTier)
	assert.Equal(t, a, merged[0].Content)
}

func TestMerge_Idempotent(t *testing.T) {
	input := []Item{
		{ItemType: ItemTask, Content: "file expenses", Confidence: 0.5, ExtractionTier: TierRegex},
		{ItemType: ItemTask, Content: "file expenses", Confidence: 0.8, ExtractionTier: TierLocalLLM},
		{ItemType: ItemDeadline, Content: "by Friday", Confidence: 0.65, ExtractionTier: TierRegex},
	}

	once := Merge(input)
	twice := Merge(once)
	assert.Equal(t, once, twice)
}

func TestMerge_Empty(t *testing.T) {
	assert.Nil(t, Merge())
	assert.Nil(t, Merge(nil, nil))
}
