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
	"errors"
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/zetherion/zetherion/internal/httpclient"
)

const (
	// Confidence band that triggers escalation to the next tier.
	escalationLow  = 0.3
	escalationHigh = 0.6

	// Provider items below this confidence are discarded.
	minProviderConfidence = 0.3

	// Minimum content length for escalating a message tier 1 said nothing
	// about.
	minEscalationContentLen = 20

	groupPrefixLen = 50
	dedupPrefixLen = 30
)

// RequestStats receives one record per tier 2/3 provider call. The health
// stats recorder satisfies it.
type RequestStats interface {
	RecordRequest(provider string, latencyMS float64, errored, rateLimited bool, costUSD float64, tokensIn, tokensOut int)
}

// Pipeline orchestrates the three tiers with escalation and merge.
type Pipeline struct {
	local Provider // tier 2, optional
	cloud Provider // tier 3, optional

	stats RequestStats
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRequestStats wires the per-call reliability recorder.
func WithRequestStats(stats RequestStats) PipelineOption {
	return func(p *Pipeline) { p.stats = stats }
}

func NewPipeline(local, cloud Provider, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{local: local, cloud: cloud}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NeedsEscalation reports whether the tier's output leaves the message
// uncertain: items in the escalation band, or nothing found in a message
// long enough to plausibly carry signal.
func NeedsEscalation(items []Item, content string) bool {
	if len(items) == 0 {
		return len(content) >= minEscalationContentLen
	}
	for _, item := range items {
		if item.Confidence >= escalationLow && item.Confidence < escalationHigh {
			return true
		}
	}
	return false
}

// Extract runs the pipeline for one event.
func (p *Pipeline) Extract(ctx context.Context, event *ObservationEvent) []Item {
	t1 := ExtractTier1(event)

	var t2, t3 []Item
	if p.local != nil && NeedsEscalation(t1, event.Content) {
		t2 = p.runProvider(ctx, p.local, TierLocalLLM, event)
	}
	if p.cloud != nil && len(t2) > 0 && NeedsEscalation(append(t1, t2...), event.Content) {
		t3 = p.runProvider(ctx, p.cloud, TierCloudLLM, event)
	}

	// A higher tier re-examined the message; tier 1 items that triggered
	// the escalation are superseded when the higher tier covered their type.
	t1 = dropSuperseded(t1, t2, t3)

	return Merge(t1, t2, t3)
}

// runProvider invokes a tier 2/3 provider, wrapping raw mapping items into
// typed items. Provider failure is caught and yields nothing.
func (p *Pipeline) runProvider(ctx context.Context, provider Provider, tier Tier, event *ObservationEvent) []Item {
	start := time.Now()
	raw, err := provider.ExtractItems(ctx, event)
	if p.stats != nil {
		var rateLimited *httpclient.RetryableError
		p.stats.RecordRequest(provider.Name(), time.Since(start).Seconds()*1000,
			err != nil, errors.As(err, &rateLimited), 0, 0, 0)
	}
	if err != nil {
		slog.Warn("Extraction provider failed",
			"provider", provider.Name(), "tier", int(tier), "error", err)
		return nil
	}

	var items []Item
	for _, m := range raw {
		var decoded struct {
			ItemType   string         `mapstructure:"item_type"`
			Content    string         `mapstructure:"content"`
			Confidence float64        `mapstructure:"confidence"`
			Metadata   map[string]any `mapstructure:"metadata"`
		}
		if err := mapstructure.WeakDecode(m, &decoded); err != nil {
			slog.Debug("Dropping malformed provider item",
				"provider", provider.Name(), "error", err)
			continue
		}
		if decoded.ItemType == "" || decoded.Content == "" {
			continue
		}
		if decoded.Confidence < minProviderConfidence {
			continue
		}
		items = append(items, Item{
			ItemType:       ItemType(decoded.ItemType),
			Content:        decoded.Content,
			Confidence:     decoded.Confidence,
			Metadata:       decoded.Metadata,
			SourceEventID:  event.SourceID,
			ExtractionTier: tier,
		})
	}
	return items
}

// dropSuperseded removes tier 1 items in the escalation band whose item type
// was re-extracted by a higher tier.
func dropSuperseded(t1, t2, t3 []Item) []Item {
	covered := make(map[ItemType]bool)
	for _, item := range t2 {
		covered[item.ItemType] = true
	}
	for _, item := range t3 {
		covered[item.ItemType] = true
	}
	if len(covered) == 0 {
		return t1
	}

	var kept []Item
	for _, item := range t1 {
		uncertain := item.Confidence >= escalationLow && item.Confidence < escalationHigh
		if uncertain && covered[item.ItemType] {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// ============================================================================
// MERGE
// ============================================================================

type mergeKey struct {
	itemType ItemType
	prefix   string
}

func keyOf(item Item, prefixLen int) mergeKey {
	content := item.Content
	if len(content) > prefixLen {
		content = content[:prefixLen]
	}
	return mergeKey{itemType: item.ItemType, prefix: content}
}

// Merge combines tier outputs: exact-prefix groups keep the highest-tier
// version, then near-duplicates of an already-kept item of higher-or-equal
// tier are dropped. Input order is preserved within a type. Merge is
// idempotent.
func Merge(tiers ...[]Item) []Item {
	var all []Item
	for _, tier := range tiers {
		all = append(all, tier...)
	}
	if len(all) == 0 {
		return nil
	}

	// Highest tier wins per (type, content[:50]); earliest occurrence wins
	// ties so order stays stable.
	best := make(map[mergeKey]int)
	for i, item := range all {
		k := keyOf(item, groupPrefixLen)
		if j, ok := best[k]; !ok || item.ExtractionTier > all[j].ExtractionTier {
			best[k] = i
		}
	}

	survivors := make([]bool, len(all))
	for _, idx := range best {
		survivors[idx] = true
	}

	var kept []Item
	for i, item := range all {
		if !survivors[i] {
			continue
		}
		dup := false
		for _, existing := range kept {
			if existing.ItemType == item.ItemType &&
				keyOf(existing, dedupPrefixLen) == keyOf(item, dedupPrefixLen) &&
				existing.ExtractionTier >= item.ExtractionTier {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, item)
		}
	}
	return kept
}
