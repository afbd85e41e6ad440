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

// Package extract turns free-text observations into structured items through
// a confidence-escalating pipeline: tier 1 is a fixed regex library, tier 2 a
// local LLM, tier 3 a cloud LLM. Higher tiers run only when lower tiers are
// uncertain.
package extract

import (
	"context"
	"time"
)

// ItemType classifies an extracted item.
type ItemType string

const (
	ItemTask     ItemType = "task"
	ItemDeadline ItemType = "deadline"
	ItemMeeting  ItemType = "meeting"
	ItemContact  ItemType = "contact"
	ItemReminder ItemType = "reminder"
)

// Tier identifies the machinery that produced an item.
type Tier int

const (
	TierRegex    Tier = 1
	TierLocalLLM Tier = 2
	TierCloudLLM Tier = 3
)

// ObservationEvent is one observed message with its surrounding context.
type ObservationEvent struct {
	Source              string         `json:"source"`
	SourceID            string         `json:"source_id"`
	UserID              string         `json:"user_id"`
	Author              string         `json:"author"`
	Content             string         `json:"content"`
	Timestamp           time.Time      `json:"timestamp"`
	Context             map[string]any `json:"context,omitempty"`
	ConversationHistory []string       `json:"conversation_history,omitempty"`
}

// Item is one structured extraction. ExtractionTier is at least the tier of
// the function that produced it.
type Item struct {
	ItemType       ItemType       `json:"item_type"`
	Content        string         `json:"content"`
	Confidence     float64        `json:"confidence"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	SourceEventID  string         `json:"source_event_id"`
	ExtractionTier Tier           `json:"extraction_tier"`
}

// Provider is an LLM-backed extractor for tiers 2 and 3. It returns raw
// mapping items ({item_type, content, confidence, metadata}); the pipeline
// wraps and filters them.
type Provider interface {
	Name() string
	ExtractItems(ctx context.Context, event *ObservationEvent) ([]map[string]any, error)
}
