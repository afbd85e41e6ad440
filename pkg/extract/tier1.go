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
	"regexp"
	"strings"
)

// Tier 1 confidence priors.
const (
	confTodoMarker   = 0.85
	confTaskVerb     = 0.55
	confTaskWithDate = 0.75
	confDeadline     = 0.65
	confMeeting      = 0.55
	confContactEmail = 0.90
	confReminder     = 0.70
)

// Pre-compiled tier 1 pattern library.
var (
	todoRe = regexp.MustCompile(`(?i)\btodo:\s*(.+)`)

	taskVerbRe = regexp.MustCompile(`(?i)\b(?:need to|have to|must|should|remember to|don't forget to|gotta)\s+(.{3,})`)

	dateHintRe = regexp.MustCompile(`(?i)\b(?:today|tomorrow|tonight|this week|next week|next month|monday|tuesday|wednesday|thursday|friday|saturday|sunday|\d{1,2}/\d{1,2}(?:/\d{2,4})?|\d{1,2}(?:am|pm))\b`)

	deadlineRe = regexp.MustCompile(`(?i)\b(?:due(?:\s+(?:on|by))?|deadline(?:\s+is)?|by end of|no later than|submit by)\s+(.{2,})`)

	meetingRe = regexp.MustCompile(`(?i)\b(?:meet(?:ing)?|sync|call|catch\s*up|standup|1:1|one-on-one)\b`)

	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	reminderRe = regexp.MustCompile(`(?i)\b(?:remind me(?:\s+to)?|set a reminder|reminder:)\s*(.{2,})`)
)

// ExtractTier1 runs the regex library over the event content. At most one
// item per item type is produced; the first (highest-prior) pattern of a
// type wins.
func ExtractTier1(event *ObservationEvent) []Item {
	content := event.Content
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var items []Item
	seen := make(map[ItemType]bool)
	add := func(t ItemType, text string, confidence float64, meta map[string]any) {
		if seen[t] {
			return
		}
		seen[t] = true
		items = append(items, Item{
			ItemType:       t,
			Content:        strings.TrimSpace(text),
			Confidence:     confidence,
			Metadata:       meta,
			SourceEventID:  event.SourceID,
			ExtractionTier: TierRegex,
		})
	}

	hasDate := dateHintRe.MatchString(content)

	// Tasks: an explicit TODO marker outranks a task verb.
	if m := todoRe.FindStringSubmatch(content); m != nil {
		add(ItemTask, m[1], confTodoMarker, map[string]any{"marker": "todo"})
	} else if m := taskVerbRe.FindStringSubmatch(content); m != nil {
		conf := confTaskVerb
		if hasDate {
			conf = confTaskWithDate
		}
		add(ItemTask, m[1], conf, map[string]any{"has_date": hasDate})
	}

	if m := deadlineRe.FindStringSubmatch(content); m != nil {
		add(ItemDeadline, m[1], confDeadline, nil)
	}

	if meetingRe.MatchString(content) {
		add(ItemMeeting, content, confMeeting, map[string]any{"has_date": hasDate})
	}

	if m := emailRe.FindString(content); m != "" {
		add(ItemContact, m, confContactEmail, map[string]any{"kind": "email"})
	}

	if m := reminderRe.FindStringSubmatch(content); m != nil {
		add(ItemReminder, m[1], confReminder, nil)
	}

	return items
}
