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

// Package extract exposes the tiered extraction pipeline as a skill: observed
// messages come in as intents, structured items come back.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/zetherion/zetherion/pkg/extract"
	"github.com/zetherion/zetherion/pkg/skill"
)

const SkillName = "extraction"

// Skill runs the extraction pipeline on demand.
type Skill struct {
	*skill.BaseSkill

	pipeline *extract.Pipeline

	now func() time.Time
}

func New(pipeline *extract.Pipeline) *Skill {
	s := &Skill{
		BaseSkill: skill.NewBaseSkill(skill.Metadata{
			Name:        SkillName,
			Description: "Extracts tasks, deadlines, meetings, contacts and reminders from observed messages",
			Version:     "1.0.0",
			Permissions: skill.NewPermissionSet(skill.PermReadProfile),
			Intents:     []string{"extract_items"},
		}),
		pipeline: pipeline,
		now:      time.Now,
	}
	s.RegisterHandler("extract_items", s.handleExtract)
	return s
}

func (s *Skill) Initialize(ctx context.Context) error {
	if s.pipeline == nil {
		return fmt.Errorf("extraction pipeline not configured")
	}
	return nil
}

// handleExtract runs the pipeline over the request message. The request
// context may carry source, author and conversation_history; absent fields
// default sensibly.
func (s *Skill) handleExtract(ctx context.Context, req *skill.Request) (*skill.Response, error) {
	if req.Message == "" {
		return skill.ErrorResponse(req, "Nothing to extract: empty message"), nil
	}

	event := &extract.ObservationEvent{
		Source:    stringField(req.Context, "source"),
		SourceID:  req.ID,
		UserID:    req.UserID,
		Author:    stringField(req.Context, "author"),
		Content:   req.Message,
		Timestamp: s.now(),
		Context:   req.Context,
	}
	if event.Author == "" {
		event.Author = req.UserID
	}
	if history, ok := req.Context["conversation_history"].([]any); ok {
		for _, line := range history {
			if text, ok := line.(string); ok {
				event.ConversationHistory = append(event.ConversationHistory, text)
			}
		}
	}

	items := s.pipeline.Extract(ctx, event)

	data := map[string]any{
		"items": items,
		"count": len(items),
	}
	if len(items) == 0 {
		return skill.OKResponse(req, "No actionable items found", data), nil
	}
	return skill.OKResponse(req, fmt.Sprintf("Extracted %d item(s)", len(items)), data), nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
