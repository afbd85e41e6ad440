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

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zetherion/zetherion/pkg/skill"
)

// handleHealth reports liveness. Always unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := s.registry.GetStatusSummary()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"skills_ready": summary.ReadyCount,
		"skills_total": summary.TotalSkills,
	})
}

// handleRequest dispatches one skill request through the registry.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req skill.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Intent == "" {
		writeError(w, http.StatusBadRequest, "Missing intent")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Context == nil {
		req.Context = map[string]any{}
	}

	start := time.Now()
	resp := s.registry.HandleRequest(r.Context(), &req)

	var handleErr error
	if !resp.Success {
		handleErr = errFromResponse(resp)
	}
	s.metrics.RecordSkillRequest(r.Context(), skillNameForIntent(s, req.Intent), req.Intent, time.Since(start), handleErr)

	writeJSON(w, http.StatusOK, resp)
}

// handleHeartbeat runs one heartbeat fan-out and returns the produced
// actions in registration order.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	start := time.Now()
	actions := s.registry.RunHeartbeat(r.Context(), body.UserIDs)
	s.metrics.RecordHeartbeat(r.Context(), time.Since(start), len(actions))

	if actions == nil {
		actions = []skill.HeartbeatAction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	skills := s.registry.List()
	out := make([]map[string]any, 0, len(skills))
	for _, sk := range skills {
		meta := sk.Metadata().ToMapping()
		meta["status"] = string(sk.Status())
		out = append(out, meta)
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": out})
}

func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sk, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Skill not found")
		return
	}
	meta := sk.Metadata().ToMapping()
	meta["status"] = string(sk.Status())
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStatusSummary())
}

func (s *Server) handlePromptFragments(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	fragments := s.registry.SystemPromptFragments(r.Context(), userID)
	if fragments == nil {
		fragments = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fragments": fragments})
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"intents": s.registry.ListIntents()})
}

// skillNameForIntent resolves the owning skill for metric labels.
func skillNameForIntent(s *Server, intent string) string {
	if name, ok := s.registry.ListIntents()[intent]; ok {
		return name
	}
	return "unknown"
}

type responseError struct{ message string }

func (e responseError) Error() string { return e.message }

func errFromResponse(resp *skill.Response) error {
	if resp.Error != "" {
		return responseError{message: resp.Error}
	}
	return responseError{message: "request failed"}
}
