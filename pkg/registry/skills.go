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

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zetherion/zetherion/pkg/skill"
)

const defaultInitConcurrency = 4

// StatsObserver receives reliability counters from the dispatch and
// heartbeat fan-outs. *health.StatsRecorder satisfies it.
type StatsObserver interface {
	RecordBeat(actions int, failed bool)
	RecordSkillError(name string)
}

// SkillRegistry layers the intent index and the concurrent fan-outs
// (initializers, heartbeats, prompt fragments) on the base registry.
//
// The maps are mutated only during Register; after startup the registry is
// read-only except for skill status transitions, which it owns.
type SkillRegistry struct {
	base *BaseRegistry[skill.Skill]

	mu      sync.RWMutex
	intents map[string]string // intent -> skill name

	// HeartbeatInterval and HeartbeatBudget bound each skill's OnHeartbeat
	// call. A zero budget means interval divided by the number of skills.
	HeartbeatInterval time.Duration
	HeartbeatBudget   time.Duration

	// InitConcurrency bounds InitializeAll parallelism.
	InitConcurrency int

	// Stats, when set, is fed skill failures and per-beat counters.
	Stats StatsObserver
}

func NewSkillRegistry() *SkillRegistry {
	return &SkillRegistry{
		base:              NewBaseRegistry[skill.Skill](),
		intents:           make(map[string]string),
		HeartbeatInterval: 5 * time.Minute,
		InitConcurrency:   defaultInitConcurrency,
	}
}

// ============================================================================
// REGISTRATION
// ============================================================================

// Register adds a skill. It fails if the name is already taken or any of its
// intents clashes with a previously registered skill. Register does not
// initialize the skill.
func (r *SkillRegistry) Register(s skill.Skill) error {
	meta := s.Metadata()
	if meta.Name == "" {
		return fmt.Errorf("skill name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.base.Get(meta.Name); exists {
		return fmt.Errorf("skill '%s' already registered", meta.Name)
	}
	for _, intent := range meta.Intents {
		if owner, exists := r.intents[intent]; exists {
			return fmt.Errorf("intent '%s' already registered by skill '%s'", intent, owner)
		}
	}

	if err := r.base.Register(meta.Name, s); err != nil {
		return err
	}
	for _, intent := range meta.Intents {
		r.intents[intent] = meta.Name
	}
	return nil
}

// Get returns a registered skill by name.
func (r *SkillRegistry) Get(name string) (skill.Skill, bool) {
	return r.base.Get(name)
}

// List returns all skills in registration order.
func (r *SkillRegistry) List() []skill.Skill {
	return r.base.List()
}

// Count returns the number of registered skills.
func (r *SkillRegistry) Count() int {
	return r.base.Count()
}

// ListIntents returns the intent -> skill name mapping.
func (r *SkillRegistry) ListIntents() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.intents))
	for intent, name := range r.intents {
		out[intent] = name
	}
	return out
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// SafeInitialize runs a skill's initializer, recovering panics, and drives
// the status machine. Returns true when the skill ended up ready.
func (r *SkillRegistry) SafeInitialize(ctx context.Context, s skill.Skill) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Skill initializer panicked",
				"skill", s.Metadata().Name, "panic", rec)
			s.SetStatus(skill.StatusError)
			ok = false
		}
	}()

	if err := s.Initialize(ctx); err != nil {
		slog.Warn("Skill failed to initialize",
			"skill", s.Metadata().Name, "error", err)
		s.SetStatus(skill.StatusError)
		return false
	}
	s.SetStatus(skill.StatusReady)
	return true
}

// InitializeAll runs every skill's initializer with bounded concurrency and
// returns name -> success. After it returns, every skill is ready or error.
func (r *SkillRegistry) InitializeAll(ctx context.Context) map[string]bool {
	skills := r.List()

	results := make(map[string]bool, len(skills))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := r.InitConcurrency
	if limit <= 0 {
		limit = defaultInitConcurrency
	}
	g.SetLimit(limit)

	for _, s := range skills {
		g.Go(func() error {
			ok := r.SafeInitialize(gctx, s)
			resultsMu.Lock()
			results[s.Metadata().Name] = ok
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Cleanup calls every skill's Cleanup, logging failures.
func (r *SkillRegistry) Cleanup(ctx context.Context) {
	for _, s := range r.List() {
		if err := s.Cleanup(ctx); err != nil {
			slog.Warn("Skill cleanup failed",
				"skill", s.Metadata().Name, "error", err)
		}
	}
}

// ============================================================================
// DISPATCH
// ============================================================================

// HandleRequest resolves the request's intent and dispatches it. A runtime
// failure inside the skill marks it error; the caller always gets a response.
func (r *SkillRegistry) HandleRequest(ctx context.Context, req *skill.Request) *skill.Response {
	r.mu.RLock()
	name, ok := r.intents[req.Intent]
	r.mu.RUnlock()
	var s skill.Skill
	if ok {
		s, _ = r.base.Get(name)
	}

	if s == nil {
		return skill.ErrorResponse(req, fmt.Sprintf("No skill found for intent: %s", req.Intent))
	}
	if s.Status() != skill.StatusReady {
		return skill.ErrorResponse(req, fmt.Sprintf("Skill '%s' is not ready (status: %s)", name, s.Status()))
	}

	return r.safeHandle(ctx, s, req)
}

// safeHandle calls Handle, converting panics and errors into an error
// response and an error status on the skill.
func (r *SkillRegistry) safeHandle(ctx context.Context, s skill.Skill, req *skill.Request) (resp *skill.Response) {
	name := s.Metadata().Name
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Skill handler panicked",
				"skill", name, "intent", req.Intent, "panic", rec)
			s.SetStatus(skill.StatusError)
			r.recordSkillError(name)
			resp = skill.ErrorResponse(req, "Internal skill error")
		}
	}()

	resp, err := s.Handle(ctx, req)
	if err != nil {
		slog.Error("Skill handler failed",
			"skill", name, "intent", req.Intent, "error", err)
		s.SetStatus(skill.StatusError)
		r.recordSkillError(name)
		return skill.ErrorResponse(req, fmt.Sprintf("Skill error: %v", err))
	}
	if resp == nil {
		resp = skill.ErrorResponse(req, "Skill returned no response")
	}
	return resp
}

// ============================================================================
// HEARTBEAT
// ============================================================================

type heartbeatResult struct {
	actions []skill.HeartbeatAction
	err     error
}

// RunHeartbeat fans the beat out to all ready skills concurrently with a
// per-skill deadline. The returned actions preserve registration order, not
// completion order. A skill that fails or times out contributes nothing and
// is not marked error: only handle failures degrade status.
func (r *SkillRegistry) RunHeartbeat(ctx context.Context, userIDs []string) []skill.HeartbeatAction {
	skills := r.List()

	budget := r.HeartbeatBudget
	if budget <= 0 && len(skills) > 0 {
		budget = r.HeartbeatInterval / time.Duration(len(skills))
	}
	if budget <= 0 {
		budget = time.Minute
	}

	results := make([]heartbeatResult, len(skills))
	var wg sync.WaitGroup

	for i, s := range skills {
		if s.Status() != skill.StatusReady {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.beatOne(ctx, s, userIDs, budget)
		}()
	}
	wg.Wait()

	var actions []skill.HeartbeatAction
	failed := false
	for i, res := range results {
		if res.err != nil {
			failed = true
			r.recordSkillError(skills[i].Metadata().Name)
			slog.Warn("Heartbeat skill failed, dropping actions",
				"skill", skills[i].Metadata().Name, "error", res.err)
			continue
		}
		actions = append(actions, res.actions...)
	}
	if r.Stats != nil {
		r.Stats.RecordBeat(len(actions), failed)
	}
	return actions
}

func (r *SkillRegistry) recordSkillError(name string) {
	if r.Stats != nil {
		r.Stats.RecordSkillError(name)
	}
}

// beatOne invokes a single skill's heartbeat under its deadline. Actions are
// validated to carry the emitting skill's name.
func (r *SkillRegistry) beatOne(ctx context.Context, s skill.Skill, userIDs []string, budget time.Duration) heartbeatResult {
	name := s.Metadata().Name

	beatCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan heartbeatResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- heartbeatResult{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		actions, err := s.OnHeartbeat(beatCtx, userIDs)
		done <- heartbeatResult{actions: actions, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return res
		}
		for i := range res.actions {
			if res.actions[i].SkillName == "" {
				res.actions[i].SkillName = name
			}
		}
		return res
	case <-beatCtx.Done():
		return heartbeatResult{err: fmt.Errorf("heartbeat deadline exceeded after %s", budget)}
	}
}

// ============================================================================
// PROMPT FRAGMENTS / STATUS
// ============================================================================

// SystemPromptFragments collects non-empty fragments from all ready skills
// in registration order.
func (r *SkillRegistry) SystemPromptFragments(ctx context.Context, userID string) []string {
	var fragments []string
	for _, s := range r.List() {
		if s.Status() != skill.StatusReady {
			continue
		}
		if frag := s.SystemPromptFragment(ctx, userID); frag != "" {
			fragments = append(fragments, frag)
		}
	}
	return fragments
}

// StatusSummary aggregates skill lifecycle state for the status endpoint.
type StatusSummary struct {
	TotalSkills  int                 `json:"total_skills"`
	ReadyCount   int                 `json:"ready_count"`
	ErrorCount   int                 `json:"error_count"`
	ByStatus     map[string][]string `json:"by_status"`
	TotalIntents int                 `json:"total_intents"`
}

func (r *SkillRegistry) GetStatusSummary() StatusSummary {
	summary := StatusSummary{
		ByStatus: make(map[string][]string),
	}
	for _, s := range r.List() {
		summary.TotalSkills++
		status := s.Status()
		summary.ByStatus[string(status)] = append(summary.ByStatus[string(status)], s.Metadata().Name)
		switch status {
		case skill.StatusReady:
			summary.ReadyCount++
		case skill.StatusError:
			summary.ErrorCount++
		}
	}
	r.mu.RLock()
	summary.TotalIntents = len(r.intents)
	r.mu.RUnlock()
	return summary
}
