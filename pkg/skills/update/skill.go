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

// Package update implements the update watcher skill: a periodic release
// oracle check with optional auto-apply, post-apply validation, and rollback.
package update

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zetherion/zetherion/pkg/skill"
)

const (
	SkillName = "update_watcher"

	checkEveryBeats = 6

	validateAttempts = 6
	validateDelay    = 10 * time.Second

	notifyPriority      = 7
	appliedPriority     = 8
	applyFailedPriority = 9
)

// Applier performs the actual binary/deployment swap. It lives outside this
// process; the skill only orchestrates.
type Applier interface {
	Apply(ctx context.Context, release *Release) error
	Validate(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// History records update attempts. *store.HealthStore satisfies it.
type History interface {
	RecordUpdate(ctx context.Context, fromVersion, toVersion, result, details string) error
}

// Skill watches the release oracle on the heartbeat.
type Skill struct {
	*skill.BaseSkill

	oracle  Oracle
	applier Applier
	history History

	autoApply bool
	ownerID   string

	mu             sync.Mutex
	currentVersion string
	beats          int64
	pending        *Release

	sleep func(time.Duration)
}

// Option configures the skill.
type Option func(*Skill)

// WithAutoApply enables unattended updates.
func WithAutoApply(enabled bool) Option {
	return func(s *Skill) { s.autoApply = enabled }
}

// WithApplier wires the external update collaborator.
func WithApplier(a Applier) Option {
	return func(s *Skill) { s.applier = a }
}

func New(oracle Oracle, history History, currentVersion, ownerID string, opts ...Option) *Skill {
	s := &Skill{
		BaseSkill: skill.NewBaseSkill(skill.Metadata{
			Name:        SkillName,
			Description: "Watches for new releases and applies or announces them",
			Version:     "1.0.0",
			Permissions: skill.NewPermissionSet(skill.PermManageSystem, skill.PermSendMessages),
			Intents:     []string{"check_update", "apply_update"},
		}),
		oracle:         oracle,
		history:        history,
		currentVersion: currentVersion,
		ownerID:        ownerID,
		sleep:          time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.RegisterHandler("check_update", s.handleCheck)
	s.RegisterHandler("apply_update", s.handleApply)
	return s
}

// version returns the running version; the heartbeat goroutine and the HTTP
// handlers read it concurrently with applyRelease's write.
func (s *Skill) version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentVersion
}

func (s *Skill) Initialize(ctx context.Context) error {
	if s.oracle == nil {
		return fmt.Errorf("release oracle not configured")
	}
	return nil
}

// OnHeartbeat checks the oracle every sixth beat.
func (s *Skill) OnHeartbeat(ctx context.Context, userIDs []string) ([]skill.HeartbeatAction, error) {
	s.mu.Lock()
	s.beats++
	beat := s.beats
	s.mu.Unlock()

	if beat%checkEveryBeats != 0 {
		return nil, nil
	}

	release, err := s.oracle.Latest(ctx)
	if err != nil {
		slog.Warn("Release check failed", "error", err)
		return nil, nil
	}
	current := s.version()
	if !IsNewer(release.Version, current) {
		return nil, nil
	}

	s.mu.Lock()
	s.pending = release
	s.mu.Unlock()

	if !s.autoApply || s.applier == nil {
		return []skill.HeartbeatAction{s.notifyAction(notifyPriority, map[string]any{
			"message":         fmt.Sprintf("Update available: %s (current %s)", release.Version, current),
			"version":         release.Version,
			"current_version": current,
			"notes":           release.Notes,
			"url":             release.URL,
		})}, nil
	}

	if err := s.applyRelease(ctx, release); err != nil {
		return []skill.HeartbeatAction{s.notifyAction(applyFailedPriority, map[string]any{
			"message": fmt.Sprintf("Update to %s failed: %v", release.Version, err),
			"version": release.Version,
			"error":   err.Error(),
		})}, nil
	}
	return []skill.HeartbeatAction{s.notifyAction(appliedPriority, map[string]any{
		"message": fmt.Sprintf("Updated to %s", release.Version),
		"version": release.Version,
	})}, nil
}

func (s *Skill) notifyAction(priority int, data map[string]any) skill.HeartbeatAction {
	return skill.HeartbeatAction{
		SkillName:  SkillName,
		ActionType: "send_message",
		UserID:     s.ownerID,
		Priority:   priority,
		Data:       data,
	}
}

// applyRelease runs apply, then validates with retries. A failed validation
// rolls back; the original apply error and the rollback outcome both land in
// the update history.
func (s *Skill) applyRelease(ctx context.Context, release *Release) error {
	from := s.version()

	if err := s.applier.Apply(ctx, release); err != nil {
		s.recordHistory(ctx, from, release.Version, "failed", err.Error())
		return fmt.Errorf("apply: %w", err)
	}

	if err := s.validateWithRetries(ctx); err != nil {
		slog.Warn("Post-update validation failed, rolling back", "version", release.Version, "error", err)
		if rbErr := s.applier.Rollback(ctx); rbErr != nil {
			s.recordHistory(ctx, from, release.Version, "failed",
				fmt.Sprintf("validation: %v; rollback: %v", err, rbErr))
			return fmt.Errorf("validation failed and rollback failed: %v (rollback: %v)", err, rbErr)
		}
		s.recordHistory(ctx, from, release.Version, "rolled_back", err.Error())
		return fmt.Errorf("validation failed, rolled back: %w", err)
	}

	s.recordHistory(ctx, from, release.Version, "success", "")
	s.mu.Lock()
	s.currentVersion = release.Version
	s.pending = nil
	s.mu.Unlock()
	return nil
}

func (s *Skill) validateWithRetries(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= validateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = s.applier.Validate(ctx); lastErr == nil {
			return nil
		}
		slog.Debug("Update validation attempt failed", "attempt", attempt, "error", lastErr)
		if attempt < validateAttempts {
			s.sleep(validateDelay)
		}
	}
	return lastErr
}

func (s *Skill) recordHistory(ctx context.Context, from, to, result, details string) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordUpdate(ctx, from, to, result, details); err != nil {
		slog.Warn("Failed to record update history", "error", err)
	}
}

// ============================================================================
// INTENTS
// ============================================================================

func (s *Skill) handleCheck(ctx context.Context, req *skill.Request) (*skill.Response, error) {
	release, err := s.oracle.Latest(ctx)
	if err != nil {
		return skill.ErrorResponse(req, fmt.Sprintf("Release check failed: %v", err)), nil
	}
	current := s.version()
	if !IsNewer(release.Version, current) {
		return skill.OKResponse(req, "Already up to date", map[string]any{
			"current_version":  current,
			"latest_version":   release.Version,
			"update_available": false,
		}), nil
	}

	s.mu.Lock()
	s.pending = release
	s.mu.Unlock()

	return skill.OKResponse(req, fmt.Sprintf("Update available: %s", release.Version), map[string]any{
		"current_version":  current,
		"latest_version":   release.Version,
		"update_available": true,
		"notes":            release.Notes,
		"url":              release.URL,
	}), nil
}

// handleApply applies the cached pending release, consulting the oracle when
// nothing is cached yet.
func (s *Skill) handleApply(ctx context.Context, req *skill.Request) (*skill.Response, error) {
	if s.applier == nil {
		return skill.ErrorResponse(req, "Update collaborator not configured"), nil
	}

	s.mu.Lock()
	release := s.pending
	s.mu.Unlock()

	if release == nil {
		latest, err := s.oracle.Latest(ctx)
		if err != nil {
			return skill.ErrorResponse(req, fmt.Sprintf("Release check failed: %v", err)), nil
		}
		if current := s.version(); !IsNewer(latest.Version, current) {
			return skill.OKResponse(req, "Already up to date", map[string]any{
				"current_version": current,
			}), nil
		}
		release = latest
	}

	if err := s.applyRelease(ctx, release); err != nil {
		return skill.ErrorResponse(req, fmt.Sprintf("Update failed: %v", err)), nil
	}
	return skill.OKResponse(req, fmt.Sprintf("Updated to %s", release.Version), map[string]any{
		"version": release.Version,
	}), nil
}
