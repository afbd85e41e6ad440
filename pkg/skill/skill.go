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

// Package skill defines the capability contract of the assistant platform.
// A skill is a pluggable unit with static metadata, a lifecycle, intent
// handling, and a periodic heartbeat hook. Skills are registered with the
// registry, which owns all status transitions.
package skill

import (
	"context"
	"fmt"
	"sync"
)

// ============================================================================
// STATUS
// ============================================================================

// Status is the lifecycle state of a skill.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
	StatusDisabled     Status = "disabled"
)

// ============================================================================
// SKILL CONTRACT
// ============================================================================

// Skill is the capability contract. Implementers typically embed BaseSkill
// and override only what they need.
//
// Status is mutated only by the framework: the registry drives transitions
// based on the outcome of Initialize and observed failures in Handle.
type Skill interface {
	// Metadata returns the static descriptor. It must be stable for the
	// lifetime of the skill; the registry treats Metadata().Name as identity.
	Metadata() Metadata

	// Initialize performs idempotent setup. The registry sets the status to
	// ready on nil error and to error otherwise.
	Initialize(ctx context.Context) error

	// Handle processes a request whose intent is advertised in Metadata.
	// It is only called while the skill is ready.
	Handle(ctx context.Context, req *Request) (*Response, error)

	// OnHeartbeat is called periodically with the set of active users and may
	// return actions to be delivered without a user prompt. It must return
	// within the heartbeat budget or its actions are discarded.
	OnHeartbeat(ctx context.Context, userIDs []string) ([]HeartbeatAction, error)

	// SystemPromptFragment returns an optional fragment used to enrich an LLM
	// system prompt for the given user. Must be cheap; empty means none.
	SystemPromptFragment(ctx context.Context, userID string) string

	// Cleanup releases resources on shutdown.
	Cleanup(ctx context.Context) error

	// Status reports the current lifecycle state.
	Status() Status

	// SetStatus transitions the lifecycle state. Reserved for the framework.
	SetStatus(status Status)
}

// HandlerFunc handles one intent.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// ============================================================================
// BASE SKILL
// ============================================================================

// BaseSkill provides no-op defaults for the Skill contract plus a table-based
// intent dispatcher. Concrete skills embed it, register handlers at
// construction time, and override lifecycle methods as needed.
type BaseSkill struct {
	meta Metadata

	mu       sync.RWMutex
	status   Status
	handlers map[string]HandlerFunc
}

// NewBaseSkill creates a base skill in the initializing state.
func NewBaseSkill(meta Metadata) *BaseSkill {
	return &BaseSkill{
		meta:     meta,
		status:   StatusInitializing,
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterHandler binds an intent to a handler. Intended to be called from
// the skill constructor, before the skill is registered.
func (b *BaseSkill) RegisterHandler(intent string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[intent] = fn
}

func (b *BaseSkill) Metadata() Metadata { return b.meta }

func (b *BaseSkill) Initialize(ctx context.Context) error { return nil }

// Handle dispatches by intent table. Unknown intents produce an error
// response, not a Go error: the request was understood, just not supported.
func (b *BaseSkill) Handle(ctx context.Context, req *Request) (*Response, error) {
	b.mu.RLock()
	fn, ok := b.handlers[req.Intent]
	b.mu.RUnlock()
	if !ok {
		return ErrorResponse(req, fmt.Sprintf("Unknown intent: %s", req.Intent)), nil
	}
	return fn(ctx, req)
}

func (b *BaseSkill) OnHeartbeat(ctx context.Context, userIDs []string) ([]HeartbeatAction, error) {
	return nil, nil
}

func (b *BaseSkill) SystemPromptFragment(ctx context.Context, userID string) string { return "" }

func (b *BaseSkill) Cleanup(ctx context.Context) error { return nil }

func (b *BaseSkill) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *BaseSkill) SetStatus(status Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}
