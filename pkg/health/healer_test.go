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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetherion/zetherion/pkg/skill"
)

// memAuditStore records healing actions in memory with success-only cooldowns.
type memAuditStore struct {
	records []HealingRecord
}

func (m *memAuditStore) RecordHealingAction(ctx context.Context, rec HealingRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memAuditStore) LastHealingAction(ctx context.Context, actionType string) (time.Time, bool, error) {
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].ActionType == actionType && m.records[i].Result == HealingSuccess {
			return m.records[i].Timestamp, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (m *memAuditStore) last() HealingRecord {
	return m.records[len(m.records)-1]
}

// fakeScheduler satisfies Scheduler.
type fakeScheduler struct {
	interval time.Duration
}

func (f *fakeScheduler) Interval(ctx context.Context) (time.Duration, error) {
	return f.interval, nil
}

func (f *fakeScheduler) SetInterval(ctx context.Context, d time.Duration) error {
	f.interval = d
	return nil
}

type fakePool struct{ expired int }

func (f *fakePool) ExpireIdle(ctx context.Context) (int, error) { return f.expired, nil }

type fakeFlusher struct {
	flushed bool
	err     error
}

func (f *fakeFlusher) Flush() error {
	f.flushed = true
	return f.err
}

type fakeWarmer struct {
	models []string
	failed map[string]bool
	warmed []string
}

func (f *fakeWarmer) ListModels(ctx context.Context) ([]string, error) { return f.models, nil }

func (f *fakeWarmer) KeepAlive(ctx context.Context, model string) error {
	if f.failed[model] {
		return fmt.Errorf("model %s gone", model)
	}
	f.warmed = append(f.warmed, model)
	return nil
}

// fakeRestarter drives errored skills back to ready.
type fakeRestarter struct {
	skills  []skill.Skill
	succeed bool
}

func (f *fakeRestarter) List() []skill.Skill { return f.skills }

func (f *fakeRestarter) SafeInitialize(ctx context.Context, s skill.Skill) bool {
	if f.succeed {
		s.SetStatus(skill.StatusReady)
	}
	return f.succeed
}

func erroredSkill(name string) skill.Skill {
	s := skill.NewBaseSkill(skill.Metadata{Name: name})
	s.SetStatus(skill.StatusError)
	return s
}

// ============================================================================
// DISPATCH AND COOLDOWN
// ============================================================================

func TestHealer_Disabled(t *testing.T) {
	store := &memAuditStore{}
	h := NewHealer(store, WithFlusher(&fakeFlusher{}))
	h.Enabled = false

	assert.False(t, h.ExecuteAction(context.Background(), ActionFlushLogBuffer, "test"))
	assert.Empty(t, store.records)
}

func TestHealer_CooldownRejectionIsAudited(t *testing.T) {
	store := &memAuditStore{}
	flusher := &fakeFlusher{}
	h := NewHealer(store, WithFlusher(flusher))
	ctx := context.Background()

	require.True(t, h.ExecuteAction(ctx, ActionFlushLogBuffer, "first"))
	require.Len(t, store.records, 1)
	assert.Equal(t, HealingSuccess, store.records[0].Result)

	// Within the cooldown window: rejected, but the refusal is on the record.
	assert.False(t, h.ExecuteAction(ctx, ActionFlushLogBuffer, "second"))
	require.Len(t, store.records, 2)
	assert.Equal(t, HealingFailed, store.last().Result)
	assert.Equal(t, "cooldown", store.last().Details["error"])
}

func TestHealer_CooldownExpires(t *testing.T) {
	store := &memAuditStore{}
	h := NewHealer(store, WithFlusher(&fakeFlusher{}))
	ctx := context.Background()

	now := time.Now()
	h.now = func() time.Time { return now }
	require.True(t, h.ExecuteAction(ctx, ActionFlushLogBuffer, "first"))

	h.now = func() time.Time { return now.Add(DefaultCooldown + time.Second) }
	assert.True(t, h.ExecuteAction(ctx, ActionFlushLogBuffer, "later"))
}

func TestHealer_FailureDoesNotResetCooldown(t *testing.T) {
	store := &memAuditStore{}
	flusher := &fakeFlusher{err: fmt.Errorf("disk full")}
	h := NewHealer(store, WithFlusher(flusher))
	ctx := context.Background()

	// Failed attempts audit as failed but leave no success row, so the next
	// attempt is not blocked by cooldown.
	assert.False(t, h.ExecuteAction(ctx, ActionFlushLogBuffer, "first"))
	assert.Equal(t, HealingFailed, store.last().Result)

	flusher.err = nil
	assert.True(t, h.ExecuteAction(ctx, ActionFlushLogBuffer, "retry"))
}

func TestHealer_UnknownAction(t *testing.T) {
	store := &memAuditStore{}
	h := NewHealer(store)

	assert.False(t, h.ExecuteAction(context.Background(), "reboot_universe", "test"))
	require.Len(t, store.records, 1)
	assert.Equal(t, HealingFailed, store.last().Result)
}

type actionCounter struct {
	actions   []string
	successes []bool
}

func (c *actionCounter) RecordHealingAction(ctx context.Context, actionType string, success bool) {
	c.actions = append(c.actions, actionType)
	c.successes = append(c.successes, success)
}

func TestHealer_CountsActions(t *testing.T) {
	store := &memAuditStore{}
	counter := &actionCounter{}
	flusher := &fakeFlusher{err: fmt.Errorf("disk full")}
	h := NewHealer(store, WithFlusher(flusher), WithActionMetrics(counter))
	ctx := context.Background()

	// Failed, then succeeded, then rejected for cooldown. Every attempt
	// counts, matching the audit rows.
	assert.False(t, h.ExecuteAction(ctx, ActionFlushLogBuffer, "first"))
	flusher.err = nil
	assert.True(t, h.ExecuteAction(ctx, ActionFlushLogBuffer, "second"))
	assert.False(t, h.ExecuteAction(ctx, ActionFlushLogBuffer, "third"))

	assert.Equal(t, []string{ActionFlushLogBuffer, ActionFlushLogBuffer, ActionFlushLogBuffer}, counter.actions)
	assert.Equal(t, []bool{false, true, false}, counter.successes)
	assert.Len(t, store.records, 3)
}

func TestHealer_ExecuteRecommended(t *testing.T) {
	store := &memAuditStore{}
	h := NewHealer(store, WithFlusher(&fakeFlusher{}), WithConnPool(&fakePool{expired: 3}))

	results := h.ExecuteRecommended(context.Background(), []string{ActionFlushLogBuffer, ActionClearStaleConnections, "bogus"})
	assert.Equal(t, map[string]bool{
		ActionFlushLogBuffer:        true,
		ActionClearStaleConnections: true,
		"bogus":                     false,
	}, results)
}

// ============================================================================
// INDIVIDUAL ACTIONS
// ============================================================================

func TestHealer_RestartSkill(t *testing.T) {
	store := &memAuditStore{}
	errored := erroredSkill("broken")
	restarter := &fakeRestarter{skills: []skill.Skill{errored}, succeed: true}
	h := NewHealer(store, WithRestarter(restarter))

	assert.True(t, h.ExecuteAction(context.Background(), ActionRestartSkill, "test"))
	assert.Equal(t, skill.StatusReady, errored.Status())
	assert.Equal(t, "broken", store.last().Details["skill"])
}

func TestHealer_RestartSkill_NothingErrored(t *testing.T) {
	store := &memAuditStore{}
	ready := skill.NewBaseSkill(skill.Metadata{Name: "fine"})
	ready.SetStatus(skill.StatusReady)
	h := NewHealer(store, WithRestarter(&fakeRestarter{skills: []skill.Skill{ready}}))

	assert.False(t, h.ExecuteAction(context.Background(), ActionRestartSkill, "test"))
	assert.Equal(t, HealingFailed, store.last().Result)
}

func TestHealer_AdjustRateLimits_DoublesAndCaps(t *testing.T) {
	store := &memAuditStore{}
	sched := &fakeScheduler{interval: 300 * time.Second}
	h := NewHealer(store, WithScheduler(sched))
	h.Cooldown = 0
	ctx := context.Background()

	assert.True(t, h.ExecuteAction(ctx, ActionAdjustRateLimits, "test"))
	assert.Equal(t, 600*time.Second, sched.interval)

	assert.True(t, h.ExecuteAction(ctx, ActionAdjustRateLimits, "test"))
	assert.Equal(t, 1200*time.Second, sched.interval)

	// Doubling saturates at the ceiling.
	assert.True(t, h.ExecuteAction(ctx, ActionAdjustRateLimits, "test"))
	assert.Equal(t, 1800*time.Second, sched.interval)
	assert.True(t, h.ExecuteAction(ctx, ActionAdjustRateLimits, "test"))
	assert.Equal(t, 1800*time.Second, sched.interval)
}

func TestHealer_WarmModels_PartialFailure(t *testing.T) {
	store := &memAuditStore{}
	warmer := &fakeWarmer{
		models: []string{"llama3", "phi3"},
		failed: map[string]bool{"phi3": true},
	}
	h := NewHealer(store, WithWarmer(warmer))

	// A partial warm still counts as success; the details carry the split.
	assert.True(t, h.ExecuteAction(context.Background(), ActionWarmLLMModels, "test"))
	assert.Equal(t, []string{"llama3"}, warmer.warmed)
	assert.Equal(t, 2, store.last().Details["models"])
	assert.Equal(t, 1, store.last().Details["warmed"])
}

func TestHealer_MissingCollaborator(t *testing.T) {
	store := &memAuditStore{}
	h := NewHealer(store) // nothing wired

	for _, action := range []string{
		ActionRestartSkill,
		ActionClearStaleConnections,
		ActionVacuumDatabases,
		ActionWarmLLMModels,
		ActionAdjustRateLimits,
		ActionFlushLogBuffer,
	} {
		assert.False(t, h.ExecuteAction(context.Background(), action, "test"), action)
	}
}
