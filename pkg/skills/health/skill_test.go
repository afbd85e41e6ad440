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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetherion/zetherion/pkg/health"
	"github.com/zetherion/zetherion/pkg/skill"
)

// fakeStore records every persistence call in order.
type fakeStore struct {
	calls []string

	snapshots []*health.Snapshot
	baseline  []map[string]any

	reports   map[string]*health.DailyReport
	incidents []string
	resolved  []string

	pruneCutoff time.Time
	audit       []health.HealingRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{reports: make(map[string]*health.DailyReport)}
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, id string, snap *health.Snapshot) error {
	f.calls = append(f.calls, "save_snapshot")
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeStore) SnapshotsSince(ctx context.Context, cutoff time.Time) ([]map[string]any, error) {
	f.calls = append(f.calls, "snapshots_since")
	return f.baseline, nil
}

func (f *fakeStore) FullSnapshotsSince(ctx context.Context, cutoff time.Time) ([]*health.Snapshot, error) {
	f.calls = append(f.calls, "full_snapshots_since")
	return f.snapshots, nil
}

func (f *fakeStore) SaveDailyReport(ctx context.Context, report *health.DailyReport) error {
	f.calls = append(f.calls, "save_daily_report")
	f.reports[report.Date] = report
	return nil
}

func (f *fakeStore) GetDailyReport(ctx context.Context, date string) (*health.DailyReport, error) {
	return f.reports[date], nil
}

func (f *fakeStore) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	f.calls = append(f.calls, "prune_snapshots")
	f.pruneCutoff = cutoff
	return 3, nil
}

func (f *fakeStore) OpenIncident(ctx context.Context, metricPath string, severity health.Severity) error {
	f.incidents = append(f.incidents, metricPath)
	return nil
}

func (f *fakeStore) ResolveIncidents(ctx context.Context, stillAnomalous map[string]bool, resolution string) error {
	f.resolved = append(f.resolved, resolution)
	return nil
}

// The healer audit surface, so a real healer can be wired in tests.
func (f *fakeStore) RecordHealingAction(ctx context.Context, rec health.HealingRecord) error {
	f.audit = append(f.audit, rec)
	return nil
}

func (f *fakeStore) LastHealingAction(ctx context.Context, actionType string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func newTestSkill(store *fakeStore, owner string, opts ...Option) *Skill {
	collector := health.NewCollector(nil, nil, nil)
	return New(collector, health.NewAnalyzer(), health.NewHealer(store), store, owner, opts...)
}

// steadyBaseline yields enough identical snapshots to arm the analyzer.
func steadyBaseline(metrics map[string]any, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = metrics
	}
	return out
}

func beat(t *testing.T, s *Skill, n int) []skill.HeartbeatAction {
	t.Helper()
	var last []skill.HeartbeatAction
	for i := 0; i < n; i++ {
		actions, err := s.OnHeartbeat(context.Background(), nil)
		require.NoError(t, err)
		last = actions
	}
	return last
}

// ============================================================================
// HEARTBEAT CADENCE
// ============================================================================

func TestInitialize_RequiresStore(t *testing.T) {
	s := New(health.NewCollector(nil, nil, nil), health.NewAnalyzer(), nil, nil, "")
	require.Error(t, s.Initialize(context.Background()))

	s = newTestSkill(newFakeStore(), "")
	require.NoError(t, s.Initialize(context.Background()))
}

func TestOnHeartbeat_CollectsEveryBeat(t *testing.T) {
	store := newFakeStore()
	s := newTestSkill(store, "")

	beat(t, s, 5)

	// Five collect-and-save beats, no analysis yet.
	assert.Len(t, store.snapshots, 5)
	for _, call := range store.calls {
		assert.Equal(t, "save_snapshot", call)
	}
}

func TestOnHeartbeat_SixthBeatAnalyzes(t *testing.T) {
	store := newFakeStore()
	store.baseline = steadyBaseline(map[string]any{}, 2)
	s := newTestSkill(store, "")

	beat(t, s, 6)

	// The baseline read comes before the sixth snapshot is persisted, so the
	// current metrics never score against themselves.
	require.Len(t, store.calls, 7)
	assert.Equal(t, "snapshots_since", store.calls[5])
	assert.Equal(t, "save_snapshot", store.calls[6])

	// An empty baseline resolves whatever incidents are open and nothing else.
	assert.Equal(t, []string{"metric back within baseline"}, store.resolved)
}

func TestOnHeartbeat_CriticalAnomalyNotifiesOwner(t *testing.T) {
	store := newFakeStore()
	s := newTestSkill(store, "owner-1")

	// The live collector reports zero rate limits; a baseline steady at 50
	// with slight variance makes the current value a critical deviation.
	var baseline []map[string]any
	for i := 0; i < 6; i++ {
		baseline = append(baseline, map[string]any{
			"reliability": map[string]any{"rate_limit_count": 50.0 + float64(i%2)},
		})
	}
	store.baseline = baseline

	actions := beat(t, s, 6)

	require.Len(t, actions, 1)
	assert.Equal(t, "send_message", actions[0].ActionType)
	assert.Equal(t, SkillName, actions[0].SkillName)
	assert.Equal(t, "owner-1", actions[0].UserID)
	assert.Equal(t, criticalPriority, actions[0].Priority)
	assert.Contains(t, actions[0].Data["message"], "Critical health anomaly")

	assert.Equal(t, []string{"reliability.rate_limit_count"}, store.incidents)
}

func TestOnHeartbeat_CriticalWithoutOwnerStaysQuiet(t *testing.T) {
	store := newFakeStore()
	s := newTestSkill(store, "")

	var baseline []map[string]any
	for i := 0; i < 6; i++ {
		baseline = append(baseline, map[string]any{
			"reliability": map[string]any{"rate_limit_count": 50.0 + float64(i%2)},
		})
	}
	store.baseline = baseline

	actions := beat(t, s, 6)
	assert.Nil(t, actions)

	// The incident is still recorded even though nobody is notified.
	assert.NotEmpty(t, store.incidents)
}

func TestOnHeartbeat_DailyReportBeat(t *testing.T) {
	store := newFakeStore()
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s := newTestSkill(store, "", WithRetentionDays(3))
	s.now = func() time.Time { return fixed }

	beat(t, s, reportEveryBeats)

	report, ok := store.reports["2026-08-24"]
	require.True(t, ok, "expected a daily report for the fixed date")
	assert.Equal(t, reportEveryBeats, report.SnapshotCount)

	assert.Equal(t, fixed.Add(-3*24*time.Hour), store.pruneCutoff)
}

// ============================================================================
// INTENTS
// ============================================================================

func TestHandleStatus(t *testing.T) {
	store := newFakeStore()
	s := newTestSkill(store, "")

	// Before any beat the status collects on demand.
	resp, err := s.handleStatus(context.Background(), skill.NewRequest("u1", "health_status", ""))
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.NotNil(t, resp.Data["metrics"])
	assert.Equal(t, false, resp.Data["has_critical"])

	beat(t, s, 1)
	resp, err = s.handleStatus(context.Background(), skill.NewRequest("u1", "health_status", ""))
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestHandleReport_GeneratesOnDemand(t *testing.T) {
	store := newFakeStore()
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s := newTestSkill(store, "")
	s.now = func() time.Time { return fixed }

	beat(t, s, 2)

	resp, err := s.handleReport(context.Background(), skill.NewRequest("u1", "health_report", ""))
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "2026-08-24", resp.Data["date"])
	assert.Equal(t, 2, resp.Data["snapshot_count"])

	// A stored report is served as-is, not regenerated.
	store.reports["2026-08-24"] = &health.DailyReport{Date: "2026-08-24", HealthScore: 42.0, SnapshotCount: 288}
	resp, err = s.handleReport(context.Background(), skill.NewRequest("u1", "health_report", ""))
	require.NoError(t, err)
	assert.Equal(t, 42.0, resp.Data["health_score"])
	assert.Equal(t, 288, resp.Data["snapshot_count"])
}
