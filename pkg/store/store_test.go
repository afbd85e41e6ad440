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

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetherion/zetherion/pkg/health"
	"github.com/zetherion/zetherion/pkg/trust"
)

// testDB opens a throwaway SQLite database under the test's temp dir.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_UnsupportedDialect(t *testing.T) {
	_, err := Open("oracle", "dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dialect")
}

func TestRebind(t *testing.T) {
	sqlite := Wrap(nil, "sqlite3")
	assert.Equal(t, "sqlite", sqlite.Dialect())
	assert.Equal(t, "SELECT ? WHERE a = ?", sqlite.rebind("SELECT ? WHERE a = ?"))

	pg := Wrap(nil, "postgres")
	assert.Equal(t, "SELECT $1 WHERE a = $2", pg.rebind("SELECT ? WHERE a = ?"))
}

// ============================================================================
// SETTINGS
// ============================================================================

func TestSettingsStore_Roundtrip(t *testing.T) {
	s, err := NewSettingsStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	row, err := s.GetSetting(ctx, "tuning", "missing")
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, s.PutSetting(ctx, "tuning", "threshold", "0.85", "float"))
	row, err = s.GetSetting(ctx, "tuning", "threshold")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "0.85", row.Value)
	assert.Equal(t, "float", row.DataType)

	// Put replaces in place.
	require.NoError(t, s.PutSetting(ctx, "tuning", "threshold", "0.9", "float"))
	rows, err := s.ListSettings(ctx, "tuning")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0.9", rows[0].Value)

	require.NoError(t, s.DeleteSetting(ctx, "tuning", "threshold"))
	row, err = s.GetSetting(ctx, "tuning", "threshold")
	require.NoError(t, err)
	assert.Nil(t, row)

	// Deleting again is a no-op.
	require.NoError(t, s.DeleteSetting(ctx, "tuning", "threshold"))
}

func TestSettingsStore_ListScopedToNamespace(t *testing.T) {
	s, err := NewSettingsStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PutSetting(ctx, "models", "primary", "gpt-4o", "string"))
	require.NoError(t, s.PutSetting(ctx, "scheduler", "interval_seconds", "300", "int"))

	rows, err := s.ListSettings(ctx, "models")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "primary", rows[0].Key)
}

// ============================================================================
// USERS
// ============================================================================

func TestUserStore_UpsertPreservesCreatedAt(t *testing.T) {
	s, err := NewUserStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, &UserRow{UserID: "u1", Role: "user", DisplayName: "Alice"}))
	first, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.PutUser(ctx, &UserRow{UserID: "u1", Role: "admin"}))

	second, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "admin", second.Role)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt), "created_at must survive upsert")
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestUserStore_GetAbsent(t *testing.T) {
	s, err := NewUserStore(testDB(t))
	require.NoError(t, err)

	row, err := s.GetUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestUserStore_DeleteAndList(t *testing.T) {
	s, err := NewUserStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, &UserRow{UserID: "u1", Role: "owner"}))
	require.NoError(t, s.PutUser(ctx, &UserRow{UserID: "u2", Role: "user"}))
	require.NoError(t, s.DeleteUser(ctx, "u2"))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].UserID)
}

func TestUserStore_AuditNewestFirst(t *testing.T) {
	s, err := NewUserStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, action := range []string{"bootstrap_owner", "assign_role", "refused"} {
		require.NoError(t, s.AppendAudit(ctx, &UserAuditRow{
			Action:      action,
			Target:      "u1",
			PerformedBy: "owner",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recs, err := s.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "refused", recs[0].Action)
	assert.Equal(t, "bootstrap_owner", recs[2].Action)
	assert.NotEmpty(t, recs[0].ID)

	// Limit caps the window.
	recs, err = s.ListAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "refused", recs[0].Action)
}

// ============================================================================
// TRUST
// ============================================================================

func TestTrustStore_FeedbackClampAndCounters(t *testing.T) {
	s, err := NewTrustStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	// Absent rows read as zero trust.
	score, err := s.GetTypeTrust(ctx, "u1", "scheduling")
	require.NoError(t, err)
	assert.Equal(t, trust.Score{}, score)

	score, err = s.ApplyTypeFeedback(ctx, "u1", "scheduling", 0.05, 0.70, trust.OutcomeApproved)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, score.Score, 1e-9)
	assert.Equal(t, 1, score.Approvals)
	assert.Equal(t, 1, score.TotalInteractions)

	// The cap clamps exactly.
	for i := 0; i < 20; i++ {
		score, err = s.ApplyTypeFeedback(ctx, "u1", "scheduling", 0.05, 0.70, trust.OutcomeApproved)
		require.NoError(t, err)
	}
	assert.Equal(t, 0.70, score.Score)
	assert.Equal(t, 21, score.Approvals)

	// The floor clamps at zero and rejections are counted.
	score, err = s.ApplyTypeFeedback(ctx, "u1", "scheduling", -5.0, 0.70, trust.OutcomeRejected)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.Score)
	assert.Equal(t, 1, score.Rejections)

	// Edits land in their own counter.
	score, err = s.ApplyTypeFeedback(ctx, "u1", "scheduling", -0.02, 0.70, trust.OutcomeMinorEdit)
	require.NoError(t, err)
	assert.Equal(t, 1, score.Edits)

	// The written row reads back identically.
	read, err := s.GetTypeTrust(ctx, "u1", "scheduling")
	require.NoError(t, err)
	assert.Equal(t, score, read)
}

func TestTrustStore_ContactLedgerIsSeparate(t *testing.T) {
	s, err := NewTrustStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.ApplyContactFeedback(ctx, "u1", "boss@corp.example", 0.05, 0.95, trust.OutcomeApproved)
	require.NoError(t, err)

	typeScore, err := s.GetTypeTrust(ctx, "u1", "boss@corp.example")
	require.NoError(t, err)
	assert.Equal(t, 0, typeScore.TotalInteractions)

	contactScore, err := s.GetContactTrust(ctx, "u1", "boss@corp.example")
	require.NoError(t, err)
	assert.Equal(t, 1, contactScore.TotalInteractions)
}

func TestTrustStore_Policies(t *testing.T) {
	s, err := NewTrustStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	p, err := s.GetPolicy(ctx, "u1", "email", "send")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, s.SetPolicy(ctx, &trust.Policy{
		UserID: "u1", Domain: "email", Action: "send",
		Mode: trust.ModeDraft, TrustScore: 0.5,
		Conditions: map[string]any{"max_recipients": 3.0},
	}))

	p, err = s.GetPolicy(ctx, "u1", "email", "send")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, trust.ModeDraft, p.Mode)
	assert.Equal(t, 0.5, p.TrustScore)
	assert.Equal(t, 3.0, p.Conditions["max_recipients"])

	// SetPolicy replaces.
	require.NoError(t, s.SetPolicy(ctx, &trust.Policy{
		UserID: "u1", Domain: "email", Action: "send", Mode: trust.ModeAuto, TrustScore: 0.9,
	}))
	p, err = s.GetPolicy(ctx, "u1", "email", "send")
	require.NoError(t, err)
	assert.Equal(t, trust.ModeAuto, p.Mode)
	assert.Nil(t, p.Conditions)
}

func TestTrustStore_UpdatePolicyTrust(t *testing.T) {
	s, err := NewTrustStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	// Outcomes against an absent policy are an error.
	_, err = s.UpdatePolicyTrust(ctx, "u1", "email", "send", 0.05, 0.95)
	require.Error(t, err)

	require.NoError(t, s.SetPolicy(ctx, &trust.Policy{
		UserID: "u1", Domain: "email", Action: "send", Mode: trust.ModeDraft, TrustScore: 0.92,
	}))

	score, err := s.UpdatePolicyTrust(ctx, "u1", "email", "send", 0.05, 0.95)
	require.NoError(t, err)
	assert.Equal(t, 0.95, score)

	score, err = s.UpdatePolicyTrust(ctx, "u1", "email", "send", -2, 0.95)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

// ============================================================================
// HEALTH
// ============================================================================

func TestHealthStore_SnapshotsSinceAndPrune(t *testing.T) {
	s, err := NewHealthStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 4; i++ {
		snap := &health.Snapshot{
			Timestamp: now.Add(time.Duration(i-3) * time.Hour),
			Metrics:   map[string]any{"seq": map[string]any{"n": float64(i)}},
			Warnings:  []string{"w"},
		}
		require.NoError(t, s.SaveSnapshot(ctx, newRowID(), snap))
	}

	// Only the last two fall inside the window, oldest first.
	metrics, err := s.SnapshotsSince(ctx, now.Add(-90*time.Minute))
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	seq := metrics[0]["seq"].(map[string]any)
	assert.Equal(t, 2.0, seq["n"])

	full, err := s.FullSnapshotsSince(ctx, now.Add(-90*time.Minute))
	require.NoError(t, err)
	require.Len(t, full, 2)
	assert.NotNil(t, full[0].Metrics)

	pruned, err := s.PruneSnapshots(ctx, now.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	remaining, err := s.SnapshotsSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestHealthStore_DailyReportUpsert(t *testing.T) {
	s, err := NewHealthStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	report, err := s.GetDailyReport(ctx, "2026-08-24")
	require.NoError(t, err)
	assert.Nil(t, report)

	require.NoError(t, s.SaveDailyReport(ctx, &health.DailyReport{
		Date:          "2026-08-24",
		HealthScore:   91.5,
		SnapshotCount: 288,
		Deductions:    map[string]any{"rate limits": 8.5},
		GeneratedAt:   time.Now(),
	}))

	// A regenerated report replaces the day's row.
	require.NoError(t, s.SaveDailyReport(ctx, &health.DailyReport{
		Date:          "2026-08-24",
		HealthScore:   88.0,
		SnapshotCount: 288,
		GeneratedAt:   time.Now(),
	}))

	report, err = s.GetDailyReport(ctx, "2026-08-24")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 88.0, report.HealthScore)
	assert.Equal(t, 288, report.SnapshotCount)
}

func TestHealthStore_HealingAuditCooldownSemantics(t *testing.T) {
	s, err := NewHealthStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := s.LastHealingAction(ctx, "restart_skill")
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now()
	require.NoError(t, s.RecordHealingAction(ctx, health.HealingRecord{
		Timestamp:  now.Add(-10 * time.Minute),
		ActionType: "restart_skill",
		Trigger:    "skills.error_count",
		Result:     health.HealingSuccess,
		Details:    map[string]any{"skill": "health"},
	}))
	require.NoError(t, s.RecordHealingAction(ctx, health.HealingRecord{
		Timestamp:  now.Add(-1 * time.Minute),
		ActionType: "restart_skill",
		Trigger:    "skills.error_count",
		Result:     health.HealingFailed,
	}))

	// Failed attempts never advance the cooldown clock.
	last, ok, err := s.LastHealingAction(ctx, "restart_skill")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, now.Add(-10*time.Minute), last, time.Second)

	recs, err := s.ListHealingActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, health.HealingFailed, recs[0].Result)
	assert.Equal(t, "health", recs[1].Details["skill"])
}

func TestHealthStore_IncidentLifecycle(t *testing.T) {
	s, err := NewHealthStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.OpenIncident(ctx, "reliability.error_rate", health.SeverityCritical))
	// A second open for the same path dedupes.
	require.NoError(t, s.OpenIncident(ctx, "reliability.error_rate", health.SeverityCritical))
	require.NoError(t, s.OpenIncident(ctx, "system.memory_rss_mb", health.SeverityCritical))

	var open int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM incidents WHERE ended_at IS NULL`).Scan(&open))
	assert.Equal(t, 2, open)

	// The error rate recovered, the memory path is still anomalous.
	require.NoError(t, s.ResolveIncidents(ctx,
		map[string]bool{"system.memory_rss_mb": true}, "metric back within baseline"))

	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM incidents WHERE ended_at IS NULL`).Scan(&open))
	assert.Equal(t, 1, open)

	var resolution string
	require.NoError(t, s.db.QueryRow(
		`SELECT resolution FROM incidents WHERE metric_path = 'reliability.error_rate'`).Scan(&resolution))
	assert.Equal(t, "metric back within baseline", resolution)

	// Reopening a resolved path creates a fresh incident.
	require.NoError(t, s.OpenIncident(ctx, "reliability.error_rate", health.SeverityCritical))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM incidents WHERE ended_at IS NULL`).Scan(&open))
	assert.Equal(t, 2, open)
}

func TestHealthStore_UpdateHistory(t *testing.T) {
	s, err := NewHealthStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.RecordUpdate(ctx, "1.2.0", "1.3.0", "success", ""))
	require.NoError(t, s.RecordUpdate(ctx, "1.3.0", "1.4.0", "rolled_back", "validation failed"))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM update_history`).Scan(&count))
	assert.Equal(t, 2, count)
}
