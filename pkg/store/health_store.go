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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zetherion/zetherion/pkg/health"
)

const createSnapshotsSchemaSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
    id VARCHAR(255) PRIMARY KEY,
    collected_at TIMESTAMP NOT NULL,
    metrics_json TEXT NOT NULL,
    anomalies_json TEXT,
    warnings_json TEXT,
    collection_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0
)`

const createSnapshotsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_snapshots_collected_at ON snapshots(collected_at)`

const createDailyReportsSchemaSQL = `
CREATE TABLE IF NOT EXISTS daily_reports (
    report_date VARCHAR(10) PRIMARY KEY,
    health_score DOUBLE PRECISION NOT NULL,
    snapshot_count INTEGER NOT NULL,
    deductions_json TEXT,
    generated_at TIMESTAMP NOT NULL
)`

const createHealingActionsSchemaSQL = `
CREATE TABLE IF NOT EXISTS healing_actions (
    id VARCHAR(255) PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    action_type VARCHAR(50) NOT NULL,
    trigger_reason TEXT,
    result VARCHAR(20) NOT NULL,
    details_json TEXT
)`

const createHealingActionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_healing_actions_type_time ON healing_actions(action_type, created_at)`

const createIncidentsSchemaSQL = `
CREATE TABLE IF NOT EXISTS incidents (
    id VARCHAR(255) PRIMARY KEY,
    metric_path VARCHAR(255) NOT NULL,
    severity VARCHAR(20) NOT NULL,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP,
    resolution TEXT
)`

const createUpdateHistorySchemaSQL = `
CREATE TABLE IF NOT EXISTS update_history (
    id VARCHAR(255) PRIMARY KEY,
    from_version VARCHAR(50) NOT NULL,
    to_version VARCHAR(50) NOT NULL,
    result VARCHAR(20) NOT NULL,
    details TEXT,
    created_at TIMESTAMP NOT NULL
)`

// HealthStore persists snapshots, daily reports, the healing audit trail,
// incidents, and update history. It satisfies health.AuditStore.
type HealthStore struct {
	db *DB
}

func NewHealthStore(db *DB) (*HealthStore, error) {
	s := &HealthStore{db: db}
	if err := db.initSchema([]string{
		createSnapshotsSchemaSQL,
		createSnapshotsIndexSQL,
		createDailyReportsSchemaSQL,
		createHealingActionsSchemaSQL,
		createHealingActionsIndexSQL,
		createIncidentsSchemaSQL,
		createUpdateHistorySchemaSQL,
	}); err != nil {
		return nil, fmt.Errorf("init health schema: %w", err)
	}
	return s, nil
}

// ============================================================================
// SNAPSHOTS
// ============================================================================

// SaveSnapshot persists one immutable snapshot.
func (s *HealthStore) SaveSnapshot(ctx context.Context, id string, snap *health.Snapshot) error {
	metricsJSON, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	var anomaliesJSON, warningsJSON []byte
	if snap.Anomalies != nil {
		anomaliesJSON, _ = json.Marshal(snap.Anomalies)
	}
	if snap.Warnings != nil {
		warningsJSON, _ = json.Marshal(snap.Warnings)
	}

	query := s.db.rebind(
		`INSERT INTO snapshots (id, collected_at, metrics_json, anomalies_json, warnings_json, collection_time_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		id, snap.Timestamp, string(metricsJSON), string(anomaliesJSON), string(warningsJSON), snap.CollectionTimeMS); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// SnapshotsSince returns the metrics trees of snapshots collected at or
// after the cutoff, oldest first. Used as the analyzer baseline.
func (s *HealthStore) SnapshotsSince(ctx context.Context, cutoff time.Time) ([]map[string]any, error) {
	query := s.db.rebind(
		`SELECT metrics_json FROM snapshots WHERE collected_at >= ? ORDER BY collected_at`)

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var metricsJSON string
		if err := rows.Scan(&metricsJSON); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var metrics map[string]any
		if err := json.Unmarshal([]byte(metricsJSON), &metrics); err != nil {
			continue // skip unreadable rows rather than poisoning the baseline
		}
		out = append(out, metrics)
	}
	return out, rows.Err()
}

// FullSnapshotsSince returns complete snapshots for daily reporting.
func (s *HealthStore) FullSnapshotsSince(ctx context.Context, cutoff time.Time) ([]*health.Snapshot, error) {
	query := s.db.rebind(
		`SELECT collected_at, metrics_json, collection_time_ms FROM snapshots WHERE collected_at >= ? ORDER BY collected_at`)

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []*health.Snapshot
	for rows.Next() {
		snap := &health.Snapshot{}
		var metricsJSON string
		if err := rows.Scan(&snap.Timestamp, &metricsJSON, &snap.CollectionTimeMS); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &snap.Metrics); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneSnapshots deletes snapshots older than the cutoff and returns the
// number removed.
func (s *HealthStore) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.db.rebind(`DELETE FROM snapshots WHERE collected_at < ?`)
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ============================================================================
// DAILY REPORTS
// ============================================================================

// SaveDailyReport upserts the report for its date (dates are unique).
func (s *HealthStore) SaveDailyReport(ctx context.Context, report *health.DailyReport) error {
	deductionsJSON, err := json.Marshal(report.Deductions)
	if err != nil {
		return fmt.Errorf("marshal deductions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleteQ := s.db.rebind(`DELETE FROM daily_reports WHERE report_date = ?`)
	if _, err := tx.ExecContext(ctx, deleteQ, report.Date); err != nil {
		return fmt.Errorf("replace daily report: %w", err)
	}
	insertQ := s.db.rebind(
		`INSERT INTO daily_reports (report_date, health_score, snapshot_count, deductions_json, generated_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertQ,
		report.Date, report.HealthScore, report.SnapshotCount, string(deductionsJSON), report.GeneratedAt); err != nil {
		return fmt.Errorf("insert daily report: %w", err)
	}
	return tx.Commit()
}

// GetDailyReport returns (nil, nil) when absent.
func (s *HealthStore) GetDailyReport(ctx context.Context, date string) (*health.DailyReport, error) {
	query := s.db.rebind(
		`SELECT health_score, snapshot_count, deductions_json, generated_at FROM daily_reports WHERE report_date = ?`)

	report := &health.DailyReport{Date: date}
	var deductionsJSON string
	err := s.db.QueryRowContext(ctx, query, date).Scan(
		&report.HealthScore, &report.SnapshotCount, &deductionsJSON, &report.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query daily_reports: %w", err)
	}
	_ = json.Unmarshal([]byte(deductionsJSON), &report.Deductions)
	return report, nil
}

// ============================================================================
// HEALING AUDIT (health.AuditStore)
// ============================================================================

func (s *HealthStore) RecordHealingAction(ctx context.Context, rec health.HealingRecord) error {
	var detailsJSON []byte
	if rec.Details != nil {
		detailsJSON, _ = json.Marshal(rec.Details)
	}
	query := s.db.rebind(
		`INSERT INTO healing_actions (id, created_at, action_type, trigger_reason, result, details_json)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		newRowID(), rec.Timestamp, rec.ActionType, rec.Trigger, string(rec.Result), string(detailsJSON)); err != nil {
		return fmt.Errorf("insert healing action: %w", err)
	}
	return nil
}

// LastHealingAction returns the time of the most recent successful run of
// the action type. Failed attempts do not reset the cooldown window.
func (s *HealthStore) LastHealingAction(ctx context.Context, actionType string) (time.Time, bool, error) {
	query := s.db.rebind(
		`SELECT created_at FROM healing_actions
		 WHERE action_type = ? AND result = ? ORDER BY created_at DESC LIMIT 1`)

	var t time.Time
	err := s.db.QueryRowContext(ctx, query, actionType, string(health.HealingSuccess)).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query healing_actions: %w", err)
	}
	return t, true, nil
}

// ListHealingActions returns recent audit rows, newest first.
func (s *HealthStore) ListHealingActions(ctx context.Context, limit int) ([]health.HealingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.db.rebind(
		`SELECT created_at, action_type, trigger_reason, result, details_json
		 FROM healing_actions ORDER BY created_at DESC LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query healing_actions: %w", err)
	}
	defer rows.Close()

	var out []health.HealingRecord
	for rows.Next() {
		var rec health.HealingRecord
		var trigger, result, detailsJSON sql.NullString
		if err := rows.Scan(&rec.Timestamp, &rec.ActionType, &trigger, &result, &detailsJSON); err != nil {
			return nil, fmt.Errorf("scan healing action: %w", err)
		}
		rec.Trigger = trigger.String
		rec.Result = health.HealingResult(result.String)
		if detailsJSON.String != "" {
			_ = json.Unmarshal([]byte(detailsJSON.String), &rec.Details)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ============================================================================
// INCIDENTS
// ============================================================================

// OpenIncident records the start of a critical anomaly, unless one is
// already open for the same metric path.
func (s *HealthStore) OpenIncident(ctx context.Context, metricPath string, severity health.Severity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	selectQ := s.db.rebind(
		`SELECT COUNT(*) FROM incidents WHERE metric_path = ? AND ended_at IS NULL`)
	var open int
	if err := tx.QueryRowContext(ctx, selectQ, metricPath).Scan(&open); err != nil {
		return fmt.Errorf("query incidents: %w", err)
	}
	if open > 0 {
		return tx.Commit()
	}

	insertQ := s.db.rebind(
		`INSERT INTO incidents (id, metric_path, severity, started_at) VALUES (?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertQ, newRowID(), metricPath, string(severity), time.Now()); err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return tx.Commit()
}

// ResolveIncidents closes all open incidents whose metric path is no longer
// anomalous.
func (s *HealthStore) ResolveIncidents(ctx context.Context, stillAnomalous map[string]bool, resolution string) error {
	query := `SELECT id, metric_path FROM incidents WHERE ended_at IS NULL`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query incidents: %w", err)
	}
	var toClose []string
	for rows.Next() {
		var id string
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return fmt.Errorf("scan incident: %w", err)
		}
		if !stillAnomalous[path] {
			toClose = append(toClose, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	updateQ := s.db.rebind(`UPDATE incidents SET ended_at = ?, resolution = ? WHERE id = ?`)
	for _, id := range toClose {
		if _, err := s.db.ExecContext(ctx, updateQ, time.Now(), resolution, id); err != nil {
			return fmt.Errorf("resolve incident: %w", err)
		}
	}
	return nil
}

// ============================================================================
// UPDATE HISTORY
// ============================================================================

// RecordUpdate appends one update attempt.
func (s *HealthStore) RecordUpdate(ctx context.Context, fromVersion, toVersion, result, details string) error {
	query := s.db.rebind(
		`INSERT INTO update_history (id, from_version, to_version, result, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		newRowID(), fromVersion, toVersion, result, details, time.Now()); err != nil {
		return fmt.Errorf("insert update history: %w", err)
	}
	return nil
}
