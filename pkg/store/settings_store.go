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
	"fmt"
	"time"
)

const createSettingsSchemaSQL = `
CREATE TABLE IF NOT EXISTS settings (
    namespace VARCHAR(100) NOT NULL,
    setting_key VARCHAR(255) NOT NULL,
    setting_value TEXT NOT NULL,
    data_type VARCHAR(20) NOT NULL DEFAULT 'string',
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (namespace, setting_key)
)`

// SettingRow is one stored setting. The value is stored as text and coerced
// by the settings manager on read.
type SettingRow struct {
	Namespace string
	Key       string
	Value     string
	DataType  string
	UpdatedAt time.Time
}

// SettingsStore persists raw setting rows. Namespace validation and type
// coercion live in the settings manager.
type SettingsStore struct {
	db *DB
}

func NewSettingsStore(db *DB) (*SettingsStore, error) {
	s := &SettingsStore{db: db}
	if err := db.initSchema([]string{createSettingsSchemaSQL}); err != nil {
		return nil, fmt.Errorf("init settings schema: %w", err)
	}
	return s, nil
}

// GetSetting returns (nil, nil) when the key is absent.
func (s *SettingsStore) GetSetting(ctx context.Context, namespace, key string) (*SettingRow, error) {
	query := s.db.rebind(
		`SELECT setting_value, data_type, updated_at
		 FROM settings WHERE namespace = ? AND setting_key = ?`)

	row := &SettingRow{Namespace: namespace, Key: key}
	err := s.db.QueryRowContext(ctx, query, namespace, key).Scan(&row.Value, &row.DataType, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	return row, nil
}

// ListSettings returns all rows in a namespace.
func (s *SettingsStore) ListSettings(ctx context.Context, namespace string) ([]SettingRow, error) {
	query := s.db.rebind(
		`SELECT setting_key, setting_value, data_type, updated_at
		 FROM settings WHERE namespace = ? ORDER BY setting_key`)

	rows, err := s.db.QueryContext(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	var out []SettingRow
	for rows.Next() {
		row := SettingRow{Namespace: namespace}
		if err := rows.Scan(&row.Key, &row.Value, &row.DataType, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// PutSetting upserts one row.
func (s *SettingsStore) PutSetting(ctx context.Context, namespace, key, value, dataType string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleteQ := s.db.rebind(`DELETE FROM settings WHERE namespace = ? AND setting_key = ?`)
	if _, err := tx.ExecContext(ctx, deleteQ, namespace, key); err != nil {
		return fmt.Errorf("replace setting: %w", err)
	}
	insertQ := s.db.rebind(
		`INSERT INTO settings (namespace, setting_key, setting_value, data_type, updated_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertQ, namespace, key, value, dataType, time.Now()); err != nil {
		return fmt.Errorf("insert setting: %w", err)
	}
	return tx.Commit()
}

// DeleteSetting removes one row; deleting an absent key is not an error.
func (s *SettingsStore) DeleteSetting(ctx context.Context, namespace, key string) error {
	query := s.db.rebind(`DELETE FROM settings WHERE namespace = ? AND setting_key = ?`)
	if _, err := s.db.ExecContext(ctx, query, namespace, key); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}
