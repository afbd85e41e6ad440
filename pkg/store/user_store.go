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

	"github.com/google/uuid"
)

const createUsersSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    user_id VARCHAR(255) PRIMARY KEY,
    role VARCHAR(20) NOT NULL,
    display_name VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createUserAuditSchemaSQL = `
CREATE TABLE IF NOT EXISTS user_audit (
    id VARCHAR(255) PRIMARY KEY,
    action VARCHAR(50) NOT NULL,
    target VARCHAR(255) NOT NULL,
    performed_by VARCHAR(255) NOT NULL,
    old_role VARCHAR(20),
    new_role VARCHAR(20),
    reason TEXT,
    created_at TIMESTAMP NOT NULL
)`

// UserRow is one stored user.
type UserRow struct {
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserAuditRow is one append-only RBAC audit record.
type UserAuditRow struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Target      string    `json:"target"`
	PerformedBy string    `json:"performed_by"`
	OldRole     string    `json:"old_role,omitempty"`
	NewRole     string    `json:"new_role,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserStore persists users and their audit trail.
type UserStore struct {
	db *DB
}

func NewUserStore(db *DB) (*UserStore, error) {
	s := &UserStore{db: db}
	if err := db.initSchema([]string{createUsersSchemaSQL, createUserAuditSchemaSQL}); err != nil {
		return nil, fmt.Errorf("init user schema: %w", err)
	}
	return s, nil
}

// GetUser returns (nil, nil) when absent.
func (s *UserStore) GetUser(ctx context.Context, userID string) (*UserRow, error) {
	query := s.db.rebind(
		`SELECT user_id, role, display_name, created_at, updated_at FROM users WHERE user_id = ?`)

	row := &UserRow{}
	var displayName sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&row.UserID, &row.Role, &displayName, &row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	row.DisplayName = displayName.String
	return row, nil
}

// ListUsers returns all users ordered by creation time.
func (s *UserStore) ListUsers(ctx context.Context) ([]UserRow, error) {
	query := `SELECT user_id, role, display_name, created_at, updated_at FROM users ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []UserRow
	for rows.Next() {
		var row UserRow
		var displayName sql.NullString
		if err := rows.Scan(&row.UserID, &row.Role, &displayName, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		row.DisplayName = displayName.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// PutUser upserts one user row.
func (s *UserStore) PutUser(ctx context.Context, user *UserRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	selectQ := s.db.rebind(`SELECT created_at FROM users WHERE user_id = ?`)
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, selectQ, user.UserID).Scan(&createdAt)
	switch {
	case err == sql.ErrNoRows:
		insertQ := s.db.rebind(
			`INSERT INTO users (user_id, role, display_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insertQ, user.UserID, user.Role, user.DisplayName, now, now); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
	case err != nil:
		return fmt.Errorf("query users: %w", err)
	default:
		updateQ := s.db.rebind(
			`UPDATE users SET role = ?, display_name = ?, updated_at = ? WHERE user_id = ?`)
		if _, err := tx.ExecContext(ctx, updateQ, user.Role, user.DisplayName, now, user.UserID); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteUser removes one user.
func (s *UserStore) DeleteUser(ctx context.Context, userID string) error {
	query := s.db.rebind(`DELETE FROM users WHERE user_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// AppendAudit records one RBAC mutation or refused attempt.
func (s *UserStore) AppendAudit(ctx context.Context, rec *UserAuditRow) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := s.db.rebind(
		`INSERT INTO user_audit (id, action, target, performed_by, old_role, new_role, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Action, rec.Target, rec.PerformedBy, rec.OldRole, rec.NewRole, rec.Reason, rec.CreatedAt); err != nil {
		return fmt.Errorf("append user audit: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit rows, newest first.
func (s *UserStore) ListAudit(ctx context.Context, limit int) ([]UserAuditRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.db.rebind(
		`SELECT id, action, target, performed_by, old_role, new_role, reason, created_at
		 FROM user_audit ORDER BY created_at DESC LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query user_audit: %w", err)
	}
	defer rows.Close()

	var out []UserAuditRow
	for rows.Next() {
		var rec UserAuditRow
		var oldRole, newRole, reason sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.Target, &rec.PerformedBy, &oldRole, &newRole, &reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		rec.OldRole, rec.NewRole, rec.Reason = oldRole.String, newRole.String, reason.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
