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

	"github.com/zetherion/zetherion/pkg/trust"
)

const createTrustTypeSchemaSQL = `
CREATE TABLE IF NOT EXISTS trust_type_scores (
    user_id VARCHAR(255) NOT NULL,
    reply_type VARCHAR(100) NOT NULL,
    score DOUBLE PRECISION NOT NULL DEFAULT 0,
    approvals INTEGER NOT NULL DEFAULT 0,
    rejections INTEGER NOT NULL DEFAULT 0,
    edits INTEGER NOT NULL DEFAULT 0,
    total_interactions INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, reply_type)
)`

const createTrustContactSchemaSQL = `
CREATE TABLE IF NOT EXISTS trust_contact_scores (
    user_id VARCHAR(255) NOT NULL,
    contact VARCHAR(255) NOT NULL,
    score DOUBLE PRECISION NOT NULL DEFAULT 0,
    approvals INTEGER NOT NULL DEFAULT 0,
    rejections INTEGER NOT NULL DEFAULT 0,
    edits INTEGER NOT NULL DEFAULT 0,
    total_interactions INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, contact)
)`

const createPoliciesSchemaSQL = `
CREATE TABLE IF NOT EXISTS action_policies (
    user_id VARCHAR(255) NOT NULL,
    domain VARCHAR(100) NOT NULL,
    action VARCHAR(100) NOT NULL,
    mode VARCHAR(20) NOT NULL,
    trust_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    conditions_json TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, domain, action)
)`

// TrustStore implements trust.Store and trust.PolicyStore over SQL.
type TrustStore struct {
	db *DB
}

func NewTrustStore(db *DB) (*TrustStore, error) {
	s := &TrustStore{db: db}
	if err := db.initSchema([]string{
		createTrustTypeSchemaSQL,
		createTrustContactSchemaSQL,
		createPoliciesSchemaSQL,
	}); err != nil {
		return nil, fmt.Errorf("init trust schema: %w", err)
	}
	return s, nil
}

// ============================================================================
// LEDGER ROWS
// ============================================================================

func (s *TrustStore) GetTypeTrust(ctx context.Context, userID, replyType string) (trust.Score, error) {
	return s.getScore(ctx, "trust_type_scores", "reply_type", userID, replyType)
}

func (s *TrustStore) GetContactTrust(ctx context.Context, userID, contact string) (trust.Score, error) {
	return s.getScore(ctx, "trust_contact_scores", "contact", userID, contact)
}

// getScore reads one ledger row; absent rows are zero trust, not an error.
func (s *TrustStore) getScore(ctx context.Context, table, keyCol, userID, key string) (trust.Score, error) {
	query := s.db.rebind(fmt.Sprintf(
		`SELECT score, approvals, rejections, edits, total_interactions
		 FROM %s WHERE user_id = ? AND %s = ?`, table, keyCol))

	var score trust.Score
	err := s.db.QueryRowContext(ctx, query, userID, key).Scan(
		&score.Score, &score.Approvals, &score.Rejections, &score.Edits, &score.TotalInteractions)
	if err == sql.ErrNoRows {
		return trust.Score{}, nil
	}
	if err != nil {
		return trust.Score{}, fmt.Errorf("query %s: %w", table, err)
	}
	return score, nil
}

func (s *TrustStore) ApplyTypeFeedback(ctx context.Context, userID, replyType string, delta, cap float64, outcome trust.Outcome) (trust.Score, error) {
	return s.applyFeedback(ctx, "trust_type_scores", "reply_type", userID, replyType, delta, cap, outcome)
}

func (s *TrustStore) ApplyContactFeedback(ctx context.Context, userID, contact string, delta, cap float64, outcome trust.Outcome) (trust.Score, error) {
	return s.applyFeedback(ctx, "trust_contact_scores", "contact", userID, contact, delta, cap, outcome)
}

// applyFeedback upserts one ledger row inside a transaction so the clamp and
// the counter increments are atomic per key.
func (s *TrustStore) applyFeedback(ctx context.Context, table, keyCol, userID, key string, delta, cap float64, outcome trust.Outcome) (trust.Score, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trust.Score{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	selectQ := s.db.rebind(fmt.Sprintf(
		`SELECT score, approvals, rejections, edits, total_interactions
		 FROM %s WHERE user_id = ? AND %s = ?`, table, keyCol))

	var score trust.Score
	exists := true
	err = tx.QueryRowContext(ctx, selectQ, userID, key).Scan(
		&score.Score, &score.Approvals, &score.Rejections, &score.Edits, &score.TotalInteractions)
	if err == sql.ErrNoRows {
		exists = false
	} else if err != nil {
		return trust.Score{}, fmt.Errorf("query %s: %w", table, err)
	}

	score.Score = score.Score + delta
	if score.Score < 0 {
		score.Score = 0
	}
	if score.Score > cap {
		score.Score = cap
	}
	score.TotalInteractions++
	switch outcome {
	case trust.OutcomeApproved:
		score.Approvals++
	case trust.OutcomeRejected:
		score.Rejections++
	case trust.OutcomeMinorEdit, trust.OutcomeMajorEdit:
		score.Edits++
	}

	now := time.Now()
	if exists {
		updateQ := s.db.rebind(fmt.Sprintf(
			`UPDATE %s SET score = ?, approvals = ?, rejections = ?, edits = ?,
			 total_interactions = ?, updated_at = ? WHERE user_id = ? AND %s = ?`, table, keyCol))
		_, err = tx.ExecContext(ctx, updateQ,
			score.Score, score.Approvals, score.Rejections, score.Edits,
			score.TotalInteractions, now, userID, key)
	} else {
		insertQ := s.db.rebind(fmt.Sprintf(
			`INSERT INTO %s (user_id, %s, score, approvals, rejections, edits, total_interactions, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table, keyCol))
		_, err = tx.ExecContext(ctx, insertQ,
			userID, key, score.Score, score.Approvals, score.Rejections, score.Edits,
			score.TotalInteractions, now)
	}
	if err != nil {
		return trust.Score{}, fmt.Errorf("upsert %s: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return trust.Score{}, fmt.Errorf("commit: %w", err)
	}
	return score, nil
}

// ============================================================================
// POLICIES
// ============================================================================

func (s *TrustStore) GetPolicy(ctx context.Context, userID, domain, action string) (*trust.Policy, error) {
	query := s.db.rebind(
		`SELECT mode, trust_score, conditions_json
		 FROM action_policies WHERE user_id = ? AND domain = ? AND action = ?`)

	var mode string
	var trustScore float64
	var conditionsJSON sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID, domain, action).Scan(&mode, &trustScore, &conditionsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query action_policies: %w", err)
	}

	policy := &trust.Policy{
		UserID:     userID,
		Domain:     domain,
		Action:     action,
		Mode:       trust.PolicyMode(mode),
		TrustScore: trustScore,
	}
	if conditionsJSON.Valid && conditionsJSON.String != "" {
		// Unknown or malformed conditions are ignored, not fatal.
		_ = json.Unmarshal([]byte(conditionsJSON.String), &policy.Conditions)
	}
	return policy, nil
}

// SetPolicy creates or replaces a policy row.
func (s *TrustStore) SetPolicy(ctx context.Context, policy *trust.Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var conditionsJSON []byte
	if policy.Conditions != nil {
		conditionsJSON, err = json.Marshal(policy.Conditions)
		if err != nil {
			return fmt.Errorf("marshal conditions: %w", err)
		}
	}

	deleteQ := s.db.rebind(`DELETE FROM action_policies WHERE user_id = ? AND domain = ? AND action = ?`)
	if _, err := tx.ExecContext(ctx, deleteQ, policy.UserID, policy.Domain, policy.Action); err != nil {
		return fmt.Errorf("replace policy: %w", err)
	}
	insertQ := s.db.rebind(
		`INSERT INTO action_policies (user_id, domain, action, mode, trust_score, conditions_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertQ,
		policy.UserID, policy.Domain, policy.Action, string(policy.Mode),
		policy.TrustScore, string(conditionsJSON), time.Now()); err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return tx.Commit()
}

// UpdatePolicyTrust adjusts a policy's trust atomically, clamped to [0, cap].
// Missing policies are an error: outcomes only make sense against a policy.
func (s *TrustStore) UpdatePolicyTrust(ctx context.Context, userID, domain, action string, delta, cap float64) (float64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	selectQ := s.db.rebind(
		`SELECT trust_score FROM action_policies WHERE user_id = ? AND domain = ? AND action = ?`)
	var score float64
	err = tx.QueryRowContext(ctx, selectQ, userID, domain, action).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no policy for (%s, %s, %s)", userID, domain, action)
	}
	if err != nil {
		return 0, fmt.Errorf("query action_policies: %w", err)
	}

	score += delta
	if score < 0 {
		score = 0
	}
	if score > cap {
		score = cap
	}

	updateQ := s.db.rebind(
		`UPDATE action_policies SET trust_score = ?, updated_at = ? WHERE user_id = ? AND domain = ? AND action = ?`)
	if _, err := tx.ExecContext(ctx, updateQ, score, time.Now(), userID, domain, action); err != nil {
		return 0, fmt.Errorf("update policy trust: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return score, nil
}
