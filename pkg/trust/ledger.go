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

package trust

import (
	"context"
	"fmt"
)

// DefaultAutoSendThreshold gates should-auto-send decisions.
const DefaultAutoSendThreshold = 0.85

// Store persists the two ledgers. Absent rows read as the zero Score.
// Apply* methods must perform the clamp-and-increment atomically per key
// using the backend's transactional guarantees.
type Store interface {
	GetTypeTrust(ctx context.Context, userID, replyType string) (Score, error)
	GetContactTrust(ctx context.Context, userID, contact string) (Score, error)
	ApplyTypeFeedback(ctx context.Context, userID, replyType string, delta, cap float64, outcome Outcome) (Score, error)
	ApplyContactFeedback(ctx context.Context, userID, contact string, delta, cap float64, outcome Outcome) (Score, error)
}

// Ledger answers effective-trust queries and records feedback.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetTypeTrust returns the per-(user, reply type) score, zero when absent.
func (l *Ledger) GetTypeTrust(ctx context.Context, userID, replyType string) (Score, error) {
	return l.store.GetTypeTrust(ctx, userID, replyType)
}

// GetContactTrust returns the per-(user, contact) score, zero when absent.
func (l *Ledger) GetContactTrust(ctx context.Context, userID, contact string) (Score, error) {
	return l.store.GetContactTrust(ctx, userID, contact)
}

// GetEffectiveTrust is the minimum of the type score, the contact score, and
// the reply type's ceiling.
func (l *Ledger) GetEffectiveTrust(ctx context.Context, userID, contact, replyType string) (float64, error) {
	typeTrust, err := l.store.GetTypeTrust(ctx, userID, replyType)
	if err != nil {
		return 0, fmt.Errorf("get type trust: %w", err)
	}
	contactTrust, err := l.store.GetContactTrust(ctx, userID, contact)
	if err != nil {
		return 0, fmt.Errorf("get contact trust: %w", err)
	}

	effective := typeTrust.Score
	if contactTrust.Score < effective {
		effective = contactTrust.Score
	}
	if ceiling := CeilingFor(replyType); ceiling < effective {
		effective = ceiling
	}
	return effective, nil
}

// ShouldAutoSend reports whether a reply may go out without review: both the
// effective trust and the generation confidence must clear the threshold.
// The result is monotone non-decreasing in confidence and effective trust.
func (l *Ledger) ShouldAutoSend(ctx context.Context, userID, contact, replyType string, confidence, threshold float64) (bool, error) {
	if threshold <= 0 {
		threshold = DefaultAutoSendThreshold
	}
	effective, err := l.GetEffectiveTrust(ctx, userID, contact, replyType)
	if err != nil {
		return false, err
	}
	return effective >= threshold && confidence >= threshold, nil
}

// RecordFeedback applies an outcome to both ledgers and returns the new
// scores. The type ledger caps at min(ceiling, GlobalCap); the contact
// ledger caps at GlobalCap. Unknown outcomes fail the call.
func (l *Ledger) RecordFeedback(ctx context.Context, userID, contact, replyType string, outcome Outcome) (Score, Score, error) {
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return Score{}, Score{}, err
	}
	delta := outcome.Delta()

	typeCap := CeilingFor(replyType)
	if typeCap > GlobalCap {
		typeCap = GlobalCap
	}

	newType, err := l.store.ApplyTypeFeedback(ctx, userID, replyType, delta, typeCap, outcome)
	if err != nil {
		return Score{}, Score{}, fmt.Errorf("apply type feedback: %w", err)
	}
	newContact, err := l.store.ApplyContactFeedback(ctx, userID, contact, delta, GlobalCap, outcome)
	if err != nil {
		return Score{}, Score{}, fmt.Errorf("apply contact feedback: %w", err)
	}
	return newType, newContact, nil
}
