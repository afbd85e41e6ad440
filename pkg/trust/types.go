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

// Package trust maintains the evolving scores that gate whether an
// auto-generated action executes, drafts for review, asks, or is blocked.
// Two independent ledgers exist: by reply type and by contact. The effective
// trust for a decision is the minimum of both plus the type's ceiling.
package trust

import "fmt"

// GlobalCap is the hard upper bound on any trust score.
const GlobalCap = 0.95

// Outcome is the recorded reception of one auto-generated action.
type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeMinorEdit Outcome = "minor_edit"
	OutcomeMajorEdit Outcome = "major_edit"
	OutcomeRejected  Outcome = "rejected"
)

// outcomeDeltas is the fixed score adjustment per outcome.
var outcomeDeltas = map[Outcome]float64{
	OutcomeApproved:  0.05,
	OutcomeMinorEdit: -0.02,
	OutcomeMajorEdit: -0.10,
	OutcomeRejected:  -0.20,
}

// ParseOutcome validates an outcome string. Unknown outcomes are an error,
// never silently treated as neutral.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	if _, ok := outcomeDeltas[o]; !ok {
		return "", fmt.Errorf("unknown outcome: %q", s)
	}
	return o, nil
}

// Delta returns the fixed score adjustment for the outcome.
func (o Outcome) Delta() float64 {
	return outcomeDeltas[o]
}

// replyTypeCeilings is the closed set of reply types and their trust
// ceilings. Unknown reply types fall back to the general ceiling.
var replyTypeCeilings = map[string]float64{
	"acknowledgment":  0.95,
	"meeting_confirm": 0.90,
	"meeting_decline": 0.80,
	"info_request":    0.75,
	"task_update":     0.70,
	"general":         0.60,
	"negotiation":     0.50,
	"sensitive":       0.30,
}

// CeilingFor returns the trust ceiling for a reply type.
func CeilingFor(replyType string) float64 {
	if c, ok := replyTypeCeilings[replyType]; ok {
		return c
	}
	return replyTypeCeilings["general"]
}

// Score is one row of a trust ledger. The zero value is zero trust.
type Score struct {
	Score             float64 `json:"score"`
	Approvals         int     `json:"approvals"`
	Rejections        int     `json:"rejections"`
	Edits             int     `json:"edits"`
	TotalInteractions int     `json:"total_interactions"`
}

// ApprovalRate is approvals over total interactions, 0.0 when empty.
func (s Score) ApprovalRate() float64 {
	if s.TotalInteractions == 0 {
		return 0.0
	}
	return float64(s.Approvals) / float64(s.TotalInteractions)
}

// ToMapping returns the wire representation.
func (s Score) ToMapping() map[string]any {
	return map[string]any{
		"score":              s.Score,
		"approvals":          s.Approvals,
		"rejections":         s.Rejections,
		"edits":              s.Edits,
		"total_interactions": s.TotalInteractions,
		"approval_rate":      s.ApprovalRate(),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
