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

// draftExecuteThreshold is the trust a draft-mode policy needs before its
// actions run without review.
const draftExecuteThreshold = 0.85

// PolicyMode governs whether an action runs, is surfaced for review,
// requires explicit approval, or is blocked.
type PolicyMode string

const (
	ModeAuto  PolicyMode = "auto"
	ModeDraft PolicyMode = "draft"
	ModeAsk   PolicyMode = "ask"
	ModeNever PolicyMode = "never"
)

// Policy is one per-(user, domain, action) row.
type Policy struct {
	UserID     string         `json:"user_id"`
	Domain     string         `json:"domain"`
	Action     string         `json:"action"`
	Mode       PolicyMode     `json:"mode"`
	TrustScore float64        `json:"trust_score"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

// Decision is the controller's verdict for one action.
type Decision struct {
	Mode    PolicyMode `json:"mode"`
	Execute bool       `json:"execute"`
	Trust   float64    `json:"trust"`
	Reason  string     `json:"reason"`
}

// PolicyStore persists policies. GetPolicy returns (nil, nil) when no policy
// exists for the key.
type PolicyStore interface {
	GetPolicy(ctx context.Context, userID, domain, action string) (*Policy, error)
	UpdatePolicyTrust(ctx context.Context, userID, domain, action string, delta, cap float64) (float64, error)
}

// Controller decides execute/draft/ask/block from policy plus trust.
type Controller struct {
	store PolicyStore
}

func NewController(store PolicyStore) *Controller {
	return &Controller{store: store}
}

// Decide looks up the policy for (user, domain, action). No policy means ask.
func (c *Controller) Decide(ctx context.Context, userID, domain, action string) (Decision, error) {
	policy, err := c.store.GetPolicy(ctx, userID, domain, action)
	if err != nil {
		return Decision{}, fmt.Errorf("get policy: %w", err)
	}
	if policy == nil {
		return Decision{Mode: ModeAsk, Execute: false, Trust: 0, Reason: "no policy"}, nil
	}

	d := Decision{Mode: policy.Mode, Trust: policy.TrustScore}
	switch policy.Mode {
	case ModeNever:
		d.Execute = false
		d.Reason = "blocked by policy"
	case ModeAuto:
		d.Execute = true
		d.Reason = "auto-approved by policy"
	case ModeDraft:
		d.Execute = policy.TrustScore >= draftExecuteThreshold
		if d.Execute {
			d.Reason = "draft policy with sufficient trust"
		} else {
			d.Reason = "draft policy, trust below threshold"
		}
	case ModeAsk:
		d.Execute = false
		d.Reason = "policy requires approval"
	default:
		d.Mode = ModeAsk
		d.Execute = false
		d.Reason = fmt.Sprintf("unknown policy mode %q", policy.Mode)
	}
	return d, nil
}

// RecordOutcome adjusts the policy's trust by the standard outcome delta,
// clamped to [0, GlobalCap]. Unknown outcomes fail the call.
func (c *Controller) RecordOutcome(ctx context.Context, userID, domain, action string, outcome Outcome) (float64, error) {
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return 0, err
	}
	newScore, err := c.store.UpdatePolicyTrust(ctx, userID, domain, action, outcome.Delta(), GlobalCap)
	if err != nil {
		return 0, fmt.Errorf("update policy trust: %w", err)
	}
	return newScore, nil
}
