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

package settings

import (
	"context"
	"fmt"
	"time"
)

const (
	intervalKey = "interval_seconds"

	// DefaultHeartbeatInterval applies when the scheduler namespace holds
	// no interval.
	DefaultHeartbeatInterval = 300 * time.Second
)

// Scheduler exposes the heartbeat interval as a persisted setting so the
// self-healer's adjust_rate_limits action survives restarts and the heartbeat
// driver picks the new value up on its next tick.
type Scheduler struct {
	manager *Manager
}

func NewScheduler(m *Manager) *Scheduler {
	return &Scheduler{manager: m}
}

// Interval reads scheduler.interval_seconds, falling back to the default.
func (s *Scheduler) Interval(ctx context.Context) (time.Duration, error) {
	secs := s.manager.GetInt(ctx, NamespaceScheduler, intervalKey, int(DefaultHeartbeatInterval/time.Second))
	if secs <= 0 {
		return DefaultHeartbeatInterval, nil
	}
	return time.Duration(secs) * time.Second, nil
}

// SetInterval persists a new heartbeat interval.
func (s *Scheduler) SetInterval(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %s", d)
	}
	return s.manager.SetValue(ctx, NamespaceScheduler, intervalKey, int(d/time.Second))
}
