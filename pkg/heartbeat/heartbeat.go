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

// Package heartbeat drives the periodic skill heartbeat in-process. The
// interval is re-read from the scheduler settings before every beat, so the
// self-healer's adjust_rate_limits action takes effect on the next cycle.
package heartbeat

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/zetherion/zetherion/pkg/registry"
	"github.com/zetherion/zetherion/pkg/settings"
	"github.com/zetherion/zetherion/pkg/skill"
)

// ActionSink consumes the actions a beat produced, highest priority first.
type ActionSink interface {
	Deliver(ctx context.Context, actions []skill.HeartbeatAction)
}

// LogSink logs delivered actions. The default when no chat adapter is wired.
type LogSink struct{}

func (LogSink) Deliver(ctx context.Context, actions []skill.HeartbeatAction) {
	for _, a := range actions {
		slog.Info("Heartbeat action",
			"skill", a.SkillName,
			"type", a.ActionType,
			"user", a.UserID,
			"priority", a.Priority)
	}
}

// Driver ticks the registry's heartbeat fan-out.
type Driver struct {
	registry  *registry.SkillRegistry
	scheduler *settings.Scheduler
	sink      ActionSink

	// UserIDs is passed to every beat; typically the active user set.
	UserIDs []string
}

func NewDriver(reg *registry.SkillRegistry, sched *settings.Scheduler, sink ActionSink) *Driver {
	if sink == nil {
		sink = LogSink{}
	}
	return &Driver{registry: reg, scheduler: sched, sink: sink}
}

// Run blocks, beating until the context is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	for {
		interval, err := d.scheduler.Interval(ctx)
		if err != nil {
			slog.Warn("Failed to read heartbeat interval, using default", "error", err)
			interval = settings.DefaultHeartbeatInterval
		}
		d.registry.HeartbeatInterval = interval

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		d.Beat(ctx)
	}
}

// Beat runs one fan-out and delivers the actions ordered by priority,
// highest first. Ties keep registration order.
func (d *Driver) Beat(ctx context.Context) {
	actions := d.registry.RunHeartbeat(ctx, d.UserIDs)
	if len(actions) == 0 {
		return
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority > actions[j].Priority
	})
	d.sink.Deliver(ctx, actions)
}
