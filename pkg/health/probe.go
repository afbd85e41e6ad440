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

package health

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/process"
)

// SystemStats is the host-level view of the process and its disk.
type SystemStats struct {
	MemoryRSSMB      float64
	MemoryPercent    float64
	DiskTotalGB      float64
	DiskUsedGB       float64
	DiskFreeGB       float64
	DiskUsagePercent float64
}

// SystemProbe reports host-level stats. A nil probe on the collector means
// the capability is absent and the system section is zero-filled.
type SystemProbe interface {
	SystemStats(ctx context.Context) (*SystemStats, error)
}

// GopsutilProbe implements SystemProbe for the current process using
// gopsutil. Path is the mount point measured for disk usage.
type GopsutilProbe struct {
	Path string
}

func NewGopsutilProbe(path string) *GopsutilProbe {
	if path == "" {
		path = "/"
	}
	return &GopsutilProbe{Path: path}
}

func (p *GopsutilProbe) SystemStats(ctx context.Context) (*SystemStats, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}

	stats := &SystemStats{}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory info: %w", err)
	}
	stats.MemoryRSSMB = float64(memInfo.RSS) / (1024 * 1024)

	if memPct, err := proc.MemoryPercentWithContext(ctx); err == nil {
		stats.MemoryPercent = float64(memPct)
	}

	usage, err := disk.UsageWithContext(ctx, p.Path)
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	const gb = 1024 * 1024 * 1024
	stats.DiskTotalGB = float64(usage.Total) / gb
	stats.DiskUsedGB = float64(usage.Used) / gb
	stats.DiskFreeGB = float64(usage.Free) / gb
	stats.DiskUsagePercent = usage.UsedPercent

	return stats, nil
}
