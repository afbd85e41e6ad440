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

// Package observability exposes process metrics through an OpenTelemetry
// meter with a Prometheus exporter. When disabled, all recorders are no-ops
// and the /metrics handler reports 503.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Config controls metric collection.
type Config struct {
	Enabled bool `yaml:"enabled"`
}

// Metrics records the platform's operational signals.
type Metrics interface {
	RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration)
	RecordSkillRequest(ctx context.Context, skillName, intent string, duration time.Duration, err error)
	RecordHeartbeat(ctx context.Context, duration time.Duration, actions int)
	RecordHealingAction(ctx context.Context, actionType string, success bool)

	// Handler serves the Prometheus scrape endpoint.
	Handler() http.Handler
}

// InitMetrics builds the meter and instruments. A disabled config returns
// NoopMetrics.
func InitMetrics(ctx context.Context, cfg Config) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("zetherion")

	m := &prometheusMetrics{}

	m.httpDuration, err = meter.Float64Histogram(
		"zetherion_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	m.httpRequests, err = meter.Int64Counter(
		"zetherion_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.skillDuration, err = meter.Float64Histogram(
		"zetherion_skill_request_duration_seconds",
		metric.WithDescription("Skill request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create skill duration histogram: %w", err)
	}
	m.skillRequests, err = meter.Int64Counter(
		"zetherion_skill_requests_total",
		metric.WithDescription("Total skill requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create skill requests counter: %w", err)
	}
	m.skillErrors, err = meter.Int64Counter(
		"zetherion_skill_errors_total",
		metric.WithDescription("Total skill request errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create skill errors counter: %w", err)
	}

	m.heartbeatDuration, err = meter.Float64Histogram(
		"zetherion_heartbeat_duration_seconds",
		metric.WithDescription("Heartbeat fan-out duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat duration histogram: %w", err)
	}
	m.heartbeatActions, err = meter.Int64Counter(
		"zetherion_heartbeat_actions_total",
		metric.WithDescription("Total heartbeat actions produced"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat actions counter: %w", err)
	}

	m.healingActions, err = meter.Int64Counter(
		"zetherion_healing_actions_total",
		metric.WithDescription("Total self-healing actions attempted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create healing actions counter: %w", err)
	}

	return m, nil
}

type prometheusMetrics struct {
	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter

	skillDuration metric.Float64Histogram
	skillRequests metric.Int64Counter
	skillErrors   metric.Int64Counter

	heartbeatDuration metric.Float64Histogram
	heartbeatActions  metric.Int64Counter

	healingActions metric.Int64Counter
}

func (m *prometheusMetrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

func (m *prometheusMetrics) RecordSkillRequest(ctx context.Context, skillName, intent string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("skill", skillName),
		attribute.String("intent", intent),
	)
	m.skillDuration.Record(ctx, duration.Seconds(), attrs)
	m.skillRequests.Add(ctx, 1, attrs)
	if err != nil {
		m.skillErrors.Add(ctx, 1, attrs)
	}
}

func (m *prometheusMetrics) RecordHeartbeat(ctx context.Context, duration time.Duration, actions int) {
	m.heartbeatDuration.Record(ctx, duration.Seconds())
	m.heartbeatActions.Add(ctx, int64(actions))
}

func (m *prometheusMetrics) RecordHealingAction(ctx context.Context, actionType string, success bool) {
	m.healingActions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", actionType),
		attribute.Bool("success", success),
	))
}

func (m *prometheusMetrics) Handler() http.Handler {
	return promhttp.Handler()
}
