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

// Package settings provides the typed settings manager. Values are stored as
// text with a data_type tag and coerced on read; a value that fails coercion
// is returned as the raw string rather than an error.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/zetherion/zetherion/pkg/store"
)

// Namespaces form a closed set. Writes to any other namespace are rejected.
const (
	NamespaceModels    = "models"
	NamespaceBudgets   = "budgets"
	NamespaceTuning    = "tuning"
	NamespaceScheduler = "scheduler"
)

var validNamespaces = map[string]bool{
	NamespaceModels:    true,
	NamespaceBudgets:   true,
	NamespaceTuning:    true,
	NamespaceScheduler: true,
}

// Data type tags.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeJSON   = "json"
)

var validDataTypes = map[string]bool{
	TypeString: true,
	TypeInt:    true,
	TypeFloat:  true,
	TypeBool:   true,
	TypeJSON:   true,
}

// Store is the persistence surface the manager needs.
type Store interface {
	GetSetting(ctx context.Context, namespace, key string) (*store.SettingRow, error)
	ListSettings(ctx context.Context, namespace string) ([]store.SettingRow, error)
	PutSetting(ctx context.Context, namespace, key, value, dataType string) error
	DeleteSetting(ctx context.Context, namespace, key string) error
}

// Manager validates namespaces and coerces typed values over a raw store.
type Manager struct {
	store Store
}

func NewManager(s Store) *Manager {
	return &Manager{store: s}
}

// Get returns the coerced value. The second return is false when the key is
// absent.
func (m *Manager) Get(ctx context.Context, namespace, key string) (any, bool, error) {
	if !validNamespaces[namespace] {
		return nil, false, fmt.Errorf("unknown settings namespace: %s", namespace)
	}
	row, err := m.store.GetSetting(ctx, namespace, key)
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		return nil, false, nil
	}
	return coerce(row.Value, row.DataType), true, nil
}

// List returns every coerced value in a namespace.
func (m *Manager) List(ctx context.Context, namespace string) (map[string]any, error) {
	if !validNamespaces[namespace] {
		return nil, fmt.Errorf("unknown settings namespace: %s", namespace)
	}
	rows, err := m.store.ListSettings(ctx, namespace)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(rows))
	for _, row := range rows {
		out[row.Key] = coerce(row.Value, row.DataType)
	}
	return out, nil
}

// Put stores a raw value with its data_type tag.
func (m *Manager) Put(ctx context.Context, namespace, key, value, dataType string) error {
	if !validNamespaces[namespace] {
		return fmt.Errorf("unknown settings namespace: %s", namespace)
	}
	if dataType == "" {
		dataType = TypeString
	}
	if !validDataTypes[dataType] {
		return fmt.Errorf("unknown data type: %s", dataType)
	}
	return m.store.PutSetting(ctx, namespace, key, value, dataType)
}

// SetValue stores a Go value, inferring the data_type tag.
func (m *Manager) SetValue(ctx context.Context, namespace, key string, value any) error {
	raw, dataType, err := encode(value)
	if err != nil {
		return err
	}
	return m.Put(ctx, namespace, key, raw, dataType)
}

// Delete removes a key; deleting an absent key is not an error.
func (m *Manager) Delete(ctx context.Context, namespace, key string) error {
	if !validNamespaces[namespace] {
		return fmt.Errorf("unknown settings namespace: %s", namespace)
	}
	return m.store.DeleteSetting(ctx, namespace, key)
}

// ============================================================================
// TYPED ACCESSORS
// ============================================================================

// GetInt returns the setting as an int, or def when absent or non-numeric.
func (m *Manager) GetInt(ctx context.Context, namespace, key string, def int) int {
	v, ok, err := m.Get(ctx, namespace, key)
	if err != nil || !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case bool:
		if n {
			return 1
		}
		return 0
	}
	return def
}

// GetFloat returns the setting as a float64, or def.
func (m *Manager) GetFloat(ctx context.Context, namespace, key string, def float64) float64 {
	v, ok, err := m.Get(ctx, namespace, key)
	if err != nil || !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return def
}

// GetBool returns the setting as a bool, or def.
func (m *Manager) GetBool(ctx context.Context, namespace, key string, def bool) bool {
	v, ok, err := m.Get(ctx, namespace, key)
	if err != nil || !ok {
		return def
	}
	if b, isBool := v.(bool); isBool {
		return b
	}
	return def
}

// GetString returns the setting as a string, or def.
func (m *Manager) GetString(ctx context.Context, namespace, key string, def string) string {
	v, ok, err := m.Get(ctx, namespace, key)
	if err != nil || !ok {
		return def
	}
	if s, isString := v.(string); isString {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ============================================================================
// COERCION
// ============================================================================

// coerce interprets the stored text according to its data_type tag. Failed
// coercions fall back to the raw string.
func coerce(raw, dataType string) any {
	switch dataType {
	case TypeInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case TypeFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case TypeBool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case TypeJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	}
	return raw
}

// encode maps a Go value to its stored form and data_type tag.
func encode(value any) (string, string, error) {
	switch v := value.(type) {
	case string:
		return v, TypeString, nil
	case int:
		return strconv.Itoa(v), TypeInt, nil
	case int64:
		return strconv.FormatInt(v, 10), TypeInt, nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), TypeFloat, nil
	case bool:
		return strconv.FormatBool(v), TypeBool, nil
	case time.Duration:
		return strconv.FormatInt(int64(v/time.Second), 10), TypeInt, nil
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return "", "", fmt.Errorf("encode setting value: %w", err)
		}
		return string(raw), TypeJSON, nil
	}
}
