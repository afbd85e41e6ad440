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

package skill

import "github.com/google/uuid"

// ============================================================================
// REQUEST / RESPONSE
// ============================================================================

// Request is one inbound dispatch. Immutable once created; lives for the
// duration of a single handle call.
type Request struct {
	ID      string         `json:"id"`
	UserID  string         `json:"user_id"`
	Intent  string         `json:"intent"`
	Message string         `json:"message"`
	Context map[string]any `json:"context"`
}

// NewRequest builds a request with a fresh id and a non-nil context map.
func NewRequest(userID, intent, message string) *Request {
	return &Request{
		ID:      uuid.NewString(),
		UserID:  userID,
		Intent:  intent,
		Message: message,
		Context: map[string]any{},
	}
}

// Response always references the request it answers.
type Response struct {
	RequestID string         `json:"request_id"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// OKResponse builds a success response for req.
func OKResponse(req *Request, message string, data map[string]any) *Response {
	return &Response{
		RequestID: req.ID,
		Success:   true,
		Message:   message,
		Data:      data,
	}
}

// ErrorResponse builds a failure response for req.
func ErrorResponse(req *Request, errMsg string) *Response {
	return &Response{
		RequestID: req.ID,
		Success:   false,
		Message:   errMsg,
		Error:     errMsg,
	}
}

// ============================================================================
// HEARTBEAT ACTIONS
// ============================================================================

// HeartbeatAction is produced by a skill's heartbeat and consumed by a chat
// adapter. Priority is an ordinal used only for ordering, higher first.
type HeartbeatAction struct {
	SkillName  string         `json:"skill_name"`
	ActionType string         `json:"action_type"`
	UserID     string         `json:"user_id"`
	Data       map[string]any `json:"data,omitempty"`
	Priority   int            `json:"priority"`
}

// GenerateInstanceID returns a process-unique identifier. Two calls never
// collide in practice (v4 UUID).
func GenerateInstanceID() string {
	return uuid.NewString()
}
