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

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zetherion/zetherion/pkg/users"
)

// ============================================================================
// USERS (RBAC)
// ============================================================================

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		writeError(w, http.StatusNotImplemented, "User management not configured")
		return
	}
	rows, err := s.users.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "users": rows})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		writeError(w, http.StatusNotImplemented, "User management not configured")
		return
	}
	row, err := s.users.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUserError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": row})
}

type roleChangeBody struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	PerformedBy string `json:"performed_by"`
	Reason      string `json:"reason"`
}

// handleAssignRole creates or changes a user's role.
func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		writeError(w, http.StatusNotImplemented, "User management not configured")
		return
	}
	var body roleChangeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.UserID == "" || body.Role == "" || body.PerformedBy == "" {
		writeError(w, http.StatusBadRequest, "user_id, role, and performed_by are required")
		return
	}

	_, lookupErr := s.users.GetUser(r.Context(), body.UserID)
	created := errors.Is(lookupErr, users.ErrNotFound)
	if lookupErr != nil && !created {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := s.users.AssignRole(r.Context(), body.PerformedBy, body.UserID, users.Role(body.Role), body.Reason); err != nil {
		writeUserError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"ok": true, "user_id": body.UserID, "role": body.Role})
}

func (s *Server) handlePatchUser(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		writeError(w, http.StatusNotImplemented, "User management not configured")
		return
	}
	var body roleChangeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	target := chi.URLParam(r, "id")
	if body.Role == "" || body.PerformedBy == "" {
		writeError(w, http.StatusBadRequest, "role and performed_by are required")
		return
	}
	if err := s.users.AssignRole(r.Context(), body.PerformedBy, target, users.Role(body.Role), body.Reason); err != nil {
		writeUserError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user_id": target, "role": body.Role})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		writeError(w, http.StatusNotImplemented, "User management not configured")
		return
	}
	target := chi.URLParam(r, "id")
	performedBy := r.URL.Query().Get("performed_by")
	reason := r.URL.Query().Get("reason")
	if performedBy == "" {
		writeError(w, http.StatusBadRequest, "performed_by is required")
		return
	}
	if err := s.users.RemoveUser(r.Context(), performedBy, target, reason); err != nil {
		writeUserError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user_id": target})
}

func (s *Server) handleUserAudit(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		writeError(w, http.StatusNotImplemented, "User management not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.users.ListAudit(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "audit": rows})
}

// writeUserError maps manager errors to RBAC status codes.
func writeUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, users.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, users.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case strings.Contains(err.Error(), "invalid role"):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// ============================================================================
// SETTINGS
// ============================================================================

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "Settings not configured")
		return
	}
	values, err := s.settings.List(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "settings": values})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "Settings not configured")
		return
	}
	namespace := chi.URLParam(r, "namespace")
	key := chi.URLParam(r, "key")
	value, ok, err := s.settings.Get(r.Context(), namespace, key)
	if err != nil {
		writeSettingsError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Setting not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key, "value": value})
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "Settings not configured")
		return
	}
	var body struct {
		Value    string `json:"value"`
		DataType string `json:"data_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	namespace := chi.URLParam(r, "namespace")
	key := chi.URLParam(r, "key")

	_, existed, err := s.settings.Get(r.Context(), namespace, key)
	if err != nil {
		writeSettingsError(w, err)
		return
	}
	if err := s.settings.Put(r.Context(), namespace, key, body.Value, body.DataType); err != nil {
		writeSettingsError(w, err)
		return
	}

	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"ok": true, "key": key})
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "Settings not configured")
		return
	}
	namespace := chi.URLParam(r, "namespace")
	key := chi.URLParam(r, "key")
	if err := s.settings.Delete(r.Context(), namespace, key); err != nil {
		writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}

// writeSettingsError maps unknown namespaces and data types to 400.
func writeSettingsError(w http.ResponseWriter, err error) {
	msg := err.Error()
	if strings.Contains(msg, "unknown settings namespace") || strings.Contains(msg, "unknown data type") {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
