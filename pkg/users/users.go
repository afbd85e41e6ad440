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

// Package users implements role-based access control with a strict role
// hierarchy. Every mutation and every refused attempt appends an audit row.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/zetherion/zetherion/pkg/store"
)

// Role in the closed hierarchy.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
	RoleRestricted Role = "restricted"
)

// roleLevels orders the hierarchy. Higher outranks lower.
var roleLevels = map[Role]int{
	RoleOwner:      4,
	RoleAdmin:      3,
	RoleUser:       2,
	RoleRestricted: 1,
}

// Level returns the role's rank, 0 for unknown roles.
func (r Role) Level() int { return roleLevels[r] }

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool { return roleLevels[r] > 0 }

// ErrForbidden marks an RBAC refusal. The HTTP layer maps it to 403.
var ErrForbidden = errors.New("forbidden")

// ErrNotFound marks a missing user. The HTTP layer maps it to 404.
var ErrNotFound = errors.New("user not found")

// Audit action names.
const (
	auditAssignRole = "assign_role"
	auditRemoveUser = "remove_user"
	auditRefused    = "refused"
)

// Store is the persistence surface the manager needs.
type Store interface {
	GetUser(ctx context.Context, userID string) (*store.UserRow, error)
	ListUsers(ctx context.Context) ([]store.UserRow, error)
	PutUser(ctx context.Context, user *store.UserRow) error
	DeleteUser(ctx context.Context, userID string) error
	AppendAudit(ctx context.Context, rec *store.UserAuditRow) error
	ListAudit(ctx context.Context, limit int) ([]store.UserAuditRow, error)
}

// Manager enforces the hierarchy over a user store.
type Manager struct {
	store Store
}

func NewManager(s Store) *Manager {
	return &Manager{store: s}
}

// EnsureOwner creates the owner record if the user does not exist yet.
// Called at startup with the configured owner id.
func (m *Manager) EnsureOwner(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	existing, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := m.store.PutUser(ctx, &store.UserRow{UserID: userID, Role: string(RoleOwner)}); err != nil {
		return err
	}
	return m.store.AppendAudit(ctx, &store.UserAuditRow{
		Action:      auditAssignRole,
		Target:      userID,
		PerformedBy: "system",
		NewRole:     string(RoleOwner),
		Reason:      "bootstrap owner",
	})
}

// GetRole returns the user's role. Unknown users are restricted.
func (m *Manager) GetRole(ctx context.Context, userID string) (Role, error) {
	row, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return RoleRestricted, nil
	}
	return Role(row.Role), nil
}

// GetUser returns the stored row, or ErrNotFound.
func (m *Manager) GetUser(ctx context.Context, userID string) (*store.UserRow, error) {
	row, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return row, nil
}

// ListUsers returns all users.
func (m *Manager) ListUsers(ctx context.Context) ([]store.UserRow, error) {
	return m.store.ListUsers(ctx)
}

// AssignRole grants target the role. The performer must hold a role strictly
// above the one being assigned, and strictly above the target's current role.
// Refusals are audited and return ErrForbidden.
func (m *Manager) AssignRole(ctx context.Context, performedBy, target string, role Role, reason string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role: %s", role)
	}

	performerRole, err := m.GetRole(ctx, performedBy)
	if err != nil {
		return err
	}

	targetRow, err := m.store.GetUser(ctx, target)
	if err != nil {
		return err
	}
	oldRole := ""
	if targetRow != nil {
		oldRole = targetRow.Role
	}

	if role.Level() >= performerRole.Level() {
		return m.refuse(ctx, auditAssignRole, target, performedBy, oldRole, string(role),
			fmt.Sprintf("%s may not assign %s", performerRole, role))
	}
	if Role(oldRole).Level() >= performerRole.Level() {
		return m.refuse(ctx, auditAssignRole, target, performedBy, oldRole, string(role),
			fmt.Sprintf("%s may not demote a %s", performerRole, oldRole))
	}

	if err := m.store.PutUser(ctx, &store.UserRow{UserID: target, Role: string(role)}); err != nil {
		return err
	}
	return m.store.AppendAudit(ctx, &store.UserAuditRow{
		Action:      auditAssignRole,
		Target:      target,
		PerformedBy: performedBy,
		OldRole:     oldRole,
		NewRole:     string(role),
		Reason:      reason,
	})
}

// RemoveUser deletes target. Owners are non-removable. The performer must
// outrank the target.
func (m *Manager) RemoveUser(ctx context.Context, performedBy, target, reason string) error {
	targetRow, err := m.store.GetUser(ctx, target)
	if err != nil {
		return err
	}
	if targetRow == nil {
		return ErrNotFound
	}

	performerRole, err := m.GetRole(ctx, performedBy)
	if err != nil {
		return err
	}

	if Role(targetRow.Role) == RoleOwner {
		return m.refuse(ctx, auditRemoveUser, target, performedBy, targetRow.Role, "",
			"owners are non-removable")
	}
	if Role(targetRow.Role).Level() >= performerRole.Level() {
		return m.refuse(ctx, auditRemoveUser, target, performedBy, targetRow.Role, "",
			fmt.Sprintf("%s may not remove a %s", performerRole, targetRow.Role))
	}

	if err := m.store.DeleteUser(ctx, target); err != nil {
		return err
	}
	return m.store.AppendAudit(ctx, &store.UserAuditRow{
		Action:      auditRemoveUser,
		Target:      target,
		PerformedBy: performedBy,
		OldRole:     targetRow.Role,
		Reason:      reason,
	})
}

// RequireAtLeast returns ErrForbidden unless the user holds the minimum role.
func (m *Manager) RequireAtLeast(ctx context.Context, userID string, min Role) error {
	role, err := m.GetRole(ctx, userID)
	if err != nil {
		return err
	}
	if role.Level() < min.Level() {
		return fmt.Errorf("%w: %s requires at least %s", ErrForbidden, userID, min)
	}
	return nil
}

// ListAudit returns the most recent audit rows.
func (m *Manager) ListAudit(ctx context.Context, limit int) ([]store.UserAuditRow, error) {
	return m.store.ListAudit(ctx, limit)
}

// refuse audits a denied attempt and returns ErrForbidden.
func (m *Manager) refuse(ctx context.Context, action, target, performedBy, oldRole, newRole, why string) error {
	_ = m.store.AppendAudit(ctx, &store.UserAuditRow{
		Action:      auditRefused,
		Target:      target,
		PerformedBy: performedBy,
		OldRole:     oldRole,
		NewRole:     newRole,
		Reason:      why,
	})
	return fmt.Errorf("%w: %s", ErrForbidden, why)
}
