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

import "sort"

// ============================================================================
// PERMISSIONS
// ============================================================================

// Permission is a declared capability of a skill. The set is closed; the
// dispatcher may refuse to execute a skill that acts outside its declaration.
type Permission string

const (
	PermReadConfig    Permission = "read_config"
	PermSendMessages  Permission = "send_messages"
	PermSendDM        Permission = "send_dm"
	PermReadProfile   Permission = "read_profile"
	PermWriteProfile  Permission = "write_profile"
	PermDeleteProfile Permission = "delete_profile"
	PermReadHealth    Permission = "read_health"
	PermManageSystem  Permission = "manage_system"
)

// PermissionSet is an immutable set of permissions. Construct with
// NewPermissionSet; the zero value is the empty set.
type PermissionSet struct {
	perms map[Permission]struct{}
}

func NewPermissionSet(perms ...Permission) PermissionSet {
	m := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		m[p] = struct{}{}
	}
	return PermissionSet{perms: m}
}

// Has reports whether the set contains p.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s.perms[p]
	return ok
}

// Union returns a new set containing the members of both sets.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	m := make(map[Permission]struct{}, len(s.perms)+len(other.perms))
	for p := range s.perms {
		m[p] = struct{}{}
	}
	for p := range other.perms {
		m[p] = struct{}{}
	}
	return PermissionSet{perms: m}
}

// SubsetOf reports whether every member of s is also in other.
func (s PermissionSet) SubsetOf(other PermissionSet) bool {
	for p := range s.perms {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

func (s PermissionSet) Len() int { return len(s.perms) }

// List returns the permissions in sorted order for stable display.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ============================================================================
// METADATA
// ============================================================================

// Metadata is the static descriptor of a skill, built at construction time
// and read-only thereafter. Name is unique across the registry; Intents are
// ordered and must not clash with another skill's.
type Metadata struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Version     string        `json:"version"`
	Permissions PermissionSet `json:"-"`
	Intents     []string      `json:"intents"`
}

// metadataJSON is the wire form of Metadata.
type metadataJSON struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Permissions []string `json:"permissions"`
	Intents     []string `json:"intents"`
}

// ToMapping returns the wire representation used by the HTTP server.
func (m Metadata) ToMapping() map[string]any {
	perms := make([]string, 0, m.Permissions.Len())
	for _, p := range m.Permissions.List() {
		perms = append(perms, string(p))
	}
	intents := m.Intents
	if intents == nil {
		intents = []string{}
	}
	return map[string]any{
		"name":        m.Name,
		"description": m.Description,
		"version":     m.Version,
		"permissions": perms,
		"intents":     intents,
	}
}
