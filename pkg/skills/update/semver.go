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

package update

import (
	"fmt"
	"strconv"
	"strings"
)

// version is a parsed semantic version. Build metadata is ignored.
type version struct {
	major, minor, patch int
	prerelease          string
}

// parseVersion accepts "1.2.3", "v1.2.3", and "1.2.3-rc.1" forms.
func parseVersion(s string) (version, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if raw == "" {
		return version{}, fmt.Errorf("empty version")
	}
	if i := strings.IndexByte(raw, '+'); i >= 0 {
		raw = raw[:i]
	}

	var v version
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		v.prerelease = raw[i+1:]
		raw = raw[:i]
	}

	parts := strings.Split(raw, ".")
	if len(parts) < 1 || len(parts) > 3 {
		return version{}, fmt.Errorf("invalid version: %s", s)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return version{}, fmt.Errorf("invalid version: %s", s)
		}
		nums[i] = n
	}
	v.major, v.minor, v.patch = nums[0], nums[1], nums[2]
	return v, nil
}

// compareVersions returns -1, 0, or 1. A prerelease sorts below its release.
func compareVersions(a, b version) int {
	if c := compareInt(a.major, b.major); c != 0 {
		return c
	}
	if c := compareInt(a.minor, b.minor); c != 0 {
		return c
	}
	if c := compareInt(a.patch, b.patch); c != 0 {
		return c
	}
	switch {
	case a.prerelease == b.prerelease:
		return 0
	case a.prerelease == "":
		return 1
	case b.prerelease == "":
		return -1
	}
	return comparePrerelease(a.prerelease, b.prerelease)
}

// IsNewer reports whether candidate is a strictly newer semver than current.
// Unparseable versions are never newer.
func IsNewer(candidate, current string) bool {
	cv, err := parseVersion(candidate)
	if err != nil {
		return false
	}
	cur, err := parseVersion(current)
	if err != nil {
		return false
	}
	return compareVersions(cv, cur) > 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// comparePrerelease follows semver identifier rules: numeric identifiers
// compare numerically and rank below alphanumeric ones.
func comparePrerelease(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aNum := strconv.Atoi(as[i])
		bn, bNum := strconv.Atoi(bs[i])
		switch {
		case aNum == nil && bNum == nil:
			if c := compareInt(an, bn); c != 0 {
				return c
			}
		case aNum == nil:
			return -1
		case bNum == nil:
			return 1
		default:
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}
		}
	}
	return compareInt(len(as), len(bs))
}
