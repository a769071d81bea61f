package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Semver is a parsed major.minor.patch version. The adapter only needs
// parsing and range comparison, so a small hand-rolled parser beats
// pulling in a full semver dependency.
type Semver struct {
	Major, Minor, Patch int
}

// ParseSemver parses "X.Y.Z" (a trailing "-pre"/"+build" suffix is
// accepted and ignored for compatibility comparisons).
func ParseSemver(s string) (Semver, error) {
	core := s
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Semver{}, fmt.Errorf("version %q is not major.minor.patch", s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Semver{}, fmt.Errorf("version %q has invalid component %q", s, p)
		}
		nums[i] = n
	}

	return Semver{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Semver) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less reports whether v sorts before o considering major, then minor,
// then patch.
func (v Semver) Less(o Semver) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// CompatibleRange reports whether v falls within [min, max] inclusive,
// when both bounds are non-empty; an empty bound is unbounded on that
// side. There is no separate major-version check: major compatibility
// is expressed through the bounds, and with both bounds empty every
// version is accepted.
func CompatibleRange(v Semver, min, max string) (bool, error) {
	if min != "" {
		lo, err := ParseSemver(min)
		if err != nil {
			return false, fmt.Errorf("invalid version_compat_min: %w", err)
		}
		if v.Less(lo) {
			return false, nil
		}
	}
	if max != "" {
		hi, err := ParseSemver(max)
		if err != nil {
			return false, fmt.Errorf("invalid version_compat_max: %w", err)
		}
		if hi.Less(v) {
			return false, nil
		}
	}
	return true, nil
}
