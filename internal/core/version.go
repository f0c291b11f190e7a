package core

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// CanonicalVersion normalizes a blueprint version ("1.2.3" or "v1.2.3") to
// the "v"-prefixed form used by x/mod/semver. ok is false for anything that
// is not a full major.minor.patch version.
func CanonicalVersion(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	// semver.IsValid accepts shorthand like v1 or v1.2.
	if strings.Count(strings.SplitN(strings.SplitN(v, "-", 2)[0], "+", 2)[0], ".") != 2 {
		return "", false
	}
	return v, true
}

// MajorVersion returns the numeric major component of a blueprint version.
func MajorVersion(v string) (int, bool) {
	cv, ok := CanonicalVersion(v)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(semver.Major(cv), "v"))
	if err != nil {
		return 0, false
	}
	return n, true
}

// CompareVersions compares two valid blueprint versions with semver ordering.
func CompareVersions(a, b string) int {
	ca, _ := CanonicalVersion(a)
	cb, _ := CanonicalVersion(b)
	return semver.Compare(ca, cb)
}
