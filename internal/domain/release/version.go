package release

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
)

// CompareVersions orders two release versions.
// Dotted fields are compared numerically from left to right, missing fields
// count as zero, and a trailing "-N" build suffix is compared last as an
// integer (no suffix counts as zero). Fields that are not numbers fall back to
// string comparison. The result is -1, 0 or +1.
func CompareVersions(a, b string) int {
	aCore, aBuild := splitBuildSuffix(a)
	bCore, bBuild := splitBuildSuffix(b)

	if c := CompareDotted(aCore, bCore); c != 0 {
		return c
	}

	return cmp.Compare(aBuild, bBuild)
}

// CompareDotted compares dotted version strings field by field.
func CompareDotted(a, b string) int {
	aFields := strings.Split(strings.TrimPrefix(strings.TrimSpace(a), "v"), ".")
	bFields := strings.Split(strings.TrimPrefix(strings.TrimSpace(b), "v"), ".")

	for i := range max(len(aFields), len(bFields)) {
		if c := compareField(fieldAt(aFields, i), fieldAt(bFields, i)); c != 0 {
			return c
		}
	}

	return 0
}

// SortVersions sorts versions in ascending precedence.
func SortVersions(versions []string) {
	slices.SortStableFunc(versions, CompareVersions)
}

func splitBuildSuffix(v string) (string, uint64) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")

	i := strings.LastIndexByte(v, '-')
	if i < 0 {
		return v, 0
	}

	build, err := strconv.ParseUint(v[i+1:], 10, 64)
	if err != nil {
		return v, 0
	}

	return v[:i], build
}

func fieldAt(fields []string, i int) string {
	if i < len(fields) && fields[i] != "" {
		return fields[i]
	}

	return "0"
}

func compareField(a, b string) int {
	an, aErr := strconv.ParseUint(a, 10, 64)
	bn, bErr := strconv.ParseUint(b, 10, 64)

	if aErr == nil && bErr == nil {
		return cmp.Compare(an, bn)
	}

	return strings.Compare(a, b)
}
