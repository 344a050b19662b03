package updater

import (
	"strconv"
	"strings"
)

// versionParts is how many dotted components take part in a comparison
const versionParts = 4

// IsGreaterVersion reports whether remote is strictly newer than local.
// Versions compare as up to four dotted numbers; parts that are missing or
// not numeric count as zero.
func IsGreaterVersion(remote, local string) bool {
	r, l := splitVersion(remote), splitVersion(local)
	for i := 0; i < versionParts; i++ {
		if r[i] != l[i] {
			return r[i] > l[i]
		}
	}
	return false
}

func splitVersion(v string) [versionParts]int {
	var out [versionParts]int
	for i, part := range strings.SplitN(strings.TrimSpace(v), ".", versionParts+1) {
		if i >= versionParts {
			break
		}
		n, err := strconv.Atoi(part)
		if err == nil && n > 0 {
			out[i] = n
		}
	}
	return out
}
