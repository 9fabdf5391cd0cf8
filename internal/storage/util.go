package storage

import (
	"sort"
	"strings"
)

// groupImmediateChildren reduces a flat key list under prefix to the
// immediate child segments a List call should return, the same way a
// directory listing collapses "a/b/c" under "a/" to "b/".
func groupImmediateChildren(keys []string, prefix string) []string {
	seen := make(map[string]bool)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if rest == "" || rest == k {
			continue
		}
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			seen[rest[:idx+1]] = true
		} else {
			seen[rest] = true
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
