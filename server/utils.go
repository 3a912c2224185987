package server

import (
	"regexp"
	"strings"
)

var hostSeparators = regexp.MustCompile(`,|\n`)

// SplitExternalHosts splits an annotation value into the individual external
// hostnames it names. Entries may be separated by commas, newlines, or a mix
// of both; surrounding whitespace is trimmed and empty entries are dropped,
// so "a.example.com,\n b.example.com" yields two hostnames.
func SplitExternalHosts(s string) []string {
	parts := hostSeparators.Split(s, -1)

	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
