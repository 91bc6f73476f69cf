// Package keys builds the deterministic Redis key space of the cold store.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	// AllSet is the set of every cached token id.
	AllSet = "gt:ids"
	// TimeIndex is the sorted set of ids scored by cachedAt.
	TimeIndex = "gt:by_time"
)

// Token returns the record key for a token id. The sanitized id keeps
// keys readable; the xxhash suffix keeps them unique and deterministic
// even when sanitization collapses characters.
func Token(id string) string {
	safe := sanitize(strings.TrimSpace(id))
	const maxIDLen = 120
	if len(safe) > maxIDLen {
		safe = safe[:maxIDLen]
	}
	return fmt.Sprintf("gt:tok:%s:f=%016x", safe, xxhash.Sum64String(id))
}

// CellIndex returns the id-set key for one cell at one resolution level.
func CellIndex(level int, cell string) string {
	return fmt.Sprintf("gt:cell:%d:%s", level, sanitize(cell))
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
