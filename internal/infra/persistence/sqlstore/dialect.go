// Package sqlstore implements the domain persistence contract on top of
// database/sql. Concrete backends (sqlite, postgres) supply a Dialect and
// their embedded migrations.
package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the few places where SQL backends differ.
type Dialect struct {
	// Name identifies the backend in error messages and logs.
	Name string
	// NumberedPlaceholders rewrites '?' placeholders into $1, $2, ...
	NumberedPlaceholders bool
	// IsUniqueViolation reports whether err is a uniqueness constraint failure.
	IsUniqueViolation func(err error) bool
	// RowLocks makes write transactions read stage rows with SELECT ... FOR
	// UPDATE. Backends that serialize writers (sqlite) leave it off.
	RowLocks bool
}

// Rebind rewrites a query written with '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) uniqueViolation(err error) bool {
	if err == nil || d.IsUniqueViolation == nil {
		return false
	}
	return d.IsUniqueViolation(err)
}

// SplitStatements splits a migration script into individual statements,
// dropping blank fragments and full-line comments.
func SplitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
