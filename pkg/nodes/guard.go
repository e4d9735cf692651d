package nodes

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeQuery is returned for statements that could modify data.
var ErrUnsafeQuery = errors.New("query is not read-only")

var (
	forbidden = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|drop|alter|create|truncate|grant|revoke|copy|call|vacuum)\b`)
	limitRe   = regexp.MustCompile(`(?is)\s+limit\s+\d+\s*;?\s*$`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// CheckReadOnly accepts a single SELECT (or WITH ... SELECT) statement.
func CheckReadOnly(sql string) error {
	s := strings.TrimSpace(sql)
	s = strings.TrimSuffix(s, ";")
	if s == "" {
		return fmt.Errorf("%w: empty statement", ErrUnsafeQuery)
	}
	if strings.Contains(s, ";") {
		return fmt.Errorf("%w: multiple statements", ErrUnsafeQuery)
	}
	head := strings.ToLower(strings.Fields(s)[0])
	if head != "select" && head != "with" {
		return fmt.Errorf("%w: statement starts with %q", ErrUnsafeQuery, head)
	}
	if m := forbidden.FindString(s); m != "" {
		return fmt.Errorf("%w: contains %q", ErrUnsafeQuery, strings.ToUpper(m))
	}
	return nil
}

// EnsureLimit appends a LIMIT clause unless the statement already ends with one.
func EnsureLimit(sql string, limit int) string {
	s := strings.TrimSuffix(strings.TrimSpace(sql), ";")
	if limit <= 0 || limitRe.MatchString(s) {
		return s
	}
	return fmt.Sprintf("%s LIMIT %d", s, limit)
}

func stripLimit(sql string) string {
	return limitRe.ReplaceAllString(strings.TrimSpace(sql), "")
}

func normalizeSQL(sql string) string {
	return strings.ToLower(spaceRe.ReplaceAllString(strings.TrimSuffix(strings.TrimSpace(sql), ";"), " "))
}
