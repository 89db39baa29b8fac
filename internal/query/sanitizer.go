// Package query parses the ordering and paging parameters accepted by list
// endpoints and turns them into SQL fragments that are safe to splice into
// a statement.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierRegex validates SQL identifiers: a letter or underscore followed
// by letters, digits or underscores.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdentifier rejects names that cannot be a plain column name.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("identifier too long (max 64 chars): %q", name)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	return nil
}

// SanitizeSearch strips null bytes and LIKE wildcards from a free-text
// search term, bounds its length, and wraps it for a substring match.
func SanitizeSearch(term string, maxLen int) (string, error) {
	term = strings.TrimSpace(strings.ReplaceAll(term, "\x00", ""))
	if len(term) > maxLen {
		return "", fmt.Errorf("search term too long (max %d chars)", maxLen)
	}
	term = strings.NewReplacer("%", "", "_", "").Replace(term)
	return "%" + strings.ToLower(term) + "%", nil
}
