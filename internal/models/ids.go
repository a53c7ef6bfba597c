// internal/models/ids.go
package models

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]{32}$`)

// NewID returns a 32 character lowercase hex identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether s is a well-formed identifier.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// NormalizeID trims whitespace and one level of surrounding double quotes,
// which some embed snippets send when they JSON-encode an already quoted id.
func NormalizeID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	return s
}
