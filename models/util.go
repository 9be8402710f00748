package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a fresh UUID string.
func NewID() string {
	return uuid.New().String()
}

// GenerateName builds a short unique name with the given prefix.
// Example: GenerateName("damp-helper") -> "damp-helper-1a2b3c4d"
func GenerateName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// SanitizeName lowercases a project name and reduces it to [a-z0-9-].
func SanitizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	s = invalidNameChars.ReplaceAllString(s, "")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}
