// Package slug provides project slug normalization and validation.
package slug

import (
	"errors"
	"fmt"
	"strings"
)

// Slugify converts the provided text to a lowercase ASCII slug with hyphens.
func Slugify(text string) string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return ""
	}

	var builder strings.Builder
	builder.Grow(len(clean))
	prevHyphen := false
	for _, r := range strings.ToLower(clean) {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
			prevHyphen = false
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				builder.WriteRune('-')
				prevHyphen = true
			}
		}
	}

	return strings.Trim(builder.String(), "-")
}

// Validate checks that the slug is usable as an immutable project identifier.
// Slugs name tmux sessions and archive directories, so dots and path
// separators are rejected outright.
func Validate(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return errors.New("project slug is required")
	}
	if strings.Contains(trimmed, ".") {
		return fmt.Errorf("project slug %q must not contain '.'", trimmed)
	}
	if strings.ContainsAny(trimmed, "/\\") {
		return fmt.Errorf("project slug %q must not contain path separators", trimmed)
	}
	if strings.ContainsAny(trimmed, " \t") {
		return fmt.Errorf("project slug %q must not contain whitespace", trimmed)
	}
	return nil
}
