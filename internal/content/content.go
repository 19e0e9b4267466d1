// Package content sanitizes and renders user-authored message text.
package content

import (
	"bytes"
	"errors"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	ugcPolicy     = bluemonday.UGCPolicy()
	strictPolicy  = bluemonday.StrictPolicy()
	markdown      = goldmark.New()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// Sanitize removes unsafe HTML from the input string, keeping the formatting
// tags the UGC policy allows. It is used for display names and messages.
func Sanitize(input string) string {
	return ugcPolicy.Sanitize(input)
}

// Preview renders the input to plain text suitable for a notification body:
// markdown is rendered, all tags stripped, whitespace collapsed and the
// result truncated to max runes.
func Preview(input string, max int) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		buf.Reset()
		buf.WriteString(input)
	}
	text := html.UnescapeString(strictPolicy.Sanitize(buf.String()))
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if max > 0 && len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return text
}
