package resolve

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/distribution/reference"
)

// Placeholder is replaced in tag templates with a fresh unique token.
const Placeholder = "*"

var (
	ErrInvalidImageName = errors.New("invalid image name")
	ErrInvalidTag       = errors.New("invalid image tag")
)

// =============================================================================
// Naming
// =============================================================================

// SnakeCase converts a Go type name to snake case. Runs of capitals are kept
// together as one word.
//
// Example:
//
//	SnakeCase("HttpURLConnX") // returns "http_url_conn_x"
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && !unicode.IsUpper(runes[i-1])
			nextLower := i+1 < len(runes) && !unicode.IsUpper(runes[i+1])
			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DefaultTagTemplate returns the tag template used for built images when the
// definition does not name one.
// Pattern: {snake_case(typeName)}_*:latest
func DefaultTagTemplate(typeName string) string {
	return fmt.Sprintf("%s_%s:latest", SnakeCase(typeName), Placeholder)
}

// =============================================================================
// Tags
// =============================================================================

// ResolveTag substitutes every placeholder in template with one token from
// newToken, lowercases the result and checks it is a valid image reference.
func ResolveTag(template string, newToken func() string) (string, error) {
	tag := template
	if strings.Contains(tag, Placeholder) {
		tag = strings.ReplaceAll(tag, Placeholder, newToken())
	}
	tag = strings.ToLower(tag)
	if _, err := reference.ParseNormalizedNamed(tag); err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidTag, tag, err)
	}
	return tag, nil
}

// NormalizeImageName validates a registry image name and adds the implicit
// "latest" tag when neither a tag nor a digest is given. The familiar form is
// returned, so "alpine" becomes "alpine:latest" rather than
// "docker.io/library/alpine:latest".
func NormalizeImageName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidImageName)
	}
	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidImageName, name, err)
	}
	return reference.FamiliarString(reference.TagNameOnly(named)), nil
}
