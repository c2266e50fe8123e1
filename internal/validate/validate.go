// Package validate holds pure validation functions used by the tool
// runtime and by individual tools: path sanitization, API-key shape
// checks, URL validation, length caps, and agent-name conformity.
//
// These are deliberately stdlib-only: the teacher's own equivalent path
// and name validation (internal/tools/files/resolver.go,
// internal/security) is itself pure-function stdlib code with no
// third-party dependency, so this package follows the same idiom.
package validate

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// DefaultMaxInputBytes is the default input-length cap (1 MiB).
	DefaultMaxInputBytes = 1 << 20

	// MaxPathLength is the hard cap on an accepted path parameter.
	MaxPathLength = 260

	// MinAPIKeyLength is the minimum accepted length for any API key
	// shape, regardless of provider prefix.
	MinAPIKeyLength = 20
)

var agentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Path rejects `..` traversal, `~` home-relative references, and
// absolute paths that would escape root once joined. On success it
// returns the cleaned full path: root joined with a relative candidate,
// or an absolute candidate as given.
func Path(root, candidate string) (string, error) {
	if len(candidate) > MaxPathLength {
		return "", fmt.Errorf("path exceeds %d characters", MaxPathLength)
	}
	if candidate == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(candidate, "~") {
		return "", fmt.Errorf("path must not reference home directory: %q", candidate)
	}
	if strings.Contains(filepath.ToSlash(candidate), "../") || candidate == ".." {
		return "", fmt.Errorf("path must not contain parent traversal: %q", candidate)
	}

	joined := candidate
	if !filepath.IsAbs(candidate) {
		joined = filepath.Join(root, candidate)
	}
	cleanRoot := filepath.Clean(root)
	cleanJoined := filepath.Clean(joined)

	rel, err := filepath.Rel(cleanRoot, cleanJoined)
	if err != nil {
		return "", fmt.Errorf("path escapes workspace root: %q", candidate)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace root: %q", candidate)
	}
	return cleanJoined, nil
}

// apiKeyPrefixes are the recognized provider key shapes this system
// accepts, per spec.md 4.11.
var apiKeyPrefixes = []string{"sk-", "sk-or-", "sk-ant-"}

// APIKeyShape checks that a key string matches one of the recognized
// provider prefixes and meets the minimum length.
func APIKeyShape(key string) error {
	if len(key) < MinAPIKeyLength {
		return fmt.Errorf("API key shorter than minimum length %d", MinAPIKeyLength)
	}
	for _, p := range apiKeyPrefixes {
		if strings.HasPrefix(key, p) {
			return nil
		}
	}
	return fmt.Errorf("API key does not match a recognized provider prefix")
}

// URL validates that s parses as an absolute URL, optionally requiring
// HTTPS.
func URL(s string, requireHTTPS bool) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("URL must be absolute: %q", s)
	}
	if requireHTTPS && u.Scheme != "https" {
		return fmt.Errorf("URL must use https: %q", s)
	}
	return nil
}

// InputLength rejects input longer than max bytes (DefaultMaxInputBytes
// when max <= 0).
func InputLength(data []byte, max int) error {
	if max <= 0 {
		max = DefaultMaxInputBytes
	}
	if len(data) > max {
		return fmt.Errorf("input exceeds %d bytes (got %d)", max, len(data))
	}
	return nil
}

// AgentName enforces alphanumeric plus -_ , length 1-64.
func AgentName(name string) error {
	if !agentNamePattern.MatchString(name) {
		return fmt.Errorf("agent name must match %s: %q", agentNamePattern.String(), name)
	}
	return nil
}

// StringLength caps a string's rune length.
func StringLength(s string, max int) error {
	if max <= 0 {
		return nil
	}
	if n := len([]rune(s)); n > max {
		return fmt.Errorf("string exceeds %d characters (got %d)", max, n)
	}
	return nil
}
