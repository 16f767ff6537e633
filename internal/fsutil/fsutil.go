// Package fsutil provides the small, state-free filesystem and codec
// helpers the capture session builds its on-disk artifacts with. None of
// these functions raise to callers; on failure they return a zero value,
// a none-equivalent, or (for stream writes) a sentinel line.
package fsutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// EnsureDirectory idempotently creates path and its parents.
func EnsureDirectory(path string) error {
	return os.MkdirAll(path, 0o755)
}

// Timestamp renders the current wall clock in a filesystem-safe form,
// suitable for embedding in archive file names.
func Timestamp() string {
	return time.Now().UTC().Format("20060102T150405.000Z")
}

// OpenAppendStream creates path's parent directories and opens path for
// appending, creating it if necessary. The caller owns the returned file
// and must close it.
func OpenAppendStream(path string) (*os.File, error) {
	if err := EnsureDirectory(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// WriteJSONLine serializes value and appends a newline-terminated JSON
// line to w. If value cannot be serialized, a sentinel line is written
// instead so the stream never loses a line or propagates the failure.
func WriteJSONLine(w io.Writer, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		b = []byte(`{"_error":"unserializable"}`)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

var bearerTokenPattern = regexp.MustCompile(`\bey[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)

// FindBearerToken returns the first substring of s matching three
// dot-separated Base64URL groups whose first group starts with "ey" (the
// near-universal JWT header prefix, "{\"" base64url-encoded), or "" if
// none is found.
func FindBearerToken(s string) string {
	return bearerTokenPattern.FindString(s)
}

// DecodeBase64URLJSON pads s to a multiple of 4, substitutes URL-safe
// characters, base64-decodes it, and parses the result as JSON. Any
// failure along the way yields (nil, false) rather than an error.
func DecodeBase64URLJSON(s string) (map[string]any, bool) {
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}

	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}

	var out map[string]any
	if err := json.Unmarshal(decoded, &out); err != nil {
		return nil, false
	}
	return out, true
}

// DecodeBearerToken splits token on '.' and independently decodes the
// header and payload segments. Either return value may be nil if that
// segment failed to decode; both are nil if the token has fewer than two
// segments.
func DecodeBearerToken(token string) (header, payload map[string]any) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return nil, nil
	}
	if h, ok := DecodeBase64URLJSON(parts[0]); ok {
		header = h
	}
	if p, ok := DecodeBase64URLJSON(parts[1]); ok {
		payload = p
	}
	return header, payload
}

// RedactBearerToken replaces token's third (signature) segment with
// <redacted:Nb> where N is the segment's original byte length, preserving
// the first two segments verbatim. Tokens with fewer than three segments
// are returned unmodified.
func RedactBearerToken(token string) string {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) < 3 {
		return token
	}
	return fmt.Sprintf("%s.%s.<redacted:%db>", parts[0], parts[1], len(parts[2]))
}

// SanitizeFilename restricts s to [A-Za-z0-9._-], truncated to max
// characters, for use in saved-body file names.
func SanitizeFilename(s string, max int) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
		if b.Len() >= max {
			break
		}
	}
	if b.Len() == 0 {
		return "body"
	}
	return b.String()
}
