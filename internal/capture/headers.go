package capture

import (
	"strconv"
	"strings"

	"github.com/nimbusbrowse/netwatch/internal/capturemodel"
)

var baseWhitelist = map[string]bool{
	"content-type":     true,
	"content-length":   true,
	"accept":           true,
	"accept-encoding":  true,
	"user-agent":       true,
	"origin":           true,
	"referer":          true,
	"host":             true,
	"cache-control":    true,
	"pragma":           true,
}

// filterRequestHeaders applies the fixed request-header whitelist,
// joined by authorization/cookie when redaction is disabled.
func filterRequestHeaders(headers map[string]string, redactSecrets bool) map[string]string {
	out := make(map[string]string)
	for name, value := range headers {
		lower := strings.ToLower(name)
		if baseWhitelist[lower] {
			out[lower] = value
			continue
		}
		if !redactSecrets && (lower == "authorization" || lower == "cookie") {
			out[lower] = value
		}
	}
	return out
}

// filterResponseHeaders applies the request whitelist plus vary and all
// access-control-allow-* headers, joined by authorization/cookie when
// redaction is disabled.
func filterResponseHeaders(headers map[string]string, redactSecrets bool) map[string]string {
	out := make(map[string]string)
	for name, value := range headers {
		lower := strings.ToLower(name)
		switch {
		case baseWhitelist[lower]:
			out[lower] = value
		case lower == "vary":
			out[lower] = value
		case strings.HasPrefix(lower, "access-control-allow-"):
			out[lower] = value
		case !redactSecrets && (lower == "authorization" || lower == "cookie"):
			out[lower] = value
		}
	}
	return out
}

// extractSetCookieLines pulls every raw Set-Cookie header value out of a
// header map that may carry multiple entries joined by newlines (some
// hosts flatten multi-value headers this way) or a single value.
func extractSetCookieLines(headers map[string]string) []string {
	var lines []string
	for name, value := range headers {
		if !strings.EqualFold(name, "set-cookie") {
			continue
		}
		for _, line := range strings.Split(value, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines
}

// parseSetCookieLine turns one raw Set-Cookie line into the
// {name, value, flags} shape spec.md §4.4 names, lowercasing flag names
// and recording any attribute without a value as boolean true.
func parseSetCookieLine(line string) capturemodel.SetCookie {
	parts := strings.Split(line, ";")
	if len(parts) == 0 {
		return capturemodel.SetCookie{}
	}

	nameValue := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	cookie := capturemodel.SetCookie{Flags: map[string]any{}}
	cookie.Name = strings.TrimSpace(nameValue[0])
	if len(nameValue) == 2 {
		cookie.Value = nameValue[1]
	}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		kv := strings.SplitN(attr, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if len(kv) == 1 {
			cookie.Flags[key] = true
			continue
		}
		cookie.Flags[key] = kv[1]
	}

	return cookie
}

// extractCORSAllow builds a CORSAllow from a response's raw headers, nil
// if no Access-Control-Allow-Origin is present.
func extractCORSAllow(headers map[string]string) *capturemodel.CORSAllow {
	var origin string
	var methods, allowHeaders []string
	var credentials bool
	found := false

	for name, value := range headers {
		switch strings.ToLower(name) {
		case "access-control-allow-origin":
			origin = value
			found = true
		case "access-control-allow-methods":
			methods = splitCommaList(value)
		case "access-control-allow-headers":
			allowHeaders = splitCommaList(value)
		case "access-control-allow-credentials":
			if b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(value))); err == nil {
				credentials = b
			}
		}
	}

	if !found {
		return nil
	}
	return &capturemodel.CORSAllow{
		Origin:      origin,
		Methods:     methods,
		Headers:     allowHeaders,
		Credentials: credentials,
	}
}

func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isPreflight(method string, headers map[string]string) (acrm string, isPreflight bool) {
	if !strings.EqualFold(method, "OPTIONS") {
		return "", false
	}
	for name, value := range headers {
		if strings.EqualFold(name, "access-control-request-method") {
			return value, true
		}
	}
	return "", false
}

func headerValue(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
