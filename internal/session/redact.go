package session

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// sensitiveBodyFields are the JSON/form field names spec.md §4.3 names for
// redaction. Matched case-insensitively, grounded on
// cherrypick-agency-flutter_network_debugger's pkg/shared/redact package,
// generalized from a fixed "sensitive key" list to the spec's named set.
var sensitiveBodyFields = map[string]bool{
	"password": true,
	"pass":     true,
	"token":    true,
	"secret":   true,
	"apikey":   true,
}

const redactedFieldSentinel = "***"
const redactedCookieSentinel = "<redacted>"

// RedactJSONBody masks sensitive fields in a JSON request body,
// best-effort: a body that doesn't parse as JSON is returned unchanged.
func RedactJSONBody(body string) string {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return body
	}
	redactJSONNode(&v)
	b, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return string(b)
}

func redactJSONNode(n *any) {
	switch t := (*n).(type) {
	case map[string]any:
		for k, v := range t {
			if sensitiveBodyFields[strings.ToLower(k)] {
				t[k] = redactedFieldSentinel
				continue
			}
			vv := v
			redactJSONNode(&vv)
			t[k] = vv
		}
	case []any:
		for i := range t {
			vv := t[i]
			redactJSONNode(&vv)
			t[i] = vv
		}
	}
}

// RedactFormBody masks sensitive fields in an
// application/x-www-form-urlencoded request body, preserving field order
// and unknown-field values.
func RedactFormBody(body string) string {
	pairs := strings.Split(body, "&")
	for i, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, err := url.QueryUnescape(kv[0])
		if err != nil {
			key = kv[0]
		}
		if sensitiveBodyFields[strings.ToLower(key)] {
			pairs[i] = kv[0] + "=" + redactedFieldSentinel
		}
	}
	return strings.Join(pairs, "&")
}

// RedactRequestBody dispatches to the JSON or form redactor based on
// contentType, leaving any other body untouched.
func RedactRequestBody(contentType, body string) string {
	switch {
	case strings.Contains(contentType, "json"):
		return RedactJSONBody(body)
	case strings.Contains(contentType, "x-www-form-urlencoded"):
		return RedactFormBody(body)
	default:
		return body
	}
}

var setCookieValuePattern = regexp.MustCompile(`^([^=]+)=([^;]*)(.*)$`)

// RedactSetCookieLine replaces a raw Set-Cookie line's value with a fixed
// sentinel, preserving the cookie name and all flags verbatim.
func RedactSetCookieLine(line string) string {
	m := setCookieValuePattern.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	return m[1] + "=" + redactedCookieSentinel + m[3]
}
