package session

import (
	"strings"

	"go.uber.org/zap"

	"github.com/nimbusbrowse/netwatch/internal/fsutil"
	"github.com/nimbusbrowse/netwatch/internal/harfile"
)

func errField(err error) zap.Field {
	return zap.Error(err)
}

// redactAuthorizationHeader returns a copy of headers with any Bearer
// token in the Authorization entry redacted via
// fsutil.RedactBearerToken, leaving every other header untouched.
func redactAuthorizationHeader(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "authorization") {
			const prefix = "Bearer "
			if strings.HasPrefix(v, prefix) {
				token := strings.TrimPrefix(v, prefix)
				out[k] = prefix + fsutil.RedactBearerToken(token)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// parseSetCookieLine turns a raw Set-Cookie header line into a
// harfile.Cookie, extracting name, value, and the Path/Domain/HttpOnly/
// Secure attributes. Unrecognized attributes are ignored — the HAR
// cookie object has no place for them.
func parseSetCookieLine(line string) harfile.Cookie {
	parts := strings.Split(line, ";")
	if len(parts) == 0 {
		return harfile.Cookie{}
	}

	nameValue := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	cookie := harfile.Cookie{Name: strings.TrimSpace(nameValue[0])}
	if len(nameValue) == 2 {
		cookie.Value = nameValue[1]
	}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		switch {
		case strings.EqualFold(attr, "HttpOnly"):
			cookie.HTTPOnly = true
		case strings.EqualFold(attr, "Secure"):
			cookie.Secure = true
		case strings.HasPrefix(strings.ToLower(attr), "path="):
			cookie.Path = attr[len("path="):]
		case strings.HasPrefix(strings.ToLower(attr), "domain="):
			cookie.Domain = attr[len("domain="):]
		}
	}

	return cookie
}
