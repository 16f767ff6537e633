package capture

import (
	"regexp"

	"github.com/nimbusbrowse/netwatch/internal/capturemodel"
)

// BodySaver is the subset of the Capture Session's contract the engine
// needs to persist a qualifying response body. internal/session.Session
// satisfies this interface.
type BodySaver interface {
	SaveBody(idHint string, body []byte, contentType string) (capturemodel.BodyDescriptor, error)
}

// PersistenceGate decides whether a response body qualifies for
// persistence, per spec.md §4.3's body persistence gate: enabled, size >
// 0, size within the configured max, and content-type matching the
// configured pattern.
type PersistenceGate struct {
	Enabled     bool
	MaxBytes    int64
	TypeMatcher *regexp.Regexp
}

// Qualifies reports whether a body of contentType and size bytes should
// be persisted.
func (g PersistenceGate) Qualifies(contentType string, size int) bool {
	if !g.Enabled || size <= 0 {
		return false
	}
	if g.MaxBytes > 0 && int64(size) > g.MaxBytes {
		return false
	}
	if g.TypeMatcher == nil {
		return false
	}
	return g.TypeMatcher.MatchString(contentType)
}
