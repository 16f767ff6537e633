package capture

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistenceGateQualifies(t *testing.T) {
	gate := PersistenceGate{Enabled: true, MaxBytes: 100, TypeMatcher: regexp.MustCompile(`^application/json`)}

	assert.True(t, gate.Qualifies("application/json", 50))
	assert.False(t, gate.Qualifies("application/json", 0))
	assert.False(t, gate.Qualifies("application/json", 200))
	assert.False(t, gate.Qualifies("text/html", 50))
}

func TestPersistenceGateDisabledNeverQualifies(t *testing.T) {
	gate := PersistenceGate{Enabled: false, MaxBytes: 100, TypeMatcher: regexp.MustCompile(`.*`)}
	assert.False(t, gate.Qualifies("application/json", 50))
}
