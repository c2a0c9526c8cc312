package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiredProgramsContains(t *testing.T) {
	want := RequiredPrograms{"psi4": "", "geometric": "1.0"}

	assert.True(t, want.Contains(RequiredPrograms{"psi4": "1.9", "geometric": "1.0"}))
	assert.False(t, want.Contains(RequiredPrograms{"psi4": "1.9"}), "missing geometric")
	assert.False(t, want.Contains(RequiredPrograms{"psi4": "1.9", "geometric": "0.9"}), "version mismatch")
	assert.True(t, RequiredPrograms{}.Contains(RequiredPrograms{}), "no requirements always satisfied")
}
