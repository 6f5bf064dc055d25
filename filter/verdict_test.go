package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "DROP port 8080 (port match)", drop(ReasonPortMatch, 8080).String())
	assert.Equal(t, "ALLOW (truncated)", allow(ReasonTruncated, 0).String())
	assert.Equal(t, "ALLOW port 443 (allowed port)", allow(ReasonPortAllowed, 443).String())
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, ReasonTruncated, reasonFor(ErrTruncated))
	assert.Equal(t, ReasonNotApplicable, reasonFor(ErrNotApplicable))
	assert.Equal(t, ReasonNoRule, reasonFor(ErrConfigAbsent))
}

func TestUnknownEnums(t *testing.T) {
	assert.Equal(t, "unknown(7)", Action(7).String())
	assert.Equal(t, "reason(200)", Reason(200).String())
	assert.Equal(t, "hook(9)", Hook(9).String())
}
