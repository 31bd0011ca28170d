package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, jaccard("the same words", "the same words"), 1e-9)
	assert.InDelta(t, 0.0, jaccard("completely different", "nothing shared"), 1e-9)
	assert.Zero(t, jaccard("", "anything"))

	partial := jaccard("we should pilot the tool", "we should measure the outcome")
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 1.0)
}

func TestOpener(t *testing.T) {
	assert.Equal(t, "i think", opener("I think we should start."))
	assert.Equal(t, "yes", opener("Yes."))
	assert.Equal(t, "", opener("   "))
}

func TestSharedNgramRatio(t *testing.T) {
	a := "we should run a longer pilot before committing"
	assert.InDelta(t, 1.0, sharedNgramRatio(a, a, 3), 1e-9)
	assert.Zero(t, sharedNgramRatio("too short", "also short", 3))
	assert.Zero(t, sharedNgramRatio(a, "entirely unrelated sentence with different words here", 3))
}

func TestLengthAppropriateness(t *testing.T) {
	assert.Zero(t, lengthAppropriateness(""))
	assert.Less(t, lengthAppropriateness("ok"), 0.5)
	assert.InDelta(t, 1.0, lengthAppropriateness(stringOfLen(300)), 1e-9)
	assert.Less(t, lengthAppropriateness(stringOfLen(3000)), 1.0)
}

func TestMarkerDensity(t *testing.T) {
	assert.Zero(t, markerDensity("", agreementMarkers))
	assert.Greater(t, markerDensity("I agree, that makes sense and we are aligned.", agreementMarkers), 0.0)
}

func stringOfLen(n int) string {
	b := make([]rune, n)
	for i := range b {
		if i%6 == 5 {
			b[i] = ' '
		} else {
			b[i] = 'x'
		}
	}
	return string(b)
}
