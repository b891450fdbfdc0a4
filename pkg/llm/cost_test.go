package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCostUSD_KnownModel(t *testing.T) {
	got := EstimateCostUSD(1_000_000, 1_000_000, "sonnet")
	assert.InDelta(t, 18.00, got, 0.001)
}

func TestEstimateCostUSD_ZeroTokens(t *testing.T) {
	assert.Equal(t, 0.0, EstimateCostUSD(0, 0, "opus"))
}

func TestEstimateCostUSD_UnknownModelUsesDefaultPrice(t *testing.T) {
	got := EstimateCostUSD(1_000_000, 1_000_000, "some-unlisted-model")
	assert.InDelta(t, 4.00, got, 0.001)
}
