package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToStep(t *testing.T) {
	assert.Equal(t, 0.123, RoundToStep(0.12345, 0.001))
	assert.Equal(t, 1.0, RoundToStep(1.99, 1))
	assert.Equal(t, 0.3, RoundToStep(0.3, 0.1))
	assert.Equal(t, 0.0, RoundToStep(0.0004, 0.001))
	assert.Equal(t, 1.2345, RoundToStep(1.2345, 0))
}

func TestRoundToTick(t *testing.T) {
	assert.Equal(t, 58000.1, RoundToTick(58000.06, 0.1))
	assert.Equal(t, 65000.0, RoundToTick(65000.04, 0.1))
	assert.Equal(t, 0.1235, RoundToTick(0.12346, 0.0001))
	assert.Equal(t, 7.7, RoundToTick(7.7, -1))
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "45000", formatPrice(45000))
	assert.Equal(t, "0.1234", formatPrice(0.1234))
}
