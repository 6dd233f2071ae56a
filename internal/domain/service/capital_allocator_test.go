package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateCapitalScalesDown(t *testing.T) {
	res := AllocateCapital([]AllocationInput{
		{Symbol: "BTCUSDT", Margin: 500, Quantity: 0.2, Leverage: 10},
		{Symbol: "ETHUSDT", Margin: 300, Quantity: 4, Leverage: 5},
	}, 400)

	require.Len(t, res.Allocations, 2)
	btc, eth := res.Allocations["BTCUSDT"], res.Allocations["ETHUSDT"]

	assert.InDelta(t, 0.5, btc.AllocationRatio, 1e-12)
	assert.InDelta(t, 250, btc.AllocatedMargin, 1e-9)
	assert.InDelta(t, 150, eth.AllocatedMargin, 1e-9)
	assert.InDelta(t, 0.1, btc.AdjustedQuantity, 1e-12)
	assert.InDelta(t, 2, eth.AdjustedQuantity, 1e-12)
	assert.InDelta(t, 2500, btc.NotionalValue, 1e-9)
	assert.InDelta(t, 750, eth.NotionalValue, 1e-9)

	assert.InDelta(t, 800, res.TotalOriginalMargin, 1e-9)
	assert.InDelta(t, 400, res.TotalAllocatedMargin, 1e-9)
	assert.InDelta(t, 3250, res.TotalNotionalValue, 1e-9)
}

func TestAllocateCapitalNeverScalesUp(t *testing.T) {
	res := AllocateCapital([]AllocationInput{{Symbol: "BTCUSDT", Margin: 100, Quantity: 1, Leverage: 2}}, 1000)
	a := res.Allocations["BTCUSDT"]
	assert.Equal(t, 1.0, a.AllocationRatio)
	assert.Equal(t, 100.0, a.AllocatedMargin)
	assert.Equal(t, 1.0, a.AdjustedQuantity)
}

func TestAllocateCapitalBound(t *testing.T) {
	inputs := []AllocationInput{
		{Symbol: "A", Margin: 123.45, Quantity: 1, Leverage: 3},
		{Symbol: "B", Margin: 67.89, Quantity: 2, Leverage: 7},
		{Symbol: "C", Margin: 0.01, Quantity: 3, Leverage: 20},
		{Symbol: "D", Margin: 0, Quantity: 4, Leverage: 1},
		{Symbol: "E", Margin: -5, Quantity: 5, Leverage: 1},
	}
	for _, total := range []float64{0.5, 10, 99.99, 191.35, 1e6} {
		res := AllocateCapital(inputs, total)
		assert.LessOrEqual(t, res.TotalAllocatedMargin, total+1e-9)
		assert.NotContains(t, res.Allocations, "D")
		assert.NotContains(t, res.Allocations, "E")
		for _, a := range res.Allocations {
			assert.LessOrEqual(t, a.AllocationRatio, 1.0)
		}
	}
}

func TestAllocateCapitalEmpty(t *testing.T) {
	res := AllocateCapital(nil, 100)
	assert.Empty(t, res.Allocations)
	assert.Zero(t, res.TotalAllocatedMargin)
}
