package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSides(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
	assert.Equal(t, SideBuy, SideForQuantity(0.1))
	assert.Equal(t, SideSell, SideForQuantity(-0.1))
	assert.True(t, SideBuy.Valid())
	assert.False(t, Side("HOLD").Valid())
}

func TestPositionValidate(t *testing.T) {
	ok := Position{Symbol: "BTCUSDT", EntryPrice: 60000, Quantity: 0.1, Leverage: 10, Margin: 600}
	assert.NoError(t, ok.Validate())
	assert.NoError(t, Position{Symbol: "BTCUSDT"}.Validate(), "flat needs only a symbol")

	tests := map[string]Position{
		"symbol":      {EntryPrice: 1, Quantity: 1},
		"entry_price": {Symbol: "X", Quantity: 1},
		"leverage":    {Symbol: "X", EntryPrice: 1, Quantity: 1, Leverage: -1},
		"margin":      {Symbol: "X", EntryPrice: 1, Quantity: 1, Margin: -1},
		"quantity":    {Symbol: "X", EntryPrice: 1, Quantity: math.NaN()},
		"exit_plan":   {Symbol: "X", EntryPrice: 1, Quantity: 1, ExitPlan: &ExitPlan{ProfitTarget: math.NaN()}},
	}
	for field, p := range tests {
		t.Run(field, func(t *testing.T) {
			err := p.Validate()
			var ve *ValidationError
			if assert.ErrorAs(t, err, &ve) {
				assert.Equal(t, field, ve.Field)
			}
		})
	}
}

func TestPassResultCount(t *testing.T) {
	res := &PassResult{Actions: []ExecutedAction{
		{Success: true}, {Success: true}, {Skipped: true}, {Err: "x"},
	}}
	assert.Equal(t, 2, res.Count("success"))
	assert.Equal(t, 1, res.Count("skipped"))
	assert.Equal(t, 1, res.Count("failed"))
}

func TestLedgerEntryActive(t *testing.T) {
	var nilEntry *LedgerEntry
	assert.False(t, nilEntry.Active())
	assert.True(t, (&LedgerEntry{}).Active())
}
