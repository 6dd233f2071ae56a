package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"agentmirror/internal/domain/model"
)

func TestCheckTolerance(t *testing.T) {
	tests := []struct {
		name          string
		entry, cur    float64
		tol           float64
		wantExecute   bool
		wantDiff      float64
		reasonContain string
	}{
		{"equal prices", 100, 100, 1, true, 0, "within tolerance"},
		{"at boundary", 100, 101, 1, true, 1, "within tolerance"},
		{"above", 100, 102, 1, false, 2, "exceeds tolerance"},
		{"below", 100, 97, 2, false, 3, "exceeds tolerance"},
		{"zero entry", 0, 100, 1, false, 0, "invalid prices"},
		{"nan current", 100, math.NaN(), 1, false, 0, "invalid prices"},
		{"negative tolerance", 100, 100, -1, false, 0, "invalid tolerance"},
		{"inf tolerance", 100, 100, math.Inf(1), false, 0, "invalid tolerance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CheckTolerance(tt.entry, tt.cur, tt.tol)
			assert.Equal(t, tt.wantExecute, res.ShouldExecute)
			assert.Equal(t, tt.wantExecute, res.WithinTolerance)
			assert.InDelta(t, tt.wantDiff, res.PriceDifference, 1e-9)
			assert.Contains(t, res.Reason, tt.reasonContain)
		})
	}
}

func TestRiskGateSymbolOverride(t *testing.T) {
	g := NewRiskGate(-1, map[string]float64{"btcusdt": 0.5, "DOGEUSDT": -2})

	assert.Equal(t, DefaultPriceTolerance, g.DefaultTolerance)
	assert.Equal(t, 0.5, g.ToleranceFor("BTCUSDT"))
	assert.Equal(t, DefaultPriceTolerance, g.ToleranceFor("DOGEUSDT"), "negative override falls back")
	assert.Equal(t, DefaultPriceTolerance, g.ToleranceFor("ETHUSDT"))

	assert.False(t, g.Check("BTCUSDT", 100, 100.8).ShouldExecute)
	assert.True(t, g.Check("ETHUSDT", 100, 100.8).ShouldExecute)

	g.SetSymbolTolerance("ETHUSDT", 0.1)
	assert.False(t, g.Check("ETHUSDT", 100, 100.8).ShouldExecute)
}

func TestRiskGateZeroToleranceIsExact(t *testing.T) {
	g := NewRiskGate(0, map[string]float64{"BTCUSDT": 0})

	res := g.Check("BTCUSDT", 100, 100.5)
	assert.Zero(t, res.Tolerance)
	assert.InDelta(t, 0.5, res.PriceDifference, 1e-9)
	assert.False(t, res.ShouldExecute)
	assert.True(t, g.Check("BTCUSDT", 100, 100).ShouldExecute)

	g = NewRiskGate(2, map[string]float64{"BTCUSDT": 0})
	assert.Zero(t, g.ToleranceFor("BTCUSDT"))
	assert.Equal(t, 2.0, g.ToleranceFor("ETHUSDT"))
}

func TestShouldExitPosition(t *testing.T) {
	plan := func(tp, sl float64) *model.ExitPlan { return &model.ExitPlan{ProfitTarget: tp, StopLoss: sl} }
	tests := []struct {
		name   string
		pos    model.Position
		exit   bool
		reason string
	}{
		{"long take profit", model.Position{Quantity: 1, CurrentPrice: 45000, ExitPlan: plan(45000, 40000)}, true, "Take profit at 45000"},
		{"long stop loss", model.Position{Quantity: 1, CurrentPrice: 39999.5, ExitPlan: plan(45000, 40000)}, true, "Stop loss at 40000"},
		{"long inside band", model.Position{Quantity: 1, CurrentPrice: 42000, ExitPlan: plan(45000, 40000)}, false, ""},
		{"short take profit", model.Position{Quantity: -1, CurrentPrice: 2.5, ExitPlan: plan(2.5, 3.1)}, true, "Take profit at 2.5"},
		{"short stop loss", model.Position{Quantity: -1, CurrentPrice: 3.2, ExitPlan: plan(2.5, 3.1)}, true, "Stop loss at 3.1"},
		{"zero legs ignored", model.Position{Quantity: 1, CurrentPrice: 1, ExitPlan: plan(0, 0)}, false, ""},
		{"no plan", model.Position{Quantity: 1, CurrentPrice: 45000}, false, ""},
		{"flat", model.Position{CurrentPrice: 45000, ExitPlan: plan(45000, 40000)}, false, ""},
		{"no current price", model.Position{Quantity: 1, ExitPlan: plan(45000, 40000)}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exit, reason := ShouldExitPosition(tt.pos)
			assert.Equal(t, tt.exit, exit)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
