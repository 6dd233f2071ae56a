package service

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"agentmirror/internal/domain/model"
)

// DefaultPriceTolerance is the fallback tolerance in percent.
const DefaultPriceTolerance = 1.0

// CheckTolerance decides whether an action may proceed at currentPrice given
// the agent's entryPrice. tolerance is a percent. Bad inputs reject, never panic.
func CheckTolerance(entryPrice, currentPrice, tolerance float64) model.ToleranceResult {
	res := model.ToleranceResult{Tolerance: tolerance}

	if !finite(entryPrice) || !finite(currentPrice) || entryPrice <= 0 || currentPrice <= 0 {
		res.Reason = fmt.Sprintf("invalid prices: entry=%v current=%v", entryPrice, currentPrice)
		return res
	}
	if !finite(tolerance) || tolerance < 0 {
		res.Reason = fmt.Sprintf("invalid tolerance: %v", tolerance)
		return res
	}

	diff := math.Abs(currentPrice-entryPrice) / entryPrice * 100
	res.PriceDifference = diff
	res.WithinTolerance = diff <= tolerance
	res.ShouldExecute = res.WithinTolerance
	if res.ShouldExecute {
		res.Reason = fmt.Sprintf("price difference %.4f%% within tolerance %.4f%%", diff, tolerance)
	} else {
		res.Reason = fmt.Sprintf("price difference %.4f%% exceeds tolerance %.4f%%", diff, tolerance)
	}
	return res
}

// RiskGate resolves tolerances per symbol with a global default.
type RiskGate struct {
	mu               sync.RWMutex
	DefaultTolerance float64
	symbolTolerance  map[string]float64
}

// NewRiskGate creates a gate. A negative default falls back to DefaultPriceTolerance;
// zero accepts only the exact entry price.
func NewRiskGate(defaultTolerance float64, perSymbol map[string]float64) *RiskGate {
	if defaultTolerance < 0 || math.IsNaN(defaultTolerance) {
		defaultTolerance = DefaultPriceTolerance
	}
	g := &RiskGate{
		DefaultTolerance: defaultTolerance,
		symbolTolerance:  make(map[string]float64, len(perSymbol)),
	}
	for sym, tol := range perSymbol {
		g.SetSymbolTolerance(sym, tol)
	}
	return g
}

// SetSymbolTolerance overrides the tolerance of one symbol.
func (g *RiskGate) SetSymbolTolerance(symbol string, tolerance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.symbolTolerance[strings.ToUpper(strings.TrimSpace(symbol))] = tolerance
}

// ToleranceFor returns the symbol override or the default.
func (g *RiskGate) ToleranceFor(symbol string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if tol, ok := g.symbolTolerance[strings.ToUpper(strings.TrimSpace(symbol))]; ok && tol >= 0 {
		return tol
	}
	return g.DefaultTolerance
}

// Check runs CheckTolerance with the symbol's tolerance.
func (g *RiskGate) Check(symbol string, entryPrice, currentPrice float64) model.ToleranceResult {
	return CheckTolerance(entryPrice, currentPrice, g.ToleranceFor(symbol))
}

// ShouldExitPosition evaluates the agent's exit plan against the current price.
// The profit target is checked before the stop loss; zero legs are ignored.
func ShouldExitPosition(p model.Position) (bool, string) {
	if p.IsFlat() || p.ExitPlan == nil {
		return false, ""
	}
	tp, sl, px := p.ExitPlan.ProfitTarget, p.ExitPlan.StopLoss, p.CurrentPrice
	if px <= 0 {
		return false, ""
	}

	if p.IsLong() {
		if tp > 0 && px >= tp {
			return true, fmt.Sprintf("Take profit at %s", formatPrice(tp))
		}
		if sl > 0 && px <= sl {
			return true, fmt.Sprintf("Stop loss at %s", formatPrice(sl))
		}
		return false, ""
	}

	if tp > 0 && px <= tp {
		return true, fmt.Sprintf("Take profit at %s", formatPrice(tp))
	}
	if sl > 0 && px >= sl {
		return true, fmt.Sprintf("Stop loss at %s", formatPrice(sl))
	}
	return false, ""
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
