package service

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// formatPrice prints a price without trailing zeros, e.g. 45000 or 0.1234.
func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RoundToStep rounds v down to a multiple of step. A non-positive step returns v unchanged.
// Decimal arithmetic keeps 0.1/0.001 style steps exact.
func RoundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Floor().Mul(s).Float64()
	return f
}

// RoundToTick rounds v to the nearest multiple of tick.
func RoundToTick(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	t := decimal.NewFromFloat(tick)
	f, _ := d.Div(t).Round(0).Mul(t).Float64()
	return f
}
