package service

import (
	"math"

	"agentmirror/internal/domain/model"
)

// AllocationInput is one enter candidate for capital allocation.
type AllocationInput struct {
	Symbol   string
	Margin   float64
	Quantity float64
	Leverage float64
	Side     model.Side
}

// AllocateCapital scales the margins of entries proportionally so they fit
// in totalMargin. It never scales up: the ratio is capped at 1. Entries with
// non-positive margin are left out of both the sum and the result.
func AllocateCapital(entries []AllocationInput, totalMargin float64) model.CapitalAllocationResult {
	res := model.CapitalAllocationResult{
		Allocations: make(map[string]model.Allocation, len(entries)),
	}

	sumOriginal := 0.0
	for _, e := range entries {
		if e.Margin > 0 {
			sumOriginal += e.Margin
		}
	}
	res.TotalOriginalMargin = sumOriginal

	ratio := 0.0
	if sumOriginal > 0 && totalMargin > 0 {
		ratio = math.Min(1, totalMargin/sumOriginal)
	}

	for _, e := range entries {
		if e.Margin <= 0 {
			continue
		}
		allocated := e.Margin * ratio
		alloc := model.Allocation{
			OriginalMargin:   e.Margin,
			AllocatedMargin:  allocated,
			NotionalValue:    allocated * e.Leverage,
			AdjustedQuantity: e.Quantity * ratio,
			AllocationRatio:  ratio,
		}
		res.Allocations[e.Symbol] = alloc
		res.TotalAllocatedMargin += allocated
		res.TotalNotionalValue += alloc.NotionalValue
	}
	return res
}
