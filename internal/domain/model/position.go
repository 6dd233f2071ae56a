package model

import (
	"fmt"
	"math"
	"strings"
)

// ========== Side ==========

// Side is the order side on the exchange. For ledger entries it is the opening side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SideForQuantity maps a signed agent quantity to the opening side.
func SideForQuantity(qty float64) Side {
	if qty > 0 {
		return SideBuy
	}
	return SideSell
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ========== Agent snapshot ==========

// ExitPlan 代理给出的退出计划
type ExitPlan struct {
	ProfitTarget          float64 `json:"profit_target"`
	StopLoss              float64 `json:"stop_loss"`
	InvalidationCondition string  `json:"invalidation_condition,omitempty"`
}

// Position is one agent position as observed in a snapshot.
// Quantity is signed: positive long, negative short, zero flat.
type Position struct {
	Symbol       string    `json:"symbol"`
	EntryPrice   float64   `json:"entry_price"`
	Quantity     float64   `json:"quantity"`
	Leverage     float64   `json:"leverage"`
	CurrentPrice float64   `json:"current_price"`
	Confidence   float64   `json:"confidence"`
	EntryID      int64     `json:"entry_oid"`
	Margin       float64   `json:"margin"`
	ExitPlan     *ExitPlan `json:"exit_plan,omitempty"`
}

// IsFlat reports whether the position is logically closed.
func (p Position) IsFlat() bool {
	return p.Quantity == 0
}

// IsLong reports whether the position is long.
func (p Position) IsLong() bool {
	return p.Quantity > 0
}

// AbsQuantity returns |Quantity|.
func (p Position) AbsQuantity() float64 {
	return math.Abs(p.Quantity)
}

// Validate checks a snapshot position at the feed boundary.
// A flat position only needs a symbol; its other fields are ignored.
func (p Position) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return &ValidationError{Field: "symbol", Msg: "symbol is required"}
	}
	nums := map[string]float64{
		"entry_price":   p.EntryPrice,
		"quantity":      p.Quantity,
		"leverage":      p.Leverage,
		"current_price": p.CurrentPrice,
		"margin":        p.Margin,
	}
	for field, v := range nums {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: field, Msg: fmt.Sprintf("%s is not a finite number", field)}
		}
	}
	if p.IsFlat() {
		return nil
	}
	if p.Leverage < 0 {
		return &ValidationError{Field: "leverage", Msg: "Leverage must be greater than zero"}
	}
	if p.EntryPrice <= 0 {
		return &ValidationError{Field: "entry_price", Msg: "Entry price must be greater than zero"}
	}
	if p.Margin < 0 {
		return &ValidationError{Field: "margin", Msg: "margin cannot be negative"}
	}
	if p.ExitPlan != nil {
		if math.IsNaN(p.ExitPlan.ProfitTarget) || math.IsNaN(p.ExitPlan.StopLoss) {
			return &ValidationError{Field: "exit_plan", Msg: "exit plan prices are not finite numbers"}
		}
	}
	return nil
}

// ValidationError is a pre-check failure. It never has side effects and is never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return e.Msg
}
