package model

import "time"

// ========== Actions ==========

// ActionKind is the type of a reconciliation action. A replace is an EXIT
// followed by an ENTER sharing a ReplaceGroup, never a kind of its own.
type ActionKind string

const (
	ActionEnter ActionKind = "ENTER"
	ActionExit  ActionKind = "EXIT"
)

// Standard action reasons.
const (
	ReasonClosedByAgent = "position closed by agent"
	ReasonNewEntry      = "new position opened by agent"
	ReasonReplaceClose  = "agent re-entered with a new entry id"
	ReasonReplaceOpen   = "re-entry after replace"
)

// ToleranceResult 价格容忍度检查结果
type ToleranceResult struct {
	ShouldExecute   bool    `json:"should_execute"`
	WithinTolerance bool    `json:"within_tolerance"`
	PriceDifference float64 `json:"price_difference"` // percent
	Tolerance       float64 `json:"tolerance"`        // percent
	Reason          string  `json:"reason"`
}

// Allocation is the capital allocation applied to one Enter action.
type Allocation struct {
	OriginalMargin   float64 `json:"original_margin"`
	AllocatedMargin  float64 `json:"allocated_margin"`
	NotionalValue    float64 `json:"notional_value"`
	AdjustedQuantity float64 `json:"adjusted_quantity"`
	AllocationRatio  float64 `json:"allocation_ratio"`
}

// CapitalAllocationResult 资金分配结果
type CapitalAllocationResult struct {
	Allocations          map[string]Allocation `json:"allocations"`
	TotalAllocatedMargin float64               `json:"total_allocated_margin"`
	TotalNotionalValue   float64               `json:"total_notional_value"`
	TotalOriginalMargin  float64               `json:"total_original_margin"`
}

// Action is one step the engine wants applied to the exchange.
type Action struct {
	Kind         ActionKind       `json:"kind"`
	Symbol       string           `json:"symbol"`
	Side         Side             `json:"side"`
	Quantity     float64          `json:"quantity"`
	EntryPrice   float64          `json:"entry_price,omitempty"`
	CurrentPrice float64          `json:"current_price,omitempty"`
	Leverage     float64          `json:"leverage,omitempty"`
	Margin       float64          `json:"margin,omitempty"`
	EntryID      int64            `json:"entry_id,omitempty"`
	PrevEntryID  int64            `json:"prev_entry_id,omitempty"`
	Reason       string           `json:"reason"`
	ExitPlan     *ExitPlan        `json:"exit_plan,omitempty"`
	Tolerance    *ToleranceResult `json:"tolerance,omitempty"`
	Allocation   *Allocation      `json:"allocation,omitempty"`
	ReplaceGroup string           `json:"replace_group,omitempty"`
}

// IsReplaceHalf reports whether the action is one half of a replace.
func (a Action) IsReplaceHalf() bool {
	return a.ReplaceGroup != ""
}

// ExecutedAction is the outcome of one action in a pass.
type ExecutedAction struct {
	Action            Action    `json:"action"`
	Success           bool      `json:"success"`
	Skipped           bool      `json:"skipped,omitempty"`
	OrderID           string    `json:"order_id,omitempty"`
	TakeProfitOrderID string    `json:"take_profit_order_id,omitempty"`
	StopLossOrderID   string    `json:"stop_loss_order_id,omitempty"`
	Err               string    `json:"error,omitempty"`
	Warnings          []string  `json:"warnings,omitempty"`
	ExecutedAt        time.Time `json:"executed_at"`
}

// Result returns the metric label for the outcome.
func (e ExecutedAction) Result() string {
	switch {
	case e.Skipped:
		return "skipped"
	case e.Success:
		return "success"
	default:
		return "failed"
	}
}

// PassResult 单次对账结果
type PassResult struct {
	Agent          string           `json:"agent"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	Actions        []ExecutedAction `json:"actions"`
	ReleasedMargin float64          `json:"released_margin"`
}

// Count returns how many actions ended with the given result label.
func (r *PassResult) Count(result string) int {
	n := 0
	for _, a := range r.Actions {
		if a.Result() == result {
			n++
		}
	}
	return n
}
