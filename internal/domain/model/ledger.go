package model

import "time"

// LedgerEntry 已成功执行的开仓记录
// ClosedAt is nil while the entry is the active position of (Agent, Symbol).
type LedgerEntry struct {
	EntryID     int64      `json:"entry_id"`
	Symbol      string     `json:"symbol"`
	Agent       string     `json:"agent"`
	Timestamp   time.Time  `json:"timestamp"`
	Side        Side       `json:"side"`
	Quantity    float64    `json:"quantity"`
	Price       float64    `json:"price"`
	OrderID     string     `json:"order_id,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
}

// Active reports whether the entry has not been superseded by a close or replace.
func (e *LedgerEntry) Active() bool {
	return e != nil && e.ClosedAt == nil
}
