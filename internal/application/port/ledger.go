package port

import (
	"context"
	"time"

	"agentmirror/internal/domain/model"
)

// Ledger is the persisted order history and the idempotency backbone.
// Implementations must keep at most one active entry per (agent, symbol).
type Ledger interface {
	// IsProcessed reports whether an entry with this id was ever committed for the agent.
	IsProcessed(ctx context.Context, agent string, entryID int64) (bool, error)
	// GetActiveEntry returns the latest unclosed entry or nil.
	GetActiveEntry(ctx context.Context, agent, symbol string) (*model.LedgerEntry, error)
	ListActiveEntries(ctx context.Context, agent string) ([]*model.LedgerEntry, error)
	ListEntries(ctx context.Context, agent string) ([]*model.LedgerEntry, error)
	// Commit records a successfully executed enter and closes any older active entry of the same symbol.
	Commit(ctx context.Context, entry *model.LedgerEntry) error
	// MarkClosed closes the active entry; entries are never deleted.
	MarkClosed(ctx context.Context, agent, symbol string, entryID int64, reason string, at time.Time) error
	CreatedAt(ctx context.Context) (time.Time, error)
	Close() error
}
