package composite

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
)

// Repo reads from the primary ledger and fans writes out to mirrors.
// Only the primary's write error is returned; mirror failures are logged.
type Repo struct {
	primary port.Ledger
	mirrors []port.Ledger
}

func New(primary port.Ledger, mirrors ...port.Ledger) *Repo {
	// nil mirrors are allowed; filter in constructor for safety
	out := make([]port.Ledger, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			out = append(out, m)
		}
	}
	return &Repo{primary: primary, mirrors: out}
}

func (r *Repo) IsProcessed(ctx context.Context, agent string, entryID int64) (bool, error) {
	return r.primary.IsProcessed(ctx, agent, entryID)
}

func (r *Repo) GetActiveEntry(ctx context.Context, agent, symbol string) (*model.LedgerEntry, error) {
	return r.primary.GetActiveEntry(ctx, agent, symbol)
}

func (r *Repo) ListActiveEntries(ctx context.Context, agent string) ([]*model.LedgerEntry, error) {
	return r.primary.ListActiveEntries(ctx, agent)
}

func (r *Repo) ListEntries(ctx context.Context, agent string) ([]*model.LedgerEntry, error) {
	return r.primary.ListEntries(ctx, agent)
}

func (r *Repo) CreatedAt(ctx context.Context) (time.Time, error) {
	return r.primary.CreatedAt(ctx)
}

func (r *Repo) Commit(ctx context.Context, entry *model.LedgerEntry) error {
	if err := r.primary.Commit(ctx, entry); err != nil {
		return err
	}
	for i, m := range r.mirrors {
		if err := m.Commit(ctx, entry); err != nil {
			log.Warn().Int("mirror", i).Err(err).Int64("entryID", entry.EntryID).Msg("ledger mirror commit failed")
		}
	}
	return nil
}

func (r *Repo) MarkClosed(ctx context.Context, agent, symbol string, entryID int64, reason string, at time.Time) error {
	if err := r.primary.MarkClosed(ctx, agent, symbol, entryID, reason, at); err != nil {
		return err
	}
	for i, m := range r.mirrors {
		if err := m.MarkClosed(ctx, agent, symbol, entryID, reason, at); err != nil {
			log.Warn().Int("mirror", i).Err(err).Int64("entryID", entryID).Msg("ledger mirror close failed")
		}
	}
	return nil
}

func (r *Repo) Close() error {
	errs := []error{r.primary.Close()}
	for _, m := range r.mirrors {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}

var _ port.Ledger = (*Repo)(nil)
