package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
)

type entryKey struct {
	agent   string
	entryID int64
}

// Ledger is an in-process ledger. It does not survive restarts and is meant
// for dry runs and tests.
type Ledger struct {
	mu        sync.RWMutex
	entries   []*model.LedgerEntry
	processed map[entryKey]struct{}
	createdAt time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		processed: make(map[entryKey]struct{}),
		createdAt: time.Now(),
	}
}

func (l *Ledger) IsProcessed(_ context.Context, agent string, entryID int64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.processed[entryKey{agent, entryID}]
	return ok, nil
}

func (l *Ledger) GetActiveEntry(_ context.Context, agent, symbol string) (*model.LedgerEntry, error) {
	symbol = strings.ToUpper(symbol)
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Agent == agent && e.Symbol == symbol && e.Active() {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (l *Ledger) ListActiveEntries(_ context.Context, agent string) ([]*model.LedgerEntry, error) {
	return l.list(agent, true), nil
}

func (l *Ledger) ListEntries(_ context.Context, agent string) ([]*model.LedgerEntry, error) {
	return l.list(agent, false), nil
}

func (l *Ledger) list(agent string, activeOnly bool) []*model.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*model.LedgerEntry
	for _, e := range l.entries {
		if agent != "" && e.Agent != agent {
			continue
		}
		if activeOnly && !e.Active() {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (l *Ledger) Commit(_ context.Context, entry *model.LedgerEntry) error {
	if entry == nil {
		return nil
	}
	cp := *entry
	cp.Symbol = strings.ToUpper(cp.Symbol)
	cp.ClosedAt = nil
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.processed[entryKey{cp.Agent, cp.EntryID}]; dup {
		return nil
	}
	for _, e := range l.entries {
		if e.Agent == cp.Agent && e.Symbol == cp.Symbol && e.Active() {
			at := cp.Timestamp
			e.ClosedAt = &at
			e.CloseReason = model.ReasonReplaceClose
		}
	}
	l.entries = append(l.entries, &cp)
	l.processed[entryKey{cp.Agent, cp.EntryID}] = struct{}{}
	return nil
}

func (l *Ledger) MarkClosed(_ context.Context, agent, symbol string, entryID int64, reason string, at time.Time) error {
	symbol = strings.ToUpper(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Agent == agent && e.Symbol == symbol && e.EntryID == entryID && e.Active() {
			t := at
			e.ClosedAt = &t
			e.CloseReason = reason
		}
	}
	return nil
}

func (l *Ledger) CreatedAt(context.Context) (time.Time, error) {
	return l.createdAt, nil
}

func (l *Ledger) Close() error { return nil }

var _ port.Ledger = (*Ledger)(nil)
