package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS ledger_entries (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  agent TEXT NOT NULL,
  entry_id INTEGER NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity REAL NOT NULL,
  price REAL NOT NULL,
  order_id TEXT NOT NULL DEFAULT '',
  ts_ms INTEGER NOT NULL,
  closed_at_ms INTEGER,
  close_reason TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  UNIQUE(agent, entry_id)
);
CREATE INDEX IF NOT EXISTS idx_ledger_active ON ledger_entries(agent, symbol, closed_at_ms);
CREATE INDEX IF NOT EXISTS idx_ledger_ts ON ledger_entries(ts_ms);

CREATE TABLE IF NOT EXISTS ledger_meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ledger_meta(key, value) VALUES('created_at', ?)`,
		strconv.FormatInt(time.Now().UnixMilli(), 10))
	return err
}

const entryColumns = `entry_id, symbol, agent, side, quantity, price, order_id, ts_ms, closed_at_ms, close_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (*model.LedgerEntry, error) {
	var (
		e      model.LedgerEntry
		side   string
		ts     int64
		closed sql.NullInt64
	)
	if err := s.Scan(&e.EntryID, &e.Symbol, &e.Agent, &side, &e.Quantity, &e.Price, &e.OrderID, &ts, &closed, &e.CloseReason); err != nil {
		return nil, err
	}
	e.Side = model.Side(side)
	e.Timestamp = time.UnixMilli(ts).UTC()
	if closed.Valid {
		at := time.UnixMilli(closed.Int64).UTC()
		e.ClosedAt = &at
	}
	return &e, nil
}

func (r *Repo) IsProcessed(ctx context.Context, agent string, entryID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ledger_entries WHERE agent=? AND entry_id=?`, agent, entryID).Scan(&n)
	return n > 0, err
}

func (r *Repo) GetActiveEntry(ctx context.Context, agent, symbol string) (*model.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE agent=? AND symbol=? AND closed_at_ms IS NULL
		ORDER BY ts_ms DESC, id DESC LIMIT 1`, agent, strings.ToUpper(symbol))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *Repo) ListActiveEntries(ctx context.Context, agent string) ([]*model.LedgerEntry, error) {
	return r.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE agent=? AND closed_at_ms IS NULL ORDER BY ts_ms, id`, agent)
}

// ListEntries returns the full history of agent; an empty agent lists every agent.
func (r *Repo) ListEntries(ctx context.Context, agent string) ([]*model.LedgerEntry, error) {
	if agent == "" {
		return r.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY ts_ms, id`)
	}
	return r.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE agent=? ORDER BY ts_ms, id`, agent)
}

func (r *Repo) query(ctx context.Context, q string, args ...any) ([]*model.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Commit inserts entry and closes any older active entry of the same symbol
// in one transaction. Re-committing an (agent, entry id) is a no-op.
func (r *Repo) Commit(ctx context.Context, entry *model.LedgerEntry) error {
	if entry == nil {
		return nil
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	symbol := strings.ToUpper(entry.Symbol)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ledger_entries WHERE agent=? AND entry_id=?`, entry.Agent, entry.EntryID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries SET closed_at_ms=?, close_reason=?
		WHERE agent=? AND symbol=? AND closed_at_ms IS NULL
	`, ts.UnixMilli(), model.ReasonReplaceClose, entry.Agent, symbol); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(agent, entry_id, symbol, side, quantity, price, order_id, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Agent, entry.EntryID, symbol, string(entry.Side), entry.Quantity, entry.Price, entry.OrderID,
		ts.UnixMilli(), time.Now().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repo) MarkClosed(ctx context.Context, agent, symbol string, entryID int64, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries SET closed_at_ms=?, close_reason=?
		WHERE agent=? AND symbol=? AND entry_id=? AND closed_at_ms IS NULL
	`, at.UnixMilli(), reason, agent, strings.ToUpper(symbol), entryID)
	return err
}

func (r *Repo) CreatedAt(ctx context.Context) (time.Time, error) {
	var v string
	if err := r.db.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key='created_at'`).Scan(&v); err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

var _ port.Ledger = (*Repo)(nil)
