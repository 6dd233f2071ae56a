package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS ledger_entries (
  id BIGSERIAL PRIMARY KEY,
  agent TEXT NOT NULL,
  entry_id BIGINT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity DOUBLE PRECISION NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  order_id TEXT NOT NULL DEFAULT '',
  ts TIMESTAMPTZ NOT NULL,
  closed_at TIMESTAMPTZ,
  close_reason TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(agent, entry_id)
);
CREATE INDEX IF NOT EXISTS idx_ledger_active ON ledger_entries(agent, symbol) WHERE closed_at IS NULL;

CREATE TABLE IF NOT EXISTS ledger_meta (
  key TEXT PRIMARY KEY,
  value TIMESTAMPTZ NOT NULL
);
INSERT INTO ledger_meta(key, value) VALUES('created_at', now()) ON CONFLICT (key) DO NOTHING;
`)
	return err
}

const entryColumns = `entry_id, symbol, agent, side, quantity, price, order_id, ts, closed_at, close_reason`

func scanEntry(s interface{ Scan(...any) error }) (*model.LedgerEntry, error) {
	var (
		e      model.LedgerEntry
		side   string
		closed sql.NullTime
	)
	if err := s.Scan(&e.EntryID, &e.Symbol, &e.Agent, &side, &e.Quantity, &e.Price, &e.OrderID, &e.Timestamp, &closed, &e.CloseReason); err != nil {
		return nil, err
	}
	e.Side = model.Side(side)
	if closed.Valid {
		at := closed.Time
		e.ClosedAt = &at
	}
	return &e, nil
}

func (r *Repo) IsProcessed(ctx context.Context, agent string, entryID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE agent=$1 AND entry_id=$2)`, agent, entryID).Scan(&ok)
	return ok, err
}

func (r *Repo) GetActiveEntry(ctx context.Context, agent, symbol string) (*model.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE agent=$1 AND symbol=$2 AND closed_at IS NULL
		ORDER BY ts DESC, id DESC LIMIT 1`, agent, strings.ToUpper(symbol))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *Repo) ListActiveEntries(ctx context.Context, agent string) ([]*model.LedgerEntry, error) {
	return r.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE agent=$1 AND closed_at IS NULL ORDER BY ts, id`, agent)
}

func (r *Repo) ListEntries(ctx context.Context, agent string) ([]*model.LedgerEntry, error) {
	if agent == "" {
		return r.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY ts, id`)
	}
	return r.query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE agent=$1 ORDER BY ts, id`, agent)
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

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries(agent, entry_id, symbol, side, quantity, price, order_id, ts)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (agent, entry_id) DO NOTHING
	`, entry.Agent, entry.EntryID, symbol, string(entry.Side), entry.Quantity, entry.Price, entry.OrderID, ts)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries SET closed_at=$1, close_reason=$2
		WHERE agent=$3 AND symbol=$4 AND closed_at IS NULL AND entry_id<>$5
	`, ts, model.ReasonReplaceClose, entry.Agent, symbol, entry.EntryID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repo) MarkClosed(ctx context.Context, agent, symbol string, entryID int64, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries SET closed_at=$1, close_reason=$2
		WHERE agent=$3 AND symbol=$4 AND entry_id=$5 AND closed_at IS NULL
	`, at, reason, agent, strings.ToUpper(symbol), entryID)
	return err
}

func (r *Repo) CreatedAt(ctx context.Context) (time.Time, error) {
	var at time.Time
	err := r.db.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key='created_at'`).Scan(&at)
	return at, err
}

var _ port.Ledger = (*Repo)(nil)
