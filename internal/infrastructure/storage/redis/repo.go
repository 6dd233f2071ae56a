package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// Repo stores the ledger in Redis hashes:
//
//	<prefix>:ledger:<agent>:entries  entry id -> json entry
//	<prefix>:ledger:<agent>:active   symbol   -> entry id
//	<prefix>:ledger:agents           set of agents with entries
type Repo struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "agentmirror"
	}
	return &Repo{rdb: rdb, prefix: prefix}
}

func (r *Repo) entriesKey(agent string) string { return r.prefix + ":ledger:" + agent + ":entries" }
func (r *Repo) activeKey(agent string) string  { return r.prefix + ":ledger:" + agent + ":active" }
func (r *Repo) agentsKey() string              { return r.prefix + ":ledger:agents" }
func (r *Repo) createdKey() string             { return r.prefix + ":ledger:created_at" }

// Close is a no-op: the client belongs to whoever passed it to New.
func (r *Repo) Close() error { return nil }

func (r *Repo) IsProcessed(ctx context.Context, agent string, entryID int64) (bool, error) {
	return r.rdb.HExists(ctx, r.entriesKey(agent), strconv.FormatInt(entryID, 10)).Result()
}

func (r *Repo) get(ctx context.Context, agent, field string) (*model.LedgerEntry, error) {
	raw, err := r.rdb.HGet(ctx, r.entriesKey(agent), field).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e model.LedgerEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode ledger entry %s/%s: %w", agent, field, err)
	}
	return &e, nil
}

func (r *Repo) put(ctx context.Context, pipe redis.Pipeliner, e *model.LedgerEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe.HSet(ctx, r.entriesKey(e.Agent), strconv.FormatInt(e.EntryID, 10), string(b))
	return nil
}

func (r *Repo) GetActiveEntry(ctx context.Context, agent, symbol string) (*model.LedgerEntry, error) {
	id, err := r.rdb.HGet(ctx, r.activeKey(agent), strings.ToUpper(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e, err := r.get(ctx, agent, id)
	if err != nil || e == nil || !e.Active() {
		return nil, err
	}
	return e, nil
}

func (r *Repo) ListActiveEntries(ctx context.Context, agent string) ([]*model.LedgerEntry, error) {
	ids, err := r.rdb.HVals(ctx, r.activeKey(agent)).Result()
	if err != nil {
		return nil, err
	}
	var out []*model.LedgerEntry
	for _, id := range ids {
		e, err := r.get(ctx, agent, id)
		if err != nil {
			return nil, err
		}
		if e != nil && e.Active() {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// ListEntries returns the full history of agent; an empty agent lists every agent.
func (r *Repo) ListEntries(ctx context.Context, agent string) ([]*model.LedgerEntry, error) {
	agents := []string{agent}
	if agent == "" {
		var err error
		if agents, err = r.rdb.SMembers(ctx, r.agentsKey()).Result(); err != nil {
			return nil, err
		}
	}
	var out []*model.LedgerEntry
	for _, a := range agents {
		vals, err := r.rdb.HVals(ctx, r.entriesKey(a)).Result()
		if err != nil {
			return nil, err
		}
		for _, raw := range vals {
			var e model.LedgerEntry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				return nil, err
			}
			out = append(out, &e)
		}
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(out []*model.LedgerEntry) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].EntryID < out[j].EntryID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
}

// Commit relies on one writer per agent; it is not atomic across keys.
func (r *Repo) Commit(ctx context.Context, entry *model.LedgerEntry) error {
	if entry == nil {
		return nil
	}
	e := *entry
	e.Symbol = strings.ToUpper(e.Symbol)
	e.ClosedAt = nil
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	done, err := r.IsProcessed(ctx, e.Agent, e.EntryID)
	if err != nil || done {
		return err
	}
	prev, err := r.GetActiveEntry(ctx, e.Agent, e.Symbol)
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	if prev != nil {
		at := e.Timestamp
		prev.ClosedAt = &at
		prev.CloseReason = model.ReasonReplaceClose
		if err := r.put(ctx, pipe, prev); err != nil {
			return err
		}
	}
	if err := r.put(ctx, pipe, &e); err != nil {
		return err
	}
	pipe.HSet(ctx, r.activeKey(e.Agent), e.Symbol, strconv.FormatInt(e.EntryID, 10))
	pipe.SAdd(ctx, r.agentsKey(), e.Agent)
	pipe.SetNX(ctx, r.createdKey(), time.Now().UnixMilli(), 0)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) MarkClosed(ctx context.Context, agent, symbol string, entryID int64, reason string, at time.Time) error {
	symbol = strings.ToUpper(symbol)
	e, err := r.get(ctx, agent, strconv.FormatInt(entryID, 10))
	if err != nil || e == nil || !e.Active() {
		return err
	}
	t := at
	e.ClosedAt = &t
	e.CloseReason = reason

	pipe := r.rdb.TxPipeline()
	if err := r.put(ctx, pipe, e); err != nil {
		return err
	}
	active, err := r.rdb.HGet(ctx, r.activeKey(agent), symbol).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if active == strconv.FormatInt(entryID, 10) {
		pipe.HDel(ctx, r.activeKey(agent), symbol)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) CreatedAt(ctx context.Context) (time.Time, error) {
	if err := r.rdb.SetNX(ctx, r.createdKey(), time.Now().UnixMilli(), 0).Err(); err != nil {
		return time.Time{}, err
	}
	ms, err := r.rdb.Get(ctx, r.createdKey()).Int64()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

var _ port.Ledger = (*Repo)(nil)
