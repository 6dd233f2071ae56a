package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"agentmirror/internal/application/port"
	appservice "agentmirror/internal/application/service"
	"agentmirror/internal/domain/model"
	domainservice "agentmirror/internal/domain/service"
)

// ErrPassInProgress is returned when a pass for the same agent is still running.
var ErrPassInProgress = errors.New("reconciliation pass already in progress")

const (
	reasonReplaceCloseFailed = "replace close failed"
	reasonNoMargin           = "margin unavailable for allocation"
)

// Executor is the part of the execution coordinator the engine drives.
type Executor interface {
	Open(ctx context.Context, req appservice.OpenRequest) (*appservice.OpenResult, error)
	Close(ctx context.Context, symbol, reason string) (*appservice.CloseResult, error)
	OpenPositions(ctx context.Context) ([]model.ExchangePosition, error)
	AvailableBalance(ctx context.Context) (float64, error)
}

// Engine diffs an agent snapshot against the ledger and applies the difference.
type Engine struct {
	ledger port.Ledger
	exec   Executor
	risk   *domainservice.RiskGate

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewEngine(ledger port.Ledger, exec Executor, risk *domainservice.RiskGate) *Engine {
	if risk == nil {
		risk = domainservice.NewRiskGate(domainservice.DefaultPriceTolerance, nil)
	}
	return &Engine{
		ledger: ledger,
		exec:   exec,
		risk:   risk,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

func (e *Engine) agentLock(agent string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[agent]
	if !ok {
		l = &sync.Mutex{}
		e.locks[agent] = l
	}
	return l
}

// plannedAction is an action plus the bookkeeping needed to execute it.
type plannedAction struct {
	action model.Action
	// lastKnown is the entry an exit closes; nil when the exit comes from an
	// exchange-side position the ledger does not know about.
	lastKnown *model.LedgerEntry
	skipped   string
}

// Reconcile runs one pass for agent. totalMargin <= 0 disables capital allocation.
// The returned error reports ledger reads that failed; the pass result is still
// returned with every action that could be evaluated.
func (e *Engine) Reconcile(ctx context.Context, agent string, positions []model.Position, totalMargin float64) (*model.PassResult, error) {
	lock := e.agentLock(agent)
	if !lock.TryLock() {
		return nil, ErrPassInProgress
	}
	defer lock.Unlock()

	res := &model.PassResult{Agent: agent, StartedAt: e.now()}
	logger := log.With().Str("agent", agent).Logger()

	active, err := e.ledger.ListActiveEntries(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("list active entries: %w", err)
	}

	snapshot := make(map[string]model.Position, len(positions))
	invalid := make(map[string]bool)
	for _, p := range positions {
		p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
		if err := p.Validate(); err != nil {
			// never read an invalid record as a close
			logger.Warn().Str("symbol", p.Symbol).Err(err).Msg("invalid position in snapshot, symbol left untouched")
			invalid[p.Symbol] = true
			continue
		}
		if _, dup := snapshot[p.Symbol]; dup {
			logger.Warn().Str("symbol", p.Symbol).Msg("duplicate symbol in snapshot, keeping first")
			continue
		}
		snapshot[p.Symbol] = p
	}

	symbols := make(map[string]struct{}, len(snapshot)+len(active))
	for s := range snapshot {
		symbols[s] = struct{}{}
	}
	for _, a := range active {
		symbols[a.Symbol] = struct{}{}
	}
	ordered := make([]string, 0, len(symbols))
	for s := range symbols {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	exchange := map[string]model.ExchangePosition{}
	if hasExitPlans(snapshot) {
		exchange = e.exchangePositions(ctx, logger)
	}

	var (
		exits   []*plannedAction
		enters  []*plannedAction
		readErr []error
	)

	for _, symbol := range ordered {
		if invalid[symbol] {
			continue
		}
		pos, inSnapshot := snapshot[symbol]
		if !inSnapshot {
			pos = model.Position{Symbol: symbol}
		}

		lastKnown, err := e.ledger.GetActiveEntry(ctx, agent, symbol)
		if err != nil {
			logger.Error().Str("symbol", symbol).Err(err).Msg("ledger read failed, symbol skipped")
			readErr = append(readErr, fmt.Errorf("%s: %w", symbol, err))
			continue
		}

		x, n := e.classify(pos, lastKnown)

		// price-triggered exit on a live exchange position
		if x == nil && !pos.IsFlat() {
			if ep, ok := exchange[symbol]; ok && ep.Quantity != 0 {
				if exit, reason := domainservice.ShouldExitPosition(pos); exit {
					x = &plannedAction{
						action: model.Action{
							Kind:         model.ActionExit,
							Symbol:       symbol,
							Side:         model.SideForQuantity(ep.Quantity).Opposite(),
							Quantity:     math.Abs(ep.Quantity),
							CurrentPrice: pos.CurrentPrice,
							EntryID:      pos.EntryID,
							Reason:       reason,
						},
						lastKnown: lastKnown,
					}
				}
			}
		}

		if n != nil {
			ok, err := e.admitEnter(ctx, agent, n)
			if err != nil {
				logger.Error().Str("symbol", symbol).Err(err).Msg("idempotency check failed, symbol skipped")
				readErr = append(readErr, fmt.Errorf("%s: %w", symbol, err))
				continue
			}
			if !ok {
				n = nil
			}
		}

		if x != nil {
			exits = append(exits, x)
		}
		if n != nil {
			enters = append(enters, n)
		}
	}

	e.allocate(enters, totalMargin)

	// exits first so released margin is available to the enters
	var before float64
	if len(exits) > 0 {
		before = e.balance(ctx)
	}
	closeFailed := make(map[string]bool)
	for _, pa := range exits {
		ea := e.executeExit(ctx, agent, pa)
		if !ea.Success && pa.action.IsReplaceHalf() {
			closeFailed[pa.action.ReplaceGroup] = true
		}
		res.Actions = append(res.Actions, ea)
	}
	if len(exits) > 0 {
		if after := e.balance(ctx); after > before && before > 0 {
			res.ReleasedMargin = after - before
		}
	}

	for _, pa := range enters {
		if pa.skipped == "" && pa.action.IsReplaceHalf() && closeFailed[pa.action.ReplaceGroup] {
			pa.skipped = reasonReplaceCloseFailed
		}
		res.Actions = append(res.Actions, e.executeEnter(ctx, agent, pa))
	}

	res.FinishedAt = e.now()
	logger.Info().
		Int("actions", len(res.Actions)).
		Int("success", res.Count("success")).
		Int("failed", res.Count("failed")).
		Int("skipped", res.Count("skipped")).
		Float64("releasedMargin", res.ReleasedMargin).
		Dur("took", res.FinishedAt.Sub(res.StartedAt)).
		Msg("reconciliation pass finished")

	return res, errors.Join(readErr...)
}

// classify turns (snapshot, lastKnown) into at most one exit and one enter.
func (e *Engine) classify(pos model.Position, lastKnown *model.LedgerEntry) (exit, enter *plannedAction) {
	switch {
	case pos.IsFlat() && lastKnown != nil:
		return &plannedAction{
			action: model.Action{
				Kind:         model.ActionExit,
				Symbol:       pos.Symbol,
				Side:         lastKnown.Side.Opposite(),
				Quantity:     lastKnown.Quantity,
				CurrentPrice: pos.CurrentPrice,
				EntryID:      lastKnown.EntryID,
				Reason:       model.ReasonClosedByAgent,
			},
			lastKnown: lastKnown,
		}, nil

	case lastKnown != nil && pos.EntryID != lastKnown.EntryID:
		group := uuid.NewString()
		exit = &plannedAction{
			action: model.Action{
				Kind:         model.ActionExit,
				Symbol:       pos.Symbol,
				Side:         lastKnown.Side.Opposite(),
				Quantity:     lastKnown.Quantity,
				CurrentPrice: pos.CurrentPrice,
				EntryID:      lastKnown.EntryID,
				Reason:       model.ReasonReplaceClose,
				ReplaceGroup: group,
			},
			lastKnown: lastKnown,
		}
		enter = &plannedAction{action: enterAction(pos, model.ReasonReplaceOpen)}
		enter.action.PrevEntryID = lastKnown.EntryID
		enter.action.ReplaceGroup = group
		return exit, enter

	case lastKnown == nil && !pos.IsFlat():
		return nil, &plannedAction{action: enterAction(pos, model.ReasonNewEntry)}
	}
	return nil, nil
}

func enterAction(pos model.Position, reason string) model.Action {
	return model.Action{
		Kind:         model.ActionEnter,
		Symbol:       pos.Symbol,
		Side:         model.SideForQuantity(pos.Quantity),
		Quantity:     pos.AbsQuantity(),
		EntryPrice:   pos.EntryPrice,
		CurrentPrice: pos.CurrentPrice,
		Leverage:     pos.Leverage,
		Margin:       pos.Margin,
		EntryID:      pos.EntryID,
		Reason:       reason,
		ExitPlan:     pos.ExitPlan,
	}
}

// admitEnter applies the idempotency gate and the risk gate. A risk rejection
// keeps the action in the pass as skipped; an already processed entry is dropped.
func (e *Engine) admitEnter(ctx context.Context, agent string, pa *plannedAction) (bool, error) {
	done, err := e.ledger.IsProcessed(ctx, agent, pa.action.EntryID)
	if err != nil {
		return false, err
	}
	if done {
		log.Debug().Str("agent", agent).Str("symbol", pa.action.Symbol).Int64("entryID", pa.action.EntryID).Msg("entry already processed")
		return false, nil
	}

	tol := e.risk.Check(pa.action.Symbol, pa.action.EntryPrice, pa.action.CurrentPrice)
	pa.action.Tolerance = &tol
	if !tol.ShouldExecute {
		log.Warn().
			Str("agent", agent).
			Str("symbol", pa.action.Symbol).
			Float64("priceDiff", tol.PriceDifference).
			Float64("tolerance", tol.Tolerance).
			Msg("enter rejected by price tolerance")
		pa.skipped = tol.Reason
	}
	return true, nil
}

// allocate scales the surviving enters to the margin budget.
func (e *Engine) allocate(enters []*plannedAction, totalMargin float64) {
	if totalMargin <= 0 {
		return
	}
	var inputs []domainservice.AllocationInput
	for _, pa := range enters {
		if pa.skipped != "" {
			continue
		}
		if pa.action.Margin <= 0 {
			// cannot be sized against the budget
			log.Warn().Str("symbol", pa.action.Symbol).Int64("entryID", pa.action.EntryID).Msg("enter has no margin, skipped under total margin")
			pa.skipped = reasonNoMargin
			continue
		}
		inputs = append(inputs, domainservice.AllocationInput{
			Symbol:   pa.action.Symbol,
			Margin:   pa.action.Margin,
			Quantity: pa.action.Quantity,
			Leverage: pa.action.Leverage,
			Side:     pa.action.Side,
		})
	}
	if len(inputs) == 0 {
		return
	}

	alloc := domainservice.AllocateCapital(inputs, totalMargin)
	for _, pa := range enters {
		a, ok := alloc.Allocations[pa.action.Symbol]
		if !ok || pa.skipped != "" {
			continue
		}
		pa.action.Allocation = &a
		pa.action.Margin = a.AllocatedMargin
		pa.action.Quantity = a.AdjustedQuantity
		if a.AdjustedQuantity == 0 {
			pa.skipped = "allocated quantity is zero"
		}
	}
	log.Info().
		Float64("totalMargin", totalMargin).
		Float64("requested", alloc.TotalOriginalMargin).
		Float64("allocated", alloc.TotalAllocatedMargin).
		Float64("notional", alloc.TotalNotionalValue).
		Msg("capital allocated")
}

func (e *Engine) executeExit(ctx context.Context, agent string, pa *plannedAction) model.ExecutedAction {
	a := pa.action
	ea := model.ExecutedAction{Action: a}

	cr, err := e.exec.Close(ctx, a.Symbol, a.Reason)
	ea.ExecutedAt = e.now()
	if err != nil {
		ea.Err = domainservice.NormalizeError(err)
		log.Error().Str("agent", agent).Str("symbol", a.Symbol).Str("reason", a.Reason).Err(err).Msg("exit failed")
		return ea
	}
	ea.Success = true
	if cr != nil && len(cr.OrderIDs) > 0 {
		ea.OrderID = strings.Join(cr.OrderIDs, ",")
	}

	if pa.lastKnown != nil {
		if err := e.ledger.MarkClosed(ctx, agent, a.Symbol, pa.lastKnown.EntryID, a.Reason, ea.ExecutedAt); err != nil {
			ea.Warnings = append(ea.Warnings, "ledger close failed: "+err.Error())
			log.Error().Str("agent", agent).Str("symbol", a.Symbol).Err(err).Msg("ledger close failed")
		}
	}
	return ea
}

func (e *Engine) executeEnter(ctx context.Context, agent string, pa *plannedAction) model.ExecutedAction {
	a := pa.action
	ea := model.ExecutedAction{Action: a}
	if pa.skipped != "" {
		ea.Skipped = true
		ea.Err = pa.skipped
		ea.ExecutedAt = e.now()
		return ea
	}

	or, err := e.exec.Open(ctx, appservice.OpenRequest{
		Symbol:     a.Symbol,
		Side:       a.Side,
		Quantity:   a.Quantity,
		Leverage:   a.Leverage,
		EntryPrice: a.EntryPrice,
		Margin:     a.Margin,
		Reason:     a.Reason,
		ExitPlan:   a.ExitPlan,
	})
	ea.ExecutedAt = e.now()
	if err != nil {
		ea.Err = domainservice.NormalizeError(err)
		log.Error().Str("agent", agent).Str("symbol", a.Symbol).Int64("entryID", a.EntryID).Err(err).Msg("enter failed")
		return ea
	}

	ea.Success = true
	ea.OrderID = or.OrderID
	ea.TakeProfitOrderID = or.TakeProfitOrderID
	ea.StopLossOrderID = or.StopLossOrderID
	ea.Warnings = append(ea.Warnings, or.Warnings...)

	entry := &model.LedgerEntry{
		EntryID:   a.EntryID,
		Symbol:    a.Symbol,
		Agent:     agent,
		Timestamp: ea.ExecutedAt,
		Side:      a.Side,
		Quantity:  or.Quantity,
		Price:     or.Price,
		OrderID:   or.OrderID,
	}
	if entry.Quantity == 0 {
		entry.Quantity = a.Quantity
	}
	if err := e.ledger.Commit(ctx, entry); err != nil {
		ea.Warnings = append(ea.Warnings, "ledger commit failed: "+err.Error())
		log.Error().Str("agent", agent).Str("symbol", a.Symbol).Int64("entryID", a.EntryID).Err(err).Msg("ledger commit failed after order placement")
	}
	return ea
}

// hasExitPlans reports whether any open snapshot position carries a TP or SL leg.
func hasExitPlans(snapshot map[string]model.Position) bool {
	for _, p := range snapshot {
		if p.IsFlat() || p.ExitPlan == nil {
			continue
		}
		if p.ExitPlan.ProfitTarget > 0 || p.ExitPlan.StopLoss > 0 {
			return true
		}
	}
	return false
}

func (e *Engine) exchangePositions(ctx context.Context, logger zerolog.Logger) map[string]model.ExchangePosition {
	out := make(map[string]model.ExchangePosition)
	list, err := e.exec.OpenPositions(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("exchange positions unavailable, price exits disabled for this pass")
		return out
	}
	for _, p := range list {
		out[strings.ToUpper(p.Symbol)] = p
	}
	return out
}

func (e *Engine) balance(ctx context.Context) float64 {
	b, err := e.exec.AvailableBalance(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("balance read failed")
		return 0
	}
	return b
}
