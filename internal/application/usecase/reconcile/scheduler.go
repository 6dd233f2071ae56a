package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
)

// Observer receives pass outcomes, typically for metrics.
type Observer interface {
	ObservePass(res *model.PassResult, took time.Duration)
	ObserveOrphans(cancelled int, errs int)
	ObserveError(agent, stage string)
}

// OrphanCleaner cancels protective orders left behind on flat symbols.
type OrphanCleaner interface {
	CleanOrphanedOrders(ctx context.Context) (model.CleanupResult, error)
}

type SchedulerDeps struct {
	Engine       *Engine
	Source       port.PositionSource
	Cleaner      OrphanCleaner // optional
	Sink         port.ResultSink
	Publisher    port.EventPublisher // optional
	Observer     Observer            // optional
	Agents       []string
	Interval     time.Duration
	TotalMargin  float64
	CleanOrphans bool
}

// Scheduler triggers one pass per agent per interval. Passes of one agent are
// sequential; a pass already running when shutdown arrives completes.
type Scheduler struct {
	deps SchedulerDeps
}

func NewScheduler(deps SchedulerDeps) *Scheduler {
	if deps.Interval <= 0 {
		deps.Interval = time.Minute
	}
	return &Scheduler{deps: deps}
}

// Run blocks until ctx is done. Each agent gets its own loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.deps.Agents) == 0 {
		return errors.New("no agents configured")
	}

	var wg sync.WaitGroup
	for _, agent := range s.deps.Agents {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			s.loop(ctx, agent)
		}(agent)
		log.Info().Str("agent", agent).Dur("interval", s.deps.Interval).Msg("mirror loop started")
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, agent string) {
	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx, agent); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Str("agent", agent).Err(err).Msg("pass failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Str("agent", agent).Msg("mirror loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce fetches the agent snapshot and runs a single pass. Once the snapshot
// is fetched the pass runs on a context that ignores cancellation.
func (s *Scheduler) RunOnce(ctx context.Context, agent string) (*model.PassResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	positions, err := s.deps.Source.Fetch(ctx, agent)
	if err != nil {
		s.observeError(agent, "fetch")
		return nil, err
	}

	passCtx := context.WithoutCancel(ctx)
	start := time.Now()
	res, err := s.deps.Engine.Reconcile(passCtx, agent, positions, s.deps.TotalMargin)
	if errors.Is(err, ErrPassInProgress) {
		log.Warn().Str("agent", agent).Msg("previous pass still running, tick skipped")
		return nil, err
	}
	if err != nil {
		s.observeError(agent, "ledger")
	}
	if res == nil {
		return nil, err
	}

	if s.deps.Observer != nil {
		s.deps.Observer.ObservePass(res, time.Since(start))
	}
	if s.deps.Sink != nil {
		if werr := s.deps.Sink.WritePass(res); werr != nil {
			log.Warn().Err(werr).Msg("write pass result failed")
		}
	}
	if s.deps.Publisher != nil {
		for _, a := range res.Actions {
			if a.Skipped {
				continue
			}
			if perr := s.deps.Publisher.PublishAction(passCtx, agent, a); perr != nil {
				log.Warn().Str("agent", agent).Str("symbol", a.Action.Symbol).Err(perr).Msg("publish action failed")
			}
		}
	}

	if s.deps.CleanOrphans && s.deps.Cleaner != nil {
		s.cleanOrphans(passCtx, agent)
	}
	return res, err
}

func (s *Scheduler) cleanOrphans(ctx context.Context, agent string) {
	cr, err := s.deps.Cleaner.CleanOrphanedOrders(ctx)
	if err != nil {
		s.observeError(agent, "orphans")
		log.Warn().Err(err).Msg("orphan cleanup failed")
		return
	}
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveOrphans(cr.CancelledCount, len(cr.Errors))
	}
	if cr.CancelledCount > 0 || !cr.Success() {
		log.Info().Int("cancelled", cr.CancelledCount).Strs("errors", cr.Errors).Msg("orphan cleanup finished")
	}
}

func (s *Scheduler) observeError(agent, stage string) {
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveError(agent, stage)
	}
}
