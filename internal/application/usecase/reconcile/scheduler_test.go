package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmirror/internal/domain/model"
)

type fakeSource struct {
	mu        sync.Mutex
	positions map[string][]model.Position
	err       error
	fetches   int
}

func (s *fakeSource) Fetch(ctx context.Context, agent string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	return s.positions[agent], nil
}

func (s *fakeSource) Agents(ctx context.Context) ([]string, error) {
	return []string{agent}, nil
}

func (s *fakeSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

type recordingSink struct {
	mu     sync.Mutex
	passes []*model.PassResult
}

func (s *recordingSink) WritePass(res *model.PassResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes = append(s.passes, res)
	return nil
}

type recordingPublisher struct {
	actions []model.ExecutedAction
}

func (p *recordingPublisher) PublishAction(ctx context.Context, agent string, a model.ExecutedAction) error {
	p.actions = append(p.actions, a)
	return nil
}

type recordingObserver struct {
	mu        sync.Mutex
	passes    int
	cancelled int
	errs      []string
}

func (o *recordingObserver) ObservePass(res *model.PassResult, took time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes++
}

func (o *recordingObserver) ObserveOrphans(cancelled, errs int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled += cancelled
}

func (o *recordingObserver) ObserveError(agent, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, agent+"/"+stage)
}

type fakeCleaner struct {
	res   model.CleanupResult
	err   error
	calls int
}

func (c *fakeCleaner) CleanOrphanedOrders(ctx context.Context) (model.CleanupResult, error) {
	c.calls++
	return c.res, c.err
}

func TestRunOnceWiresPassOutputs(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	src := &fakeSource{positions: map[string][]model.Position{agent: {btc(1, 0.1)}}}
	sink := &recordingSink{}
	pub := &recordingPublisher{}
	obs := &recordingObserver{}
	cleaner := &fakeCleaner{res: model.CleanupResult{CancelledCount: 2}}

	s := NewScheduler(SchedulerDeps{
		Engine: eng, Source: src, Sink: sink, Publisher: pub, Observer: obs,
		Cleaner: cleaner, CleanOrphans: true, Agents: []string{agent},
	})

	res, err := s.RunOnce(context.Background(), agent)
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)

	assert.Len(t, sink.passes, 1)
	assert.Len(t, pub.actions, 1)
	assert.Equal(t, 1, obs.passes)
	assert.Equal(t, 1, cleaner.calls)
	assert.Equal(t, 2, obs.cancelled)
	assert.Empty(t, obs.errs)
}

func TestRunOnceDoesNotPublishSkipped(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	pos := btc(1, 0.1)
	pos.CurrentPrice = 70000
	src := &fakeSource{positions: map[string][]model.Position{agent: {pos}}}
	pub := &recordingPublisher{}

	s := NewScheduler(SchedulerDeps{Engine: eng, Source: src, Publisher: pub})
	res, err := s.RunOnce(context.Background(), agent)
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
	assert.True(t, res.Actions[0].Skipped)
	assert.Empty(t, pub.actions)
}

func TestRunOnceFetchError(t *testing.T) {
	eng, _, exec := newTestEngine(t)
	src := &fakeSource{err: errors.New("feed down")}
	obs := &recordingObserver{}

	s := NewScheduler(SchedulerDeps{Engine: eng, Source: src, Observer: obs})
	res, err := s.RunOnce(context.Background(), agent)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, []string{agent + "/fetch"}, obs.errs)
	assert.Empty(t, exec.tradeCalls())
}

func TestRunOnceOrphanCleanupError(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	obs := &recordingObserver{}
	cleaner := &fakeCleaner{err: errors.New("orders unavailable")}

	s := NewScheduler(SchedulerDeps{
		Engine: eng, Source: &fakeSource{}, Observer: obs, Cleaner: cleaner, CleanOrphans: true,
	})
	_, err := s.RunOnce(context.Background(), agent)
	require.NoError(t, err)
	assert.Equal(t, []string{agent + "/orphans"}, obs.errs)
}

func TestRunOnceSkipsCleanupWhenDisabled(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	cleaner := &fakeCleaner{}
	s := NewScheduler(SchedulerDeps{Engine: eng, Source: &fakeSource{}, Cleaner: cleaner})
	_, err := s.RunOnce(context.Background(), agent)
	require.NoError(t, err)
	assert.Zero(t, cleaner.calls)
}

func TestRunOnceCancelledContext(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	src := &fakeSource{}
	s := NewScheduler(SchedulerDeps{Engine: eng, Source: src})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.RunOnce(ctx, agent)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.fetchCount())
}

func TestRunLoopsUntilCancelled(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	src := &fakeSource{}
	s := NewScheduler(SchedulerDeps{
		Engine: eng, Source: src, Agents: []string{agent, "other-agent"}, Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return src.fetchCount() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunWithoutAgents(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	s := NewScheduler(SchedulerDeps{Engine: eng, Source: &fakeSource{}})
	assert.Error(t, s.Run(context.Background()))
}
