// Package task runs backtests as tracked tasks on top of a task store.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quant/backtest"
	"quant/fetcher"
	"quant/metrics"
	"quant/notify"
	"quant/store"
)

// KindData marks a task that failed while loading bars.
const KindData backtest.ErrorKind = "data"

var ErrNotCompleted = errors.New("task not completed")

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithResultSink(s store.ResultSink) Option { return func(m *Manager) { m.sink = s } }

func WithNotifier(n notify.Notifier) Option { return func(m *Manager) { m.notifier = n } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithWorkers bounds how many tasks run at once.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// Manager owns task lifecycles: pending, running, then completed, failed or
// cancelled. Single runs execute in the background; portfolio and optimize
// requests block the caller but are tracked the same way.
type Manager struct {
	tasks    store.TaskStore
	source   fetcher.BarSource
	sink     store.ResultSink
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	workers  int

	sem  chan struct{}
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	removed map[string]bool
}

func NewManager(tasks store.TaskStore, source fetcher.BarSource, opts ...Option) *Manager {
	m := &Manager{
		tasks:   tasks,
		source:  source,
		logger:  zap.NewNop(),
		workers: 4,
		cancels: make(map[string]context.CancelFunc),
		removed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sem = make(chan struct{}, m.workers)
	m.base, m.stop = context.WithCancel(context.Background())
	return m
}

// outcome is what a job hands back for persistence.
type outcome struct {
	payload    any
	strategy   string
	metrics    backtest.Metrics
	rejections []backtest.Rejection
	optimize   *backtest.OptimizeResult
}

type job func(ctx context.Context, bars []backtest.Bar) (outcome, error)

// Submit validates req, stores a pending task and runs it in the background.
func (m *Manager) Submit(ctx context.Context, req RunRequest) (*store.Task, error) {
	if err := checkConfig(req.Config); err != nil {
		return nil, err
	}
	if _, err := req.Strategy.Build(); err != nil {
		return nil, err
	}
	t, err := m.create(ctx, store.KindSingle, req.Config.Symbol, req)
	if err != nil {
		return nil, err
	}
	ret := cloneForCaller(t)
	runCtx, cancel := m.register(t.ID)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.execute(runCtx, t, req.Config, m.singleJob(req))
	}()
	return ret, nil
}

// RunPortfolio runs a multi-strategy backtest and waits for it.
func (m *Manager) RunPortfolio(ctx context.Context, req PortfolioRequest) (*store.Task, *backtest.PortfolioResult, error) {
	if err := checkConfig(req.Config); err != nil {
		return nil, nil, err
	}
	t, err := m.create(ctx, store.KindPortfolio, req.Config.Symbol, req)
	if err != nil {
		return nil, nil, err
	}
	var res *backtest.PortfolioResult
	j := func(ctx context.Context, bars []backtest.Bar) (outcome, error) {
		r, err := backtest.RunPortfolio(ctx, req.Config, req.Allocations, bars, m.logger)
		if err != nil {
			return outcome{}, err
		}
		res = r
		names := make([]string, len(r.Strategies))
		var rejs []backtest.Rejection
		for i, s := range r.Strategies {
			names[i] = s.Name
			rejs = append(rejs, s.Result.Rejections...)
		}
		return outcome{
			payload:    r,
			strategy:   "portfolio[" + strings.Join(names, ",") + "]",
			metrics:    r.Metrics,
			rejections: rejs,
		}, nil
	}
	t, err = m.runSync(ctx, t, req.Config, j)
	return t, res, err
}

// Optimize sweeps a parameter grid and waits for it.
func (m *Manager) Optimize(ctx context.Context, req OptimizeRequest) (*store.Task, *backtest.OptimizeResult, error) {
	if err := checkConfig(req.Config); err != nil {
		return nil, nil, err
	}
	if _, err := backtest.Metric(req.optimizer().Metric); err != nil {
		return nil, nil, err
	}
	t, err := m.create(ctx, store.KindOptimize, req.Config.Symbol, req)
	if err != nil {
		return nil, nil, err
	}
	var res *backtest.OptimizeResult
	j := func(ctx context.Context, bars []backtest.Bar) (outcome, error) {
		o := req.optimizer()
		o.Workers = m.workers
		o.Logger = m.logger
		r, err := o.Run(ctx, bars)
		res = r
		if err != nil {
			return outcome{optimize: r}, err
		}
		out := outcome{payload: r, strategy: req.Strategy, optimize: r}
		if r.Best != nil {
			out.strategy = r.Best.Strategy
			out.metrics = r.Best.Metrics
		}
		return out, nil
	}
	t, err = m.runSync(ctx, t, req.Config, j)
	return t, res, err
}

func (m *Manager) singleJob(req RunRequest) job {
	return func(ctx context.Context, bars []backtest.Bar) (outcome, error) {
		r, err := backtest.Run(ctx, req.Config, req.Strategy, bars, m.logger)
		if err != nil {
			return outcome{}, err
		}
		return outcome{payload: r, strategy: r.Strategy, metrics: r.Metrics, rejections: r.Rejections}, nil
	}
}

func checkConfig(cfg backtest.Config) error {
	if strings.TrimSpace(cfg.Symbol) == "" {
		return &backtest.RunError{Kind: backtest.KindConfig, Msg: "symbol is required"}
	}
	return cfg.Validate()
}

func (m *Manager) create(ctx context.Context, kind store.Kind, symbol string, req any) (*store.Task, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	t := &store.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    store.StatusPending,
		Symbol:    symbol,
		Request:   raw,
		CreatedAt: time.Now(),
	}
	if err := m.tasks.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	m.logger.Info("task created", zap.String("task_id", t.ID), zap.String("kind", string(kind)), zap.String("symbol", symbol))
	return t, nil
}

func (m *Manager) register(id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(m.base)
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()
	return ctx, func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, id)
		delete(m.removed, id)
		m.mu.Unlock()
	}
}

func (m *Manager) runSync(ctx context.Context, t *store.Task, cfg backtest.Config, j job) (*store.Task, error) {
	runCtx, cancel := m.register(t.ID)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	m.wg.Add(1)
	defer m.wg.Done()
	return m.execute(runCtx, t, cfg, j)
}

// execute drives one task to a terminal state and returns the final task
// together with the run error, if any.
func (m *Manager) execute(ctx context.Context, t *store.Task, cfg backtest.Config, j job) (*store.Task, error) {
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return m.finish(t, outcome{}, ctx.Err(), time.Now())
	}

	started := time.Now()
	t.Status = store.StatusRunning
	t.StartedAt = &started
	m.save(t)
	if m.metrics != nil {
		m.metrics.TasksInFlight.Inc()
		defer m.metrics.TasksInFlight.Dec()
	}

	bars, err := fetcher.LoadBars(ctx, m.source, cfg)
	if err != nil {
		if ctx.Err() == nil {
			err = &backtest.RunError{Kind: KindData, Err: err}
		}
		return m.finish(t, outcome{}, err, started)
	}
	out, err := j(ctx, bars)
	return m.finish(t, out, err, started)
}

func (m *Manager) finish(t *store.Task, out outcome, runErr error, started time.Time) (*store.Task, error) {
	now := time.Now()
	t.FinishedAt = &now
	switch {
	case runErr == nil:
		raw, err := json.Marshal(out.payload)
		if err != nil {
			runErr = fmt.Errorf("encode result: %w", err)
			t.Status = store.StatusFailed
			t.Error = runErr.Error()
			break
		}
		t.Status = store.StatusCompleted
		t.Result = raw
	case backtest.KindOf(runErr) == "" && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		t.Status = store.StatusCancelled
		t.Error = runErr.Error()
	default:
		t.Status = store.StatusFailed
		t.Error = runErr.Error()
		t.ErrorKind = string(backtest.KindOf(runErr))
	}
	m.save(t)

	if m.metrics != nil {
		m.metrics.ObserveRun(string(t.Kind), string(t.Status), now.Sub(started))
		m.metrics.ObserveRejections(out.rejections)
		m.metrics.ObserveOptimize(out.optimize)
	}
	fields := []zap.Field{
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("status", string(t.Status)),
		zap.Duration("elapsed", now.Sub(started)),
	}
	if runErr != nil {
		m.logger.Warn("task finished with error", append(fields, zap.Error(runErr))...)
	} else {
		m.logger.Info("task finished", fields...)
	}

	if t.Status == store.StatusCompleted {
		m.archive(t, out)
	}
	if t.Status != store.StatusCancelled {
		m.announce(t, out)
	}
	return cloneForCaller(t), runErr
}

// save writes through a fresh context: the task context may already be
// cancelled when the terminal state is recorded. A task deleted while
// running is not written back.
func (m *Manager) save(t *store.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed[t.ID] {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.tasks.Save(ctx, t); err != nil {
		m.logger.Error("save task failed", zap.String("task_id", t.ID), zap.Error(err))
	}
}

func (m *Manager) archive(t *store.Task, out outcome) {
	if m.sink == nil {
		return
	}
	rec := store.ResultRecord{
		TaskID:    t.ID,
		Kind:      t.Kind,
		Symbol:    t.Symbol,
		Strategy:  out.strategy,
		Metrics:   out.metrics,
		Payload:   t.Result,
		CreatedAt: t.CreatedAt,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.sink.Put(ctx, rec); err != nil {
			m.logger.Error("archive result failed", zap.String("task_id", rec.TaskID), zap.Error(err))
		}
	}()
}

func (m *Manager) announce(t *store.Task, out outcome) {
	if m.notifier == nil {
		return
	}
	ev := notify.Event{
		Type:     notify.EventCompleted,
		TaskID:   t.ID,
		Kind:     string(t.Kind),
		Symbol:   t.Symbol,
		Strategy: out.strategy,
		Error:    t.Error,
		Time:     *t.FinishedAt,
	}
	if t.Status == store.StatusCompleted {
		mt := out.metrics
		ev.Metrics = &mt
	} else {
		ev.Type = notify.EventFailed
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.notifier.Notify(ctx, ev); err != nil {
			m.logger.Warn("notify failed", zap.String("task_id", ev.TaskID), zap.Error(err))
		}
	}()
}

func (m *Manager) Get(ctx context.Context, id string) (*store.Task, error) {
	return m.tasks.Get(ctx, id)
}

// List returns at most limit tasks newest first, after skipping offset.
func (m *Manager) List(ctx context.Context, limit, offset int) ([]*store.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	all, err := m.tasks.List(ctx, limit+offset)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return []*store.Task{}, nil
	}
	return all[offset:min(len(all), offset+limit)], nil
}

// Result returns the stored result of a completed task.
func (m *Manager) Result(ctx context.Context, id string) (*store.Task, error) {
	t, err := m.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != store.StatusCompleted {
		return t, fmt.Errorf("%w: status %s", ErrNotCompleted, t.Status)
	}
	return t, nil
}

// Cancel stops a pending or running task. It is a no-op for finished tasks.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if _, err := m.tasks.Get(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Delete cancels the task if it is still active and removes it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, err := m.tasks.Get(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	cancel := m.cancels[id]
	if cancel != nil {
		m.removed[id] = true
	}
	err := m.tasks.Delete(ctx, id)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return err
}

// Wait blocks until every running task and pending archive or notify call
// has returned.
func (m *Manager) Wait() { m.wg.Wait() }

// Close cancels running tasks once ctx expires and waits for them to stop.
func (m *Manager) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.stop()
		<-done
		return ctx.Err()
	}
}

func cloneForCaller(t *store.Task) *store.Task {
	c := *t
	return &c
}
