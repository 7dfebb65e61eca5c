package graphsync

import (
	"context"
	"sync"
	"time"

	"fundgraph/backend/internal/graph"
	apperrors "fundgraph/backend/pkg/errors"
	"fundgraph/backend/pkg/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the health of the link to the durable store
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
)

// DurableStore is the persistent copy of the graph
type DurableStore interface {
	Pull(ctx context.Context) (*graph.Dataset, error)
	Push(ctx context.Context, ds *graph.Dataset) error
}

// Result describes one sync run
type Result struct {
	RunID   string    `json:"run_id"`
	Applied int       `json:"applied"`
	Skipped int       `json:"skipped"`
	State   State     `json:"state"`
	Pushed  bool      `json:"pushed"`
	Version uint64    `json:"graph_version"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Status is the observable state of the coordinator
type Status struct {
	State       State     `json:"state"`
	Failures    int       `json:"consecutive_failures"`
	Retrying    bool      `json:"retrying"`
	LastRun     *Result   `json:"last_run,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// Backoff is an exponential retry schedule
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff retries after 1s, 2s, 4s ... up to 30s
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 30 * time.Second}
}

// Delay returns the wait before retry number attempt, counting from zero
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	return min(d, b.Max)
}

// Coordinator keeps the in-memory graph in step with the durable store.
// It is the only writer after the initial catalog load.
type Coordinator struct {
	store   *graph.Store
	durable DurableStore
	backoff Backoff
	after   func(time.Duration) <-chan time.Time
	group   singleflight.Group

	mu          sync.Mutex
	state       State
	failures    int
	retrying    bool
	lastRun     *Result
	lastSuccess time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	runs    metric.Int64Counter
	applied metric.Int64Counter
	skipped metric.Int64Counter
	logger  *zap.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithBackoff overrides the retry schedule
func WithBackoff(b Backoff) Option {
	return func(c *Coordinator) { c.backoff = b }
}

// WithMeter records sync counters on meter instead of the global provider
func WithMeter(m metric.Meter) Option {
	return func(c *Coordinator) { c.initMetrics(m) }
}

// NewCoordinator creates a coordinator between store and durable
func NewCoordinator(store *graph.Store, durable DurableStore, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:   store,
		durable: durable,
		backoff: DefaultBackoff(),
		after:   time.After,
		state:   StateHealthy,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Named("graphsync"),
	}
	c.initMetrics(otel.Meter("fundgraph/graphsync"))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) initMetrics(m metric.Meter) {
	var err error
	if c.runs, err = m.Int64Counter("graphsync.runs", metric.WithDescription("Sync runs by resulting state")); err != nil {
		c.logger.Warn("Failed to create metric", zap.String("name", "graphsync.runs"), zap.Error(err))
	}
	if c.applied, err = m.Int64Counter("graphsync.applied", metric.WithDescription("Diff items applied")); err != nil {
		c.logger.Warn("Failed to create metric", zap.String("name", "graphsync.applied"), zap.Error(err))
	}
	if c.skipped, err = m.Int64Counter("graphsync.skipped", metric.WithDescription("Diff items skipped")); err != nil {
		c.logger.Warn("Failed to create metric", zap.String("name", "graphsync.skipped"), zap.Error(err))
	}
}

// Sync reconciles the graph with the durable store. It never fails: errors
// move the coordinator to Degraded and schedule background retries.
// Concurrent callers share the run already in flight. The run is bound to
// the coordinator's lifetime, not to ctx: a caller that gives up gets its
// context error back while the run completes for everyone else.
func (c *Coordinator) Sync(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return c.abandoned(err)
	}
	ch := c.group.DoChan("sync", func() (any, error) {
		return c.run(c.ctx), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Result)
	case <-ctx.Done():
		return c.abandoned(ctx.Err())
	}
}

func (c *Coordinator) abandoned(err error) Result {
	return Result{Error: err.Error(), State: c.currentState(), At: time.Now()}
}

// Status reports the current state
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:       c.state,
		Failures:    c.failures,
		Retrying:    c.retrying,
		LastSuccess: c.lastSuccess,
	}
	if c.lastRun != nil {
		run := *c.lastRun
		s.LastRun = &run
	}
	return s
}

// Start runs a sync now and then every interval until Close
func (c *Coordinator) Start(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Sync(c.ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.Sync(c.ctx)
			}
		}
	}()
	c.logger.Info("Graph sync started", zap.Duration("interval", interval))
}

// Close cancels the periodic and retry goroutines and waits for them
func (c *Coordinator) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) run(ctx context.Context) Result {
	result := Result{RunID: uuid.NewString(), At: time.Now()}
	log := c.logger.With(zap.String("run_id", result.RunID))

	remote, err := c.durable.Pull(ctx)
	if err != nil {
		return c.fail(ctx, result, err)
	}

	local := c.store.Snapshot()
	if len(remote.Entities) == 0 && local.Len() > 0 {
		if err := c.durable.Push(ctx, local.Dataset()); err != nil {
			return c.fail(ctx, result, err)
		}
		log.Info("Durable store was empty, pushed local graph",
			zap.Int("entities", local.Len()),
			zap.Int("edges", local.EdgeCount()),
		)
		result.Pushed = true
		result.Version = local.Version()
		return c.succeed(result)
	}

	diff := ComputeDiff(local, remote)
	if diff.IsEmpty() {
		result.Version = local.Version()
		return c.succeed(result)
	}

	applied, err := c.store.Apply(ctx, diff)
	if err != nil {
		// The graph is untouched; this is not a durable store outage
		result.Error = err.Error()
		result.State = c.currentState()
		log.Warn("Sync merge not committed", zap.Error(err))
		c.record(result)
		return result
	}
	for _, itemErr := range applied.Errors {
		log.Warn("Skipped sync item", zap.Error(itemErr))
	}
	result.Applied = applied.Applied
	result.Skipped = applied.Skipped
	result.Version = applied.Version
	log.Info("Graph synced",
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped),
		zap.Uint64("version", result.Version),
	)
	return c.succeed(result)
}

func (c *Coordinator) succeed(result Result) Result {
	c.mu.Lock()
	if c.state == StateDegraded {
		c.logger.Info("Durable store reachable again", zap.Int("failed_attempts", c.failures))
	}
	c.state = StateHealthy
	c.failures = 0
	c.lastSuccess = result.At
	c.mu.Unlock()

	result.State = StateHealthy
	c.record(result)
	return result
}

func (c *Coordinator) fail(ctx context.Context, result Result, err error) Result {
	result.Error = err.Error()

	// Shutting down is not an outage
	if ctx.Err() != nil {
		result.State = c.currentState()
		c.record(result)
		return result
	}

	c.mu.Lock()
	c.state = StateDegraded
	c.failures++
	failures := c.failures
	startRetry := !c.retrying && c.ctx.Err() == nil
	if startRetry {
		c.retrying = true
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.logger.Warn("Durable store unavailable, graph left unchanged",
		zap.String("run_id", result.RunID),
		zap.Int("consecutive_failures", failures),
		zap.Bool("retryable", apperrors.IsRetryable(err)),
		zap.Error(err),
	)
	if startRetry {
		go c.retryLoop()
	}

	result.State = StateDegraded
	c.record(result)
	return result
}

// retryLoop retries with exponential backoff until a sync succeeds or the
// coordinator is closed. There is no attempt limit.
func (c *Coordinator) retryLoop() {
	defer c.wg.Done()
	for attempt := 0; ; attempt++ {
		delay := c.backoff.Delay(attempt)
		c.logger.Debug("Scheduling sync retry", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
		select {
		case <-c.ctx.Done():
			c.mu.Lock()
			c.retrying = false
			c.mu.Unlock()
			return
		case <-c.after(delay):
		}

		if c.Sync(c.ctx).State != StateHealthy {
			continue
		}
		c.mu.Lock()
		if c.state == StateHealthy {
			c.retrying = false
			c.mu.Unlock()
			return
		}
		// Failed again after our success; keep going with a fresh schedule
		c.mu.Unlock()
		attempt = -1
	}
}

func (c *Coordinator) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) record(result Result) {
	c.mu.Lock()
	c.lastRun = &result
	c.mu.Unlock()

	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("state", string(result.State)))
	if c.runs != nil {
		c.runs.Add(ctx, 1, attrs)
	}
	if c.applied != nil && result.Applied > 0 {
		c.applied.Add(ctx, int64(result.Applied))
	}
	if c.skipped != nil && result.Skipped > 0 {
		c.skipped.Add(ctx, int64(result.Skipped))
	}
}
