// Package replay implements the background synchronization agent. It drains
// the request queue strictly in enqueue order, one entry at a time, whenever
// connectivity returns, a caller asks for an immediate pass, or the periodic
// wake-up fires.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/clerkdesk/offline/internal/bridge"
	"github.com/clerkdesk/offline/internal/netmon"
	"github.com/clerkdesk/offline/internal/store"
	syncerrors "github.com/clerkdesk/offline/pkg/errors"
	"github.com/clerkdesk/offline/pkg/logger"
	"github.com/clerkdesk/offline/pkg/metrics"
	"github.com/clerkdesk/offline/remote"
)

// State is the agent's coarse lifecycle: idle between passes, running while
// a pass drains the queue.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

const (
	defaultSchedule    = "@every 1m"
	defaultTimeout     = remote.DefaultTimeout
	defaultMaxAttempts = 8
	defaultBackoffMin  = time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// Engine replays queued requests against the remote backend.
type Engine struct {
	queue    *store.Queue
	locals   *store.LocalRecordStore
	replayer remote.Replayer
	bridge   *bridge.Bridge
	monitor  *netmon.Monitor
	cron     *cron.Cron
	log      *zap.Logger

	schedule    string
	timeout     time.Duration
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
	now         func() time.Time

	mu    sync.Mutex
	state State

	trigger     chan struct{}
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
}

// Option customises the Engine.
type Option func(*Engine)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(e *Engine) {
		if c != nil {
			e.cron = c
		}
	}
}

// WithSchedule overrides the periodic wake-up specification.
func WithSchedule(spec string) Option {
	return func(e *Engine) {
		if spec != "" {
			e.schedule = spec
		}
	}
}

// WithTimeout bounds each individual replay request.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithRetryBudget configures the bounded retry policy for rejected entries:
// maxAttempts before dead-lettering, with exponential backoff between min
// and max.
func WithRetryBudget(maxAttempts int, min, max time.Duration) Option {
	return func(e *Engine) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if min > 0 {
			e.backoffMin = min
		}
		if max > 0 {
			e.backoffMax = max
		}
	}
}

// WithClock overrides the clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an Engine over the shared stores.
func New(queue *store.Queue, locals *store.LocalRecordStore, replayer remote.Replayer, br *bridge.Bridge, monitor *netmon.Monitor, opts ...Option) *Engine {
	e := &Engine{
		queue:       queue,
		locals:      locals,
		replayer:    replayer,
		bridge:      br,
		monitor:     monitor,
		log:         logger.WithComponent("replay"),
		schedule:    defaultSchedule,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		backoffMin:  defaultBackoffMin,
		backoffMax:  defaultBackoffMax,
		now:         time.Now,
		state:       StateIdle,
		trigger:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cron == nil {
		e.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return e
}

// Start wires the triggers and launches the agent loop: reconnect events
// from the network monitor, the periodic cron wake-up, and control messages
// from the bridge.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	if e.monitor != nil {
		e.unsubscribe = e.monitor.Subscribe(func(online bool) {
			if online {
				e.RequestPass()
			}
		})
	}

	if _, err := e.cron.AddFunc(e.schedule, e.RequestPass); err != nil {
		cancel()
		return err
	}
	e.cron.Start()

	go e.run(ctx)
	return nil
}

// Stop halts the agent. An in-flight pass is abandoned; remaining queue
// entries stay persisted for the next trigger.
func (e *Engine) Stop() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	<-e.cron.Stop().Done()
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// RequestPass schedules a replay pass. Triggers coalesce: requesting while a
// pass is already pending or running never stacks a second concurrent pass.
func (e *Engine) RequestPass() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// State returns the agent's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status answers the report-status contract.
func (e *Engine) Status(ctx context.Context) bridge.StatusResponse {
	depth, err := e.queue.Depth(ctx)
	if err != nil {
		e.log.Warn("status: queue depth unavailable", zap.Error(err))
	}

	online := true
	if e.monitor != nil {
		online = e.monitor.IsOnline()
	}

	return bridge.StatusResponse{
		IsOnline:       online,
		HasPendingWork: depth > 0,
	}
}

// run is the agent's single-threaded event loop. All passes execute here, so
// no two replays ever run concurrently.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.trigger:
			e.RunPass(ctx)
		case msg := <-e.bridge.Control():
			switch msg.Kind {
			case bridge.ControlSyncNow:
				result := e.RunPass(ctx)
				if msg.Done != nil {
					select {
					case msg.Done <- result:
					default:
					}
				}
			case bridge.ControlReportStatus:
				if msg.Status != nil {
					select {
					case msg.Status <- e.Status(ctx):
					default:
					}
				}
			}
		}
	}
}

// RunPass drains the queue head-first and broadcasts the completion event.
// The head entry always blocks the rest of the queue: replay order equals
// enqueue order, backoff delays and transient failures hold the whole line
// rather than skip ahead.
func (e *Engine) RunPass(ctx context.Context) bridge.SyncComplete {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return bridge.SyncComplete{}
	}
	e.state = StateRunning
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
	}()

	synced := 0

	for ctx.Err() == nil {
		entry, err := e.queue.Next(ctx)
		if err != nil {
			e.log.Error("replay: reading queue head failed", zap.Error(err))
			break
		}
		if entry == nil {
			break
		}

		if entry.NextAttemptAt != nil && entry.NextAttemptAt.After(e.now()) {
			break
		}

		outcome := e.replayEntry(ctx, entry)
		if outcome == passStop {
			break
		}
		if outcome == passSynced {
			synced++
		}
	}

	result := bridge.SyncComplete{SyncedCount: synced}
	e.bridge.Broadcast(result)
	return result
}

// passOutcome tells RunPass how to proceed after one entry.
type passOutcome int

const (
	passStop    passOutcome = iota // leave the entry in place, end the pass
	passSynced                     // entry replayed and removed
	passSkipped                    // entry dead-lettered, continue down the queue
)

// replayEntry replays one entry against the backend.
func (e *Engine) replayEntry(ctx context.Context, entry *store.Entry) passOutcome {
	rctx, cancel := context.WithTimeout(ctx, e.timeout)
	start := time.Now()
	err := e.replayer.Replay(rctx, entry.Spec)
	cancel()
	metrics.ReplayDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.ReplayedRequests.WithLabelValues("success").Inc()
		if err := e.queue.Remove(ctx, entry.Key); err != nil {
			e.log.Error("replay: removing replayed entry failed",
				zap.String("key", entry.Key), zap.Error(err))
			return passStop
		}
		e.reconcile(ctx, entry)
		return passSynced

	case syncerrors.IsTransient(err):
		metrics.ReplayedRequests.WithLabelValues("network_error").Inc()
		e.log.Info("replay: backend unreachable, pass stopped",
			zap.String("key", entry.Key))
		if e.monitor != nil {
			e.monitor.Observe(false)
		}
		return passStop

	default:
		metrics.ReplayedRequests.WithLabelValues("rejected").Inc()
		attempts, markErr := e.queue.MarkFailure(ctx, entry.Key, err.Error(), e.now().Add(e.backoff(entry.Attempts)))
		if markErr != nil {
			e.log.Error("replay: recording failure failed",
				zap.String("key", entry.Key), zap.Error(markErr))
			return passStop
		}

		if attempts >= e.maxAttempts {
			e.log.Warn("replay: retry budget exhausted, dead-lettering",
				zap.String("key", entry.Key),
				zap.String("table", entry.Table),
				zap.Int("attempts", attempts),
			)
			if dlErr := e.queue.DeadLetter(ctx, entry.Key, err.Error()); dlErr != nil {
				e.log.Error("replay: dead-lettering failed",
					zap.String("key", entry.Key), zap.Error(dlErr))
				return passStop
			}
			// The poisoned head is out of the way; the pass continues.
			return passSkipped
		}

		metrics.ReplayRetries.Inc()
		e.log.Info("replay: backend rejected entry, retry scheduled",
			zap.String("key", entry.Key),
			zap.Int("attempts", attempts),
		)
		return passStop
	}
}

// reconcile removes the originating local record once its create has been
// confirmed, matched by idempotency key. Without this step the cache would
// hold both the stale local row and, after the next refresh, its
// server-assigned duplicate.
func (e *Engine) reconcile(ctx context.Context, entry *store.Entry) {
	if entry.Operation != remote.OperationCreate || entry.IdempotencyKey == "" || e.locals == nil {
		return
	}

	if err := e.locals.Remove(ctx, entry.IdempotencyKey); err != nil {
		e.log.Warn("replay: reconciling local record failed",
			zap.String("id", entry.IdempotencyKey), zap.Error(err))
	}
}

// backoff computes the delay before retry attempt n+1.
func (e *Engine) backoff(attempts int) time.Duration {
	delay := e.backoffMin
	for i := 0; i < attempts && delay < e.backoffMax; i++ {
		delay *= 2
	}
	if delay > e.backoffMax {
		delay = e.backoffMax
	}
	return delay
}
