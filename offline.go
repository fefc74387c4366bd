// Package offline is an embeddable offline-first data-access layer for
// dashboard-style applications backed by a hosted relational API. The
// QueryFacade keeps reads and writes working while the network is down:
// reads degrade from the remote backend to cached snapshots to locally
// created records, writes apply optimistically and queue durably, and a
// background agent replays the queue once connectivity returns.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/clerkdesk/offline/internal/bridge"
	"github.com/clerkdesk/offline/internal/database"
	"github.com/clerkdesk/offline/internal/netmon"
	"github.com/clerkdesk/offline/internal/replay"
	"github.com/clerkdesk/offline/internal/store"
	"github.com/clerkdesk/offline/pkg/logger"
	"github.com/clerkdesk/offline/remote"
	"gorm.io/gorm"
)

// ErrNotStarted is returned by operations that need the background agent
// when the Facade has not been started (or has been closed).
var ErrNotStarted = errors.New("offline: facade not started")

// Status reports the state of the background agent.
type Status struct {
	IsOnline       bool `json:"isOnline"`
	HasPendingWork bool `json:"hasPendingWork"`
}

// SyncResult summarises one completed replay pass.
type SyncResult struct {
	SyncedCount int `json:"syncedCount"`
}

// PendingRequest describes one queued mutation, for status surfaces.
type PendingRequest struct {
	Key        string           `json:"key"`
	Table      string           `json:"table"`
	Operation  remote.Operation `json:"operation"`
	Attempts   int              `json:"attempts"`
	EnqueuedAt time.Time        `json:"enqueuedAt"`
}

// DeadLetter describes a queued mutation removed from active retry.
type DeadLetter struct {
	Key       string           `json:"key"`
	Table     string           `json:"table"`
	Operation remote.Operation `json:"operation"`
	Attempts  int              `json:"attempts"`
	Reason    string           `json:"reason"`
	LastError string           `json:"lastError"`
	FailedAt  time.Time        `json:"failedAt"`
}

// Facade is the explicit context object applications construct at startup
// and inject into call sites. Multiple isolated instances (one per tenant,
// one per test) can coexist; there is no package-level singleton.
type Facade struct {
	cfg     *Config
	db      *gorm.DB
	table   remote.Table
	encoder remote.Encoder
	cache   *store.CacheStore
	locals  *store.LocalRecordStore
	queue   *store.Queue
	monitor *netmon.Monitor
	engine  *replay.Engine
	bridge  *bridge.Bridge
	log     *zap.Logger

	mu      sync.Mutex
	started bool
}

type options struct {
	table    remote.Table
	encoder  remote.Encoder
	replayer remote.Replayer
	probe    netmon.Probe
	probeSet bool
	now      func() time.Time
}

// Option customises Facade construction.
type Option func(*options)

// WithRemote injects a caller-supplied backend in place of the built-in REST
// client. The encoder freezes offline mutations for the queue and the
// replayer re-issues them; both must speak the same wire format as the table.
func WithRemote(table remote.Table, encoder remote.Encoder, replayer remote.Replayer) Option {
	return func(o *options) {
		o.table = table
		o.encoder = encoder
		o.replayer = replayer
	}
}

// WithProbe overrides the reachability probe. A nil probe disables active
// probing; connectivity is then driven entirely by SetOnline.
func WithProbe(probe netmon.Probe) Option {
	return func(o *options) {
		o.probe = probe
		o.probeSet = true
	}
}

// WithClock overrides the clock, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New constructs a Facade from the supplied configuration. Call Start to
// launch the connectivity monitor and the background agent, and Close to
// tear the instance down.
func New(cfg *Config, opts ...Option) (*Facade, error) {
	if cfg == nil {
		return nil, fmt.Errorf("offline: config is required")
	}

	if cfg.LogLevel != "" {
		if err := logger.Init(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("offline: init logger: %w", err)
		}
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	db, err := database.Open(database.Config{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("offline: open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("offline: migrate database: %w", err)
	}

	table, encoder, replayer := o.table, o.encoder, o.replayer
	if table == nil {
		if cfg.Remote.BaseURL == "" {
			return nil, fmt.Errorf("offline: remote.base_url or WithRemote is required")
		}

		clientOpts := make([]remote.ClientOption, 0, len(cfg.Remote.Headers))
		for key, value := range cfg.Remote.Headers {
			clientOpts = append(clientOpts, remote.WithHeader(key, value))
		}
		client, err := remote.NewClient(cfg.Remote.BaseURL, clientOpts...)
		if err != nil {
			return nil, err
		}
		table, encoder, replayer = client, client, client
	}

	probe := o.probe
	if !o.probeSet {
		probeURL := cfg.Network.ProbeURL
		if probeURL == "" {
			probeURL = cfg.Remote.BaseURL
		}
		if probeURL != "" {
			probe = netmon.HTTPProbe(probeURL)
		}
	}

	monitor := netmon.New(probe,
		netmon.WithInterval(cfg.Network.ProbeInterval),
		netmon.WithHoldoff(cfg.Network.Holdoff),
		netmon.WithClock(o.now),
	)

	br := bridge.New()
	cache := store.NewCacheStore(db, store.WithTTL(cfg.Cache.TTL), store.WithCacheClock(o.now))
	locals := store.NewLocalRecordStore(db)
	queue := store.NewQueue(db, store.WithQueueClock(o.now))

	engine := replay.New(queue, locals, replayer, br, monitor,
		replay.WithSchedule(cfg.Replay.Schedule),
		replay.WithTimeout(cfg.Replay.RequestTimeout),
		replay.WithRetryBudget(cfg.Replay.MaxAttempts, cfg.Replay.BackoffMin, cfg.Replay.BackoffMax),
		replay.WithClock(o.now),
	)

	return &Facade{
		cfg:     cfg,
		db:      db,
		table:   table,
		encoder: encoder,
		cache:   cache,
		locals:  locals,
		queue:   queue,
		monitor: monitor,
		engine:  engine,
		bridge:  br,
		log:     logger.WithComponent("facade"),
	}, nil
}

// Start launches the connectivity monitor and the background agent.
func (f *Facade) Start(ctx context.Context) error {
	if err := f.engine.Start(ctx); err != nil {
		return fmt.Errorf("offline: start replay agent: %w", err)
	}
	f.monitor.Start(ctx)

	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

// Close stops the background agent and releases the store. Queued entries
// stay persisted for the next start.
func (f *Facade) Close() error {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()

	f.engine.Stop()
	f.monitor.Stop()

	var errs error
	if sqlDB, err := f.db.DB(); err != nil {
		errs = multierr.Append(errs, err)
	} else {
		errs = multierr.Append(errs, sqlDB.Close())
	}
	return errs
}

// IsOnline returns the current committed connectivity state.
func (f *Facade) IsOnline() bool {
	return f.monitor.IsOnline()
}

// SetOnline feeds an authoritative connectivity signal from the host
// runtime, bypassing the probe debounce.
func (f *Facade) SetOnline(online bool) {
	f.monitor.SetOnline(online)
}

// OnNetworkChange registers a callback fired once per connectivity
// transition. The returned function unsubscribes.
func (f *Facade) OnNetworkChange(fn func(online bool)) func() {
	return f.monitor.Subscribe(fn)
}

// OnSyncComplete registers a listener for replay completion broadcasts.
// The returned function unsubscribes.
func (f *Facade) OnSyncComplete(fn func(SyncResult)) func() {
	return f.bridge.OnSyncComplete(func(event bridge.SyncComplete) {
		fn(SyncResult{SyncedCount: event.SyncedCount})
	})
}

func (f *Facade) agentRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// SyncNow asks the background agent for an immediate replay pass and waits
// for its completion event. The agent must have been started; without it
// nothing consumes the request and the caller would wait forever.
func (f *Facade) SyncNow(ctx context.Context) (SyncResult, error) {
	if !f.agentRunning() {
		return SyncResult{}, ErrNotStarted
	}

	done := make(chan bridge.SyncComplete, 1)
	if err := f.bridge.SendControl(ctx, bridge.ControlMessage{Kind: bridge.ControlSyncNow, Done: done}); err != nil {
		return SyncResult{}, err
	}

	select {
	case event := <-done:
		return SyncResult{SyncedCount: event.SyncedCount}, nil
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	}
}

// Status asks the background agent for its current status.
func (f *Facade) Status(ctx context.Context) (Status, error) {
	if !f.agentRunning() {
		return Status{}, ErrNotStarted
	}

	reply := make(chan bridge.StatusResponse, 1)
	if err := f.bridge.SendControl(ctx, bridge.ControlMessage{Kind: bridge.ControlReportStatus, Status: reply}); err != nil {
		return Status{}, err
	}

	select {
	case status := <-reply:
		return Status{IsOnline: status.IsOnline, HasPendingWork: status.HasPendingWork}, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// PendingRequests lists queued mutations in replay order.
func (f *Facade) PendingRequests(ctx context.Context) ([]PendingRequest, error) {
	entries, err := f.queue.List(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]PendingRequest, 0, len(entries))
	for _, entry := range entries {
		pending = append(pending, PendingRequest{
			Key:        entry.Key,
			Table:      entry.Table,
			Operation:  entry.Operation,
			Attempts:   entry.Attempts,
			EnqueuedAt: entry.EnqueuedAt,
		})
	}
	return pending, nil
}

// DeadLetters lists mutations removed from active retry, newest first.
func (f *Facade) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	letters, err := f.queue.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]DeadLetter, 0, len(letters))
	for _, letter := range letters {
		out = append(out, DeadLetter{
			Key:       letter.Key,
			Table:     letter.TableName,
			Operation: remote.Operation(letter.Operation),
			Attempts:  letter.Attempts,
			Reason:    letter.Reason,
			LastError: letter.LastError,
			FailedAt:  letter.FailedAt,
		})
	}
	return out, nil
}
