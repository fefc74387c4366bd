package offline

import (
	"context"

	"go.uber.org/zap"

	syncerrors "github.com/clerkdesk/offline/pkg/errors"
	"github.com/clerkdesk/offline/pkg/metrics"
	"github.com/clerkdesk/offline/query"
	"github.com/clerkdesk/offline/remote"
)

// Result is the outcome of a façade operation. Reads degrade through three
// tiers (remote, cache, local) before yielding an empty row set; writes
// always succeed from the caller's point of view, with the pending markers
// on the returned rows as the only observable difference. Err is diagnostic
// only: it carries the underlying failure that forced a degraded or
// optimistic path, never a fault the caller must handle.
type Result struct {
	Rows      []query.Row `json:"rows"`
	FromCache bool        `json:"isFromCache"`
	Local     bool        `json:"isLocal"`
	Err       error       `json:"-"`
}

// Select reads rows for a table. Online, the authoritative result refreshes
// the cached snapshot. Offline (or on a failed remote call) the cached
// snapshot is filtered client-side; absent a snapshot, locally created
// records serve the read; absent both, the result is empty rather than an
// error.
func (f *Facade) Select(ctx context.Context, table string, filters query.Filters) Result {
	if err := filters.Validate(); err != nil {
		return Result{Rows: []query.Row{}, Err: err}
	}

	if f.monitor.IsOnline() {
		rows, err := f.table.Select(ctx, table, nil, filters)
		if err == nil {
			if putErr := f.cache.Put(ctx, table, rows); putErr != nil {
				f.log.Warn("select: refreshing cache failed",
					zap.String("table", table), zap.Error(putErr))
			}
			metrics.FallbackReads.WithLabelValues("remote").Inc()
			return Result{Rows: rows}
		}

		f.observeFailure(table, "select", err)
		return f.fallbackRead(ctx, table, filters, err)
	}

	return f.fallbackRead(ctx, table, filters, syncerrors.ErrNetworkUnavailable)
}

// fallbackRead serves a read from the cache tier, then the local tier, then
// as a typed empty result. cause travels with the result for diagnostics.
func (f *Facade) fallbackRead(ctx context.Context, table string, filters query.Filters, cause error) Result {
	cached, ok, err := f.cache.Get(ctx, table)
	if err != nil {
		f.log.Warn("select: reading cache failed", zap.String("table", table), zap.Error(err))
	}
	if ok {
		metrics.FallbackReads.WithLabelValues("cache").Inc()
		return Result{Rows: query.Apply(cached, filters), FromCache: true, Err: cause}
	}

	locals, err := f.locals.List(ctx, table)
	if err != nil {
		f.log.Warn("select: reading local records failed", zap.String("table", table), zap.Error(err))
	}
	if len(locals) > 0 {
		metrics.FallbackReads.WithLabelValues("local").Inc()
		return Result{Rows: query.Apply(locals, filters), Local: true, Err: cause}
	}

	metrics.FallbackReads.WithLabelValues("empty").Inc()
	return Result{Rows: []query.Row{}, Err: syncerrors.ErrCacheUnavailable.WithInternal(cause)}
}

// Insert writes rows. Online, the server-assigned rows are appended to the
// cached snapshot and returned. Offline, each row becomes a local record
// with a reserved identifier and one queued create; the local rows return
// immediately.
func (f *Facade) Insert(ctx context.Context, table string, rows []query.Row) Result {
	if f.monitor.IsOnline() {
		inserted, err := f.table.Insert(ctx, table, rows)
		if err == nil {
			f.appendToCache(ctx, table, inserted)
			return Result{Rows: inserted}
		}
		f.observeFailure(table, "insert", err)
		return f.optimisticInsert(ctx, table, rows, err)
	}

	return f.optimisticInsert(ctx, table, rows, syncerrors.ErrNetworkUnavailable)
}

func (f *Facade) optimisticInsert(ctx context.Context, table string, rows []query.Row, cause error) Result {
	localRows := make([]query.Row, 0, len(rows))

	for _, row := range rows {
		localRow, err := f.locals.Create(ctx, table, row)
		if err != nil {
			f.log.Error("insert: storing local record failed",
				zap.String("table", table), zap.Error(err))
			continue
		}
		localRows = append(localRows, localRow)

		spec, err := f.encoder.EncodeInsert(table, localRow, localRow.ID())
		if err != nil {
			f.log.Error("insert: freezing create request failed",
				zap.String("table", table), zap.Error(err))
			continue
		}
		if _, err := f.queue.Enqueue(ctx, table, remote.OperationCreate, spec, localRow.ID()); err != nil {
			f.log.Error("insert: queueing create request failed",
				zap.String("table", table), zap.Error(err))
		}
	}

	return Result{Rows: localRows, Local: true, Err: cause}
}

// Update patches matching rows. Online, the backend's patched rows replace
// their cached counterparts. Offline, one update is queued and the matching
// cached rows are rewritten in place with a pending marker; the rewritten
// subset returns immediately.
func (f *Facade) Update(ctx context.Context, table string, patch query.Row, filters query.Filters) Result {
	if err := filters.Validate(); err != nil {
		return Result{Rows: []query.Row{}, Err: err}
	}

	if f.monitor.IsOnline() {
		updated, err := f.table.Update(ctx, table, patch, filters)
		if err == nil {
			f.replaceInCache(ctx, table, updated, filters, patch)
			return Result{Rows: updated}
		}
		f.observeFailure(table, "update", err)
		return f.optimisticUpdate(ctx, table, patch, filters, err)
	}

	return f.optimisticUpdate(ctx, table, patch, filters, syncerrors.ErrNetworkUnavailable)
}

func (f *Facade) optimisticUpdate(ctx context.Context, table string, patch query.Row, filters query.Filters, cause error) Result {
	spec, err := f.encoder.EncodeUpdate(table, patch, filters)
	if err != nil {
		f.log.Error("update: freezing update request failed",
			zap.String("table", table), zap.Error(err))
		return Result{Rows: []query.Row{}, Local: true, Err: cause}
	}
	if _, err := f.queue.Enqueue(ctx, table, remote.OperationUpdate, spec, ""); err != nil {
		f.log.Error("update: queueing update request failed",
			zap.String("table", table), zap.Error(err))
	}

	var patched []query.Row
	err = f.cache.Mutate(ctx, table, func(rows []query.Row) []query.Row {
		for i, row := range rows {
			if !filters.Matches(row) {
				continue
			}
			merged := mergePatch(row, patch)
			merged[query.MarkerPending] = true
			rows[i] = merged
			patched = append(patched, merged)
		}
		return rows
	})
	if err != nil {
		f.log.Warn("update: rewriting cache failed", zap.String("table", table), zap.Error(err))
	}

	if patched == nil {
		patched = []query.Row{}
	}
	return Result{Rows: patched, Local: true, Err: cause}
}

// Delete removes matching rows. Online, the backend's removed rows also
// leave the cached snapshot. Offline, one delete is queued and the matching
// cached rows are removed immediately, so subsequent reads no longer see
// them; the removed subset returns tagged as a local, pending mutation.
func (f *Facade) Delete(ctx context.Context, table string, filters query.Filters) Result {
	if err := filters.Validate(); err != nil {
		return Result{Rows: []query.Row{}, Err: err}
	}

	if f.monitor.IsOnline() {
		deleted, err := f.table.Delete(ctx, table, filters)
		if err == nil {
			f.removeFromCache(ctx, table, filters)
			return Result{Rows: deleted}
		}
		f.observeFailure(table, "delete", err)
		return f.optimisticDelete(ctx, table, filters, err)
	}

	return f.optimisticDelete(ctx, table, filters, syncerrors.ErrNetworkUnavailable)
}

func (f *Facade) optimisticDelete(ctx context.Context, table string, filters query.Filters, cause error) Result {
	spec, err := f.encoder.EncodeDelete(table, filters)
	if err != nil {
		f.log.Error("delete: freezing delete request failed",
			zap.String("table", table), zap.Error(err))
		return Result{Rows: []query.Row{}, Local: true, Err: cause}
	}
	if _, err := f.queue.Enqueue(ctx, table, remote.OperationDelete, spec, ""); err != nil {
		f.log.Error("delete: queueing delete request failed",
			zap.String("table", table), zap.Error(err))
	}

	var removed []query.Row
	err = f.cache.Mutate(ctx, table, func(rows []query.Row) []query.Row {
		kept := rows[:0]
		for _, row := range rows {
			if filters.Matches(row) {
				gone := row.Clone()
				gone[query.MarkerPending] = true
				removed = append(removed, gone)
				continue
			}
			kept = append(kept, row)
		}
		return kept
	})
	if err != nil {
		f.log.Warn("delete: rewriting cache failed", zap.String("table", table), zap.Error(err))
	}

	if removed == nil {
		removed = []query.Row{}
	}
	return Result{Rows: removed, Local: true, Err: cause}
}

// appendToCache folds freshly inserted authoritative rows into the snapshot.
func (f *Facade) appendToCache(ctx context.Context, table string, inserted []query.Row) {
	err := f.cache.Mutate(ctx, table, func(rows []query.Row) []query.Row {
		return append(rows, inserted...)
	})
	if err != nil {
		f.log.Warn("insert: appending to cache failed", zap.String("table", table), zap.Error(err))
	}
}

// replaceInCache swaps matching snapshot rows for their authoritative
// patched versions, matching by identifier where the backend returned one
// and falling back to applying the patch in place.
func (f *Facade) replaceInCache(ctx context.Context, table string, updated []query.Row, filters query.Filters, patch query.Row) {
	byID := make(map[string]query.Row, len(updated))
	for _, row := range updated {
		if id := row.ID(); id != "" {
			byID[id] = row
		}
	}

	err := f.cache.Mutate(ctx, table, func(rows []query.Row) []query.Row {
		for i, row := range rows {
			if replacement, ok := byID[row.ID()]; ok {
				rows[i] = replacement
				continue
			}
			if filters.Matches(row) {
				rows[i] = mergePatch(row, patch)
			}
		}
		return rows
	})
	if err != nil {
		f.log.Warn("update: refreshing cache failed", zap.String("table", table), zap.Error(err))
	}
}

// removeFromCache drops rows matching the predicate from the snapshot.
func (f *Facade) removeFromCache(ctx context.Context, table string, filters query.Filters) {
	err := f.cache.Mutate(ctx, table, func(rows []query.Row) []query.Row {
		kept := rows[:0]
		for _, row := range rows {
			if !filters.Matches(row) {
				kept = append(kept, row)
			}
		}
		return kept
	})
	if err != nil {
		f.log.Warn("delete: rewriting cache failed", zap.String("table", table), zap.Error(err))
	}
}

// observeFailure logs a failed online attempt and feeds transient failures
// to the connectivity monitor as an offline observation.
func (f *Facade) observeFailure(table, op string, err error) {
	f.log.Info("remote call failed, using offline path",
		zap.String("table", table),
		zap.String("op", op),
		zap.Error(err),
	)
	if syncerrors.IsTransient(err) {
		f.monitor.Observe(false)
	}
}

func mergePatch(row, patch query.Row) query.Row {
	merged := row.Clone()
	for column, value := range patch {
		merged[column] = value
	}
	return merged
}
