// Package reconcile runs one ingestion pass of a feed into the canonical
// store. Runs are best effort: a unit that cannot be fetched is recorded
// as missing and skipped, a failed write chunk is logged and the rest
// still land. Only a fatal upstream fault or the run deadline stops a run.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/db"
	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/merge"
	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/normalize"
	"github.com/hartproperty/propsync/internal/resilience"
	"github.com/hartproperty/propsync/internal/store"
)

// Batch is one fetched and normalized unit of work.
type Batch struct {
	normalize.Result

	// Finish runs after the batch's writes, e.g. brokerage metadata or
	// the maintenance pass. A Finish error is logged and does not fail
	// the unit.
	Finish func(ctx context.Context) error
}

// Feed produces batches for one source. Units are feed-specific: a URA
// batch number, a PropNex project id, an image path, a patch file.
type Feed interface {
	Source() model.Source
	Fetch(ctx context.Context, unit string) (*Batch, error)
}

// Store is what a run needs from the canonical store.
type Store interface {
	store.Transactions
	store.RunLog
	store.Missing
}

// Config tunes a Driver.
type Config struct {
	QueryChunk   int
	WriteChunk   int
	FetchTimeout time.Duration
	RunTimeout   time.Duration
	Retry        resilience.RetryConfig
	// BreakerThreshold consecutive transient failures open the circuit;
	// units after that are recorded missing without a fetch.
	BreakerThreshold int
}

// Driver runs feeds against a store.
type Driver struct {
	store Store
	cfg   Config
}

// New creates a Driver, applying default chunk sizes.
func New(st Store, cfg Config) *Driver {
	if cfg.QueryChunk <= 0 {
		cfg.QueryChunk = 200
	}
	if cfg.WriteChunk <= 0 {
		cfg.WriteChunk = 200
	}
	return &Driver{store: st, cfg: cfg}
}

// Run fetches every unit, reconciles what it gets and records the run. It
// returns an error only when the run was aborted.
func (d *Driver) Run(ctx context.Context, feed Feed, units []string) (*Report, error) {
	source := feed.Source()
	log := zap.L().With(zap.String("component", "reconcile"), zap.String("source", string(source)))
	start := time.Now()
	report := newReport(source, len(units))

	runID, err := d.store.StartRun(ctx, source)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: start run for %s", source)
	}

	if d.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.RunTimeout)
		defer cancel()
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: d.cfg.BreakerThreshold,
		OnStateChange: func(from, to resilience.CircuitState) {
			log.Warn("feed circuit state change", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	retry := d.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(string(source), "fetch")
	}

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return d.abort(report, runID, start, eris.Wrap(err, "reconcile: run deadline"))
		}
		uLog := log.With(zap.String("unit", unit))

		batch, err := resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*Batch, error) {
			return resilience.DoVal(ctx, retry, func(ctx context.Context) (*Batch, error) {
				if d.cfg.FetchTimeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, d.cfg.FetchTimeout)
					defer cancel()
				}
				return feed.Fetch(ctx, unit)
			})
		})
		if err != nil {
			if resilience.IsFatal(err) {
				uLog.Error("fatal upstream fault, aborting run", zap.Error(err))
				return d.abort(report, runID, start, err)
			}
			if ctx.Err() != nil {
				return d.abort(report, runID, start, eris.Wrap(ctx.Err(), "reconcile: run deadline"))
			}
			uLog.Warn("unit fetch failed", zap.Error(err))
			report.failUnit(unit)
			d.recordMissing(ctx, source, unit, err)
			continue
		}
		if batch == nil {
			batch = &Batch{}
		}

		report.addDrops(batch.Drops)
		report.Candidates += len(batch.Candidates)
		d.reconcile(ctx, batch.Candidates, report)

		if batch.Finish != nil {
			if err := batch.Finish(ctx); err != nil {
				uLog.Warn("unit finish failed", zap.Error(err))
			}
		}
		if err := d.store.ResolveMissing(ctx, source, unit); err != nil {
			uLog.Warn("resolve missing unit", zap.Error(err))
		}
		report.Units++
		uLog.Debug("unit reconciled", zap.Int("candidates", len(batch.Candidates)), zap.Int("dropped", len(batch.Drops)))
	}

	report.finish(start)
	if err := d.store.CompleteRun(ctx, runID, report); err != nil {
		log.Error("failed to record run completion", zap.Error(err))
	}
	log.Info("run complete",
		zap.Int("units", report.Units),
		zap.Int("failed_units", len(report.FailedUnits)),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("dropped", report.Dropped),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (d *Driver) abort(report *Report, runID int64, start time.Time, cause error) (*Report, error) {
	report.finish(start)
	report.Aborted = true
	report.Error = cause.Error()

	// The run context may already be done; record the failure regardless.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.store.FailRun(ctx, runID, cause.Error()); err != nil {
		zap.L().Error("reconcile: failed to record run failure", zap.Error(err))
	}
	return report, cause
}

func (d *Driver) recordMissing(ctx context.Context, source model.Source, unit string, cause error) {
	class := resilience.ClassifyError(cause)
	if errors.Is(cause, resilience.ErrCircuitOpen) {
		class = resilience.ClassTransient
	}
	err := d.store.RecordMissing(ctx, model.MissingUnit{
		Source:     source,
		Unit:       unit,
		Error:      cause.Error(),
		ErrorClass: class,
	})
	if err != nil {
		zap.L().Warn("reconcile: record missing unit", zap.String("unit", unit), zap.Error(err))
	}
}

// reconcile looks up stored rows for the candidates' coarse keys, plans
// the merge and writes it. Candidates whose key lookup failed are left
// for a later run: inserting them blind could duplicate a stored sale.
func (d *Driver) reconcile(ctx context.Context, candidates []model.Transaction, report *Report) {
	if len(candidates) == 0 {
		return
	}
	log := zap.L().With(zap.String("component", "reconcile"))

	var keys []identity.CoarseKey
	seen := make(map[identity.CoarseKey]bool)
	for i := range candidates {
		k := identity.Coarse(&candidates[i])
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	var existing []model.Transaction
	unreadable := make(map[identity.CoarseKey]bool)
	for i, chunk := range db.Chunk(keys, d.cfg.QueryChunk) {
		rows, err := d.store.FindByCoarseKeys(ctx, chunk)
		if err != nil {
			log.Warn("existing-row lookup failed, skipping keys",
				zap.Int("chunk_start", i*d.cfg.QueryChunk),
				zap.Int("chunk_end", i*d.cfg.QueryChunk+len(chunk)),
				zap.Error(err),
			)
			for _, k := range chunk {
				unreadable[k] = true
			}
			continue
		}
		existing = append(existing, rows...)
	}

	usable := candidates
	if len(unreadable) > 0 {
		usable = make([]model.Transaction, 0, len(candidates))
		for i := range candidates {
			if unreadable[identity.Coarse(&candidates[i])] {
				report.Unresolved++
				continue
			}
			usable = append(usable, candidates[i])
		}
	}

	var exact, ranged []model.Transaction
	var updates []merge.Decision
	for _, dec := range merge.Plan(usable, existing) {
		switch dec.Action {
		case merge.Insert:
			if dec.Row.HasExactLocation() {
				exact = append(exact, dec.Row)
			} else {
				ranged = append(ranged, dec.Row)
			}
		case merge.Update:
			updates = append(updates, dec)
		case merge.Skip:
			report.Skipped++
		}
	}

	report.Inserted += d.writeChunks(ctx, "upsert_exact", exact, d.store.UpsertExact, report)
	report.Inserted += d.writeChunks(ctx, "insert_range", ranged, d.store.InsertRange, report)

	for i, chunk := range db.Chunk(updates, d.cfg.WriteChunk) {
		failed := 0
		for _, dec := range chunk {
			n, err := d.store.FillNulls(ctx, dec.IDs, dec.Row, dec.ExactID)
			if err != nil {
				log.Warn("fill nulls failed", zap.String("key", dec.Key), zap.Error(err))
				failed++
				continue
			}
			report.Updated++
			report.RowsUpdated += n
		}
		if failed > 0 {
			report.FailedChunks++
			log.Warn("update chunk partially failed",
				zap.Int("chunk_start", i*d.cfg.WriteChunk),
				zap.Int("chunk_end", i*d.cfg.WriteChunk+len(chunk)),
				zap.Int("failed", failed),
			)
		}
	}
}

// writeChunks writes rows in chunks, returning how many rows landed.
func (d *Driver) writeChunks(ctx context.Context, op string, rows []model.Transaction,
	write func(context.Context, []model.Transaction) (int64, error), report *Report,
) int {
	written := 0
	for i, chunk := range db.Chunk(rows, d.cfg.WriteChunk) {
		if _, err := write(ctx, chunk); err != nil {
			report.FailedChunks++
			zap.L().Warn("write chunk failed",
				zap.String("component", "reconcile"),
				zap.String("op", op),
				zap.Int("chunk_start", i*d.cfg.WriteChunk),
				zap.Int("chunk_end", i*d.cfg.WriteChunk+len(chunk)),
				zap.Error(err),
			)
			continue
		}
		written += len(chunk)
	}
	return written
}
