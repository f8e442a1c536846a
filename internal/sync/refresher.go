package sync

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/finsync/internal/events"
	"github.com/njoerd114/finsync/internal/model"
	"github.com/njoerd114/finsync/internal/store"
)

const (
	otelScope               = "finsync/sync"
	metricCreated           = "finsync.sync.rows.created"
	metricUpdated           = "finsync.sync.rows.updated"
	metricDeleted           = "finsync.sync.rows.deleted"
	metricBackfills         = "finsync.sync.backfills"
	metricBackfillFailures  = "finsync.sync.backfill.failures"
	metricSaveFailures      = "finsync.sync.save.failures"
	defaultPageSize         = 200
	defaultMerchantBatch    = 100
	defaultMaxPages         = 1000
	defaultBackfillParallel = 4
	defaultWindowDays       = 90
)

// ErrNotFound is returned by operations that need a locally stored entity
// which does not exist. No network call is made in that case.
var ErrNotFound = errors.New("not found in local store")

// Options tunes a [Refresher]. Zero fields take their defaults.
type Options struct {
	// TransactionPageSize is the page size of transaction walks and the
	// batch size of transaction fetches by ID.
	TransactionPageSize int
	// MerchantBatchSize bounds one merchant by-IDs fetch.
	MerchantBatchSize int
	// MaxPages caps a single pagination walk.
	MaxPages int
	// BackfillConcurrency bounds parallel backfill fetches per dispatch.
	BackfillConcurrency int
	// TransactionWindowDays is how far back RefreshAll fetches transactions.
	TransactionWindowDays int
}

func (o Options) withDefaults() Options {
	if o.TransactionPageSize <= 0 {
		o.TransactionPageSize = defaultPageSize
	}
	if o.MerchantBatchSize <= 0 {
		o.MerchantBatchSize = defaultMerchantBatch
	}
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.BackfillConcurrency <= 0 {
		o.BackfillConcurrency = defaultBackfillParallel
	}
	if o.TransactionWindowDays <= 0 {
		o.TransactionWindowDays = defaultWindowDays
	}
	return o
}

// Refresher is the sync orchestrator. Every public refresh or mutation
// fetches from the [Remote] first, then takes the entity-type locks it needs
// in global order, reconciles the response, runs the link passes for the
// type and releases the locks before dispatching backfills for parents that
// are still missing.
//
// Create one with [NewRefresher]; call [Refresher.Close] when done.
type Refresher struct {
	remote Remote
	store  *store.Store
	bus    *events.Bus
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	locks     typeLocks
	rels      *relations
	schemas   *schemas
	callbacks *callbackQueue

	// work counts operations started with Go and backfill goroutines.
	work      tracker
	closeOnce sync.Once

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer             trace.Tracer
	cntCreated         metric.Int64Counter
	cntUpdated         metric.Int64Counter
	cntDeleted         metric.Int64Counter
	cntBackfills       metric.Int64Counter
	cntBackfillFailure metric.Int64Counter
	cntSaveFailure     metric.Int64Counter
}

// NewRefresher creates a Refresher over remote and st. Updated events are
// published on bus.
func NewRefresher(remote Remote, st *store.Store, bus *events.Bus, opts Options, logger *slog.Logger) *Refresher {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	rels := newRelations()
	r := &Refresher{
		remote:    remote,
		store:     st,
		bus:       bus,
		opts:      opts.withDefaults(),
		log:       logger,
		now:       time.Now,
		rels:      rels,
		schemas:   newSchemas(rels),
		callbacks: newCallbackQueue(logger),

		tracer:             tracer,
		cntCreated:         mustCounter(metricCreated, "Number of rows created by reconciles"),
		cntUpdated:         mustCounter(metricUpdated, "Number of rows updated by reconciles"),
		cntDeleted:         mustCounter(metricDeleted, "Number of rows deleted by reconciles"),
		cntBackfills:       mustCounter(metricBackfills, "Number of missing parents fetched by backfill"),
		cntBackfillFailure: mustCounter(metricBackfillFailures, "Number of backfill fetches that failed"),
		cntSaveFailure:     mustCounter(metricSaveFailures, "Number of store writes that failed"),
	}
	r.work.idle = sync.NewCond(&r.work.mu)
	return r
}

// Go runs op in the background and delivers its result to done exactly once,
// on the Refresher's single callback goroutine. Callbacks never run
// concurrently with each other.
func (r *Refresher) Go(ctx context.Context, op func(context.Context) error, done func(error)) {
	r.work.add()
	go func() {
		defer r.work.done()
		err := op(ctx)
		if done != nil {
			r.callbacks.post(func() { done(err) })
		}
	}()
}

// Listen subscribes the Refresher to requests published on the bus until
// the returned function is called. A [events.RefreshTransactionsRequested]
// becomes a background RefreshTransactionsByIDs.
func (r *Refresher) Listen(ctx context.Context) (stop func()) {
	return r.bus.Subscribe(func(e events.Event) {
		req, ok := e.(events.RefreshTransactionsRequested)
		if !ok || len(req.IDs) == 0 {
			return
		}
		ids := slices.Clone(req.IDs)
		r.Go(ctx, func(ctx context.Context) error {
			return r.RefreshTransactionsByIDs(ctx, ids)
		}, func(err error) {
			if err != nil {
				r.log.Error("requested transaction refresh failed", "event", req.ID, "ids", len(ids), "error", err)
			}
		})
	})
}

// Wait blocks until every operation started with Go and every backfill
// dispatched so far, including backfills those start, has finished.
// Completion callbacks already queued have run when Wait returns, so it must
// not be called from inside one.
func (r *Refresher) Wait() {
	r.work.wait()
	r.callbacks.drain()
}

// Close waits for outstanding work and stops the callback goroutine. The
// Refresher must not be used afterwards; further calls to Close are no-ops.
func (r *Refresher) Close() {
	r.closeOnce.Do(func() {
		r.Wait()
		r.callbacks.close()
	})
}

// Missing returns, per relation, the parent IDs referenced locally but not
// yet stored.
func (r *Refresher) Missing() map[string][]int64 {
	out := make(map[string][]int64, len(r.rels.all))
	for _, rel := range r.rels.all {
		if ids := rel.missing.Snapshot(); len(ids) > 0 {
			out[rel.name] = ids
		}
	}
	return out
}

// runCycle reconciles responses into the store under the locks of s's type,
// runs its link passes and, after unlocking, dispatches backfills and
// publishes the Updated event. A store failure is logged and returned.
func runCycle[K keyType, T any](ctx context.Context, r *Refresher, s *schema[K, T], responses []T, scope store.Predicate, v model.Variant, op events.Op) (Stats, error) {
	unlock := r.locks.lock(r.rels.lockSet(s.typ)...)
	stats, linked, err := reconcile(ctx, r.store, s, responses, scope, v)
	for rel, ids := range linked {
		rel.missing.Merge(ids)
	}
	var jobs []backfill
	for _, rel := range r.rels.asChild(s.typ) {
		if ids := r.link(ctx, rel, true); len(ids) > 0 {
			jobs = append(jobs, backfill{rel: rel, ids: ids})
		}
	}
	for _, rel := range r.rels.asParent(s.typ) {
		r.link(ctx, rel, false)
	}
	unlock()

	r.dispatch(ctx, jobs)
	r.record(ctx, s.typ, stats)
	if err != nil {
		r.cntSaveFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("sync.type", s.typ.String())))
		r.log.Error("saving reconcile", "type", s.typ, "error", err)
		return stats, err
	}

	r.log.Debug("reconcile complete", "type", s.typ, "op", cycleOp(ctx, op),
		"created", stats.Created, "updated", stats.Updated, "deleted", stats.Deleted)
	r.bus.Publish(events.NewUpdated(s.typ, cycleOp(ctx, op), stats.Total()))
	return stats, nil
}

// record adds stats to the row counters.
func (r *Refresher) record(ctx context.Context, t model.EntityType, stats Stats) {
	attrs := metric.WithAttributes(attribute.String("sync.type", t.String()))
	if stats.Created > 0 {
		r.cntCreated.Add(ctx, int64(stats.Created), attrs)
	}
	if stats.Updated > 0 {
		r.cntUpdated.Add(ctx, int64(stats.Updated), attrs)
	}
	if stats.Deleted > 0 {
		r.cntDeleted.Add(ctx, int64(stats.Deleted), attrs)
	}
}

// startSpan opens a span for a public operation. The returned end function
// records *errp on the span before ending it.
func (r *Refresher) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(errp *error)) {
	ctx, span := r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

// mustExist returns ErrNotFound unless the row with key exists locally.
func mustExist[T any](ctx context.Context, st *store.Store, t store.Table[T], key int64) (*T, error) {
	row, err := store.Get(ctx, st, t, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return row, nil
}

// tracker counts running goroutines. Unlike a WaitGroup it may be waited on
// while new work is being added.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle *sync.Cond
}

func (t *tracker) add() {
	t.mu.Lock()
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		t.idle.Broadcast()
	}
	t.mu.Unlock()
}

func (t *tracker) wait() {
	t.mu.Lock()
	for t.n > 0 {
		t.idle.Wait()
	}
	t.mu.Unlock()
}

type opKey struct{}

// withOp tags ctx so cycles started beneath it report op.
func withOp(ctx context.Context, op events.Op) context.Context {
	return context.WithValue(ctx, opKey{}, op)
}

// cycleOp returns the op tagged on ctx, or def.
func cycleOp(ctx context.Context, def events.Op) events.Op {
	if op, ok := ctx.Value(opKey{}).(events.Op); ok {
		return op
	}
	return def
}
