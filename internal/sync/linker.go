package sync

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/finsync/internal/events"
	"github.com/njoerd114/finsync/internal/model"
)

// backfill is a set of claimed parent IDs awaiting a fetch.
type backfill struct {
	rel *relation
	ids []int64
}

// link runs the link pass for rel. It must be called with the locks of both
// rel.parent and rel.child held.
//
// Children whose parent now exists locally get their reference set, and the
// missing set shrinks to the parents still absent. With claim set, the
// absent parents not already being fetched are claimed and returned for the
// caller to backfill once the locks are released.
func (r *Refresher) link(ctx context.Context, rel *relation, claim bool) []int64 {
	pending := rel.missing.Snapshot()
	if len(pending) == 0 {
		return nil
	}

	remaining, linked, err := r.resolve(ctx, rel, pending)
	if err != nil {
		// The missing set is left untouched so the next pass retries.
		r.cntSaveFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("sync.relation", rel.name)))
		r.log.Error("link pass failed", "relation", rel.name, "error", err)
		return nil
	}
	rel.missing.Replace(remaining)
	if linked > 0 {
		r.log.Debug("linked children", "relation", rel.name, "rows", linked, "still_missing", len(remaining))
	}

	if !claim {
		return nil
	}
	return rel.inflight.Claim(remaining)
}

// resolve sets the reference columns for every pending parent that exists
// and returns the parents that do not.
func (r *Refresher) resolve(ctx context.Context, rel *relation, pending []int64) (remaining []int64, linked int64, err error) {
	w, err := r.store.NewWriteContext(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", ErrSave, rel.name, err)
	}
	defer w.Discard()

	found, err := rel.existing(ctx, w, pending)
	if err != nil {
		return nil, 0, err
	}
	if len(found) > 0 {
		if linked, err = rel.resolve(w, found); err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %w", ErrSave, rel.name, err)
		}
	}
	if err := w.Save(); err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", ErrSave, rel.name, err)
	}

	present := make(map[int64]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	remaining = make([]int64, 0, len(pending)-len(found))
	for _, id := range pending {
		if _, ok := present[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	return remaining, linked, nil
}

// dispatch starts one background goroutine per job. Backfills outlive the
// operation that claimed them, so they run detached from its cancellation.
func (r *Refresher) dispatch(ctx context.Context, jobs []backfill) {
	for _, job := range jobs {
		r.work.add()
		go func() {
			defer r.work.done()
			r.runBackfill(withOp(context.WithoutCancel(ctx), events.OpBackfill), job)
		}()
	}
}

// runBackfill fetches the claimed parents with the relation's strategy and
// releases each claim once its fetch has been reconciled, whether or not it
// succeeded. Failures are logged and counted; the IDs stay missing and a
// later link pass claims them again.
func (r *Refresher) runBackfill(ctx context.Context, job backfill) {
	ctx, end := r.startSpan(ctx, "sync.backfill",
		attribute.String("sync.relation", job.rel.name),
		attribute.Int("sync.ids", len(job.ids)),
	)
	var err error
	defer func() { end(&err) }()

	r.cntBackfills.Add(ctx, int64(len(job.ids)), metric.WithAttributes(attribute.String("sync.relation", job.rel.name)))
	r.log.Debug("backfilling missing parents", "relation", job.rel.name, "ids", job.ids)

	fail := func(ids []int64, ferr error) {
		r.cntBackfillFailure.Add(ctx, int64(len(ids)), metric.WithAttributes(attribute.String("sync.relation", job.rel.name)))
		r.log.Warn("backfill failed", "relation", job.rel.name, "ids", ids, "error", ferr)
	}

	switch job.rel.mode {
	case backfillCollection:
		defer job.rel.inflight.Release(job.ids)
		if err = r.refreshCollection(ctx, job.rel.parent); err != nil {
			fail(job.ids, err)
		}

	case backfillBatched:
		g := new(errgroup.Group)
		g.SetLimit(r.opts.BackfillConcurrency)
		for batch := range slices.Chunk(job.ids, r.opts.MerchantBatchSize) {
			g.Go(func() error {
				defer job.rel.inflight.Release(batch)
				if berr := r.refreshBatch(ctx, job.rel.parent, batch); berr != nil {
					fail(batch, berr)
					return berr
				}
				return nil
			})
		}
		err = g.Wait()

	default:
		g := new(errgroup.Group)
		g.SetLimit(r.opts.BackfillConcurrency)
		for _, id := range job.ids {
			g.Go(func() error {
				defer job.rel.inflight.Release([]int64{id})
				if ierr := r.refreshByID(ctx, job.rel.parent, id); ierr != nil {
					fail([]int64{id}, ierr)
					return ierr
				}
				return nil
			})
		}
		err = g.Wait()
	}
}

func (r *Refresher) refreshByID(ctx context.Context, t model.EntityType, id int64) error {
	switch t {
	case model.TypeProvider:
		return r.RefreshProvider(ctx, id)
	case model.TypeProviderAccount:
		return r.RefreshProviderAccount(ctx, id)
	case model.TypeAccount:
		return r.RefreshAccount(ctx, id)
	case model.TypeMerchant:
		return r.RefreshMerchant(ctx, id)
	case model.TypeTransaction:
		return r.RefreshTransaction(ctx, id)
	}
	return fmt.Errorf("no by-ID refresh for %s", t)
}

func (r *Refresher) refreshBatch(ctx context.Context, t model.EntityType, ids []int64) error {
	switch t {
	case model.TypeMerchant:
		return r.RefreshMerchantsByIDs(ctx, ids)
	case model.TypeTransaction:
		return r.RefreshTransactionsByIDs(ctx, ids)
	}
	return fmt.Errorf("no batched refresh for %s", t)
}

func (r *Refresher) refreshCollection(ctx context.Context, t model.EntityType) error {
	switch t {
	case model.TypeTransactionCategory:
		return r.RefreshTransactionCategories(ctx)
	case model.TypeProvider:
		return r.RefreshProviders(ctx)
	case model.TypeProviderAccount:
		return r.RefreshProviderAccounts(ctx)
	case model.TypeAccount:
		return r.RefreshAccounts(ctx)
	}
	return fmt.Errorf("no collection refresh for %s", t)
}
