package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/njoerd114/finsync/internal/events"
	"github.com/njoerd114/finsync/internal/model"
	"github.com/njoerd114/finsync/internal/store"
)

// RefreshMerchants walks the merchant list in ascending ID order. List
// entries are summaries, so fields they omit keep their stored values.
func (r *Refresher) RefreshMerchants(ctx context.Context) (_ model.PaginationInfo, err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_merchants")
	defer end(&err)

	w := walker[model.Merchant]{
		maxPages: r.opts.MaxPages,
		tracer:   r.tracer,
		log:      r.log,
		name:     "merchants",
		fetch: func(ctx context.Context, cursor string) (model.Page[model.Merchant], error) {
			page, err := r.remote.FetchMerchants(ctx, cursor, r.opts.MerchantBatchSize)
			if err != nil {
				return page, fmt.Errorf("fetching merchants: %w", err)
			}
			return page, nil
		},
		apply: func(ctx context.Context, page model.Page[model.Merchant], b pageBounds) error {
			_, err := runCycle(ctx, r, r.schemas.merchants, page.Data, merchantPageScope(page.Data, b), model.Partial, events.OpRefresh)
			return err
		},
		edge: func(m *model.Merchant) (int64, string) { return m.ID, "" },
		tail: highestMerchant,
	}
	return w.walk(ctx, "")
}

// RefreshMerchant reconciles one merchant.
func (r *Refresher) RefreshMerchant(ctx context.Context, id int64) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_merchant", attribute.Int64("sync.id", id))
	defer end(&err)

	m, err := r.remote.FetchMerchant(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching merchant %d: %w", id, err)
	}
	_, err = runCycle(ctx, r, r.schemas.merchants, []model.Merchant{*m}, store.Eq("id", m.ID), model.Full, events.OpRefresh)
	return err
}

// RefreshMerchantsByIDs reconciles exactly the given merchants in batches of
// the merchant batch size. A failed batch does not stop the others.
func (r *Refresher) RefreshMerchantsByIDs(ctx context.Context, ids []int64) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_merchants_by_ids", attribute.Int("sync.ids", len(ids)))
	defer end(&err)

	var errs []error
	for batch := range slices.Chunk(uniqueIDs(ids), r.opts.MerchantBatchSize) {
		ms, err := r.remote.FetchMerchantsByIDs(ctx, batch)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetching merchants by id: %w", err))
			continue
		}
		if _, err := runCycle(ctx, r, r.schemas.merchants, ms, store.InInts("id", batch), model.Full, events.OpRefresh); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
