package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/njoerd114/finsync/internal/events"
	"github.com/njoerd114/finsync/internal/model"
	"github.com/njoerd114/finsync/internal/store"
)

// TagAction selects whether UpdateTransactionTags adds or removes tags.
type TagAction int

const (
	TagAdd TagAction = iota
	TagRemove
)

func (a TagAction) String() string {
	if a == TagRemove {
		return "remove"
	}
	return "add"
}

// RefreshTransactions walks every page the filter selects, reconciling each
// page within its own window before fetching the next.
func (r *Refresher) RefreshTransactions(ctx context.Context, f model.TransactionFilter) (_ model.PaginationInfo, err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_transactions",
		attribute.String("sync.from", f.FromDate),
		attribute.String("sync.to", f.ToDate),
	)
	defer end(&err)

	if f.Size <= 0 {
		f.Size = r.opts.TransactionPageSize
	}
	w := walker[model.Transaction]{
		maxPages: r.opts.MaxPages,
		tracer:   r.tracer,
		log:      r.log,
		name:     "transactions",
		fetch: func(ctx context.Context, cursor string) (model.Page[model.Transaction], error) {
			pf := f
			pf.After = cursor
			page, err := r.remote.FetchTransactions(ctx, pf)
			if err != nil {
				return page, fmt.Errorf("fetching transactions: %w", err)
			}
			return page, nil
		},
		apply: func(ctx context.Context, page model.Page[model.Transaction], b pageBounds) error {
			scope := transactionPageScope(f, page.Data, b)
			_, err := runCycle(ctx, r, r.schemas.transactions, page.Data, scope, model.Full, events.OpRefresh)
			return err
		},
		edge: func(t *model.Transaction) (int64, string) { return t.ID, t.TransactionDate },
		tail: oldestTransaction,
	}
	return w.walk(ctx, f.After)
}

// RefreshTransaction reconciles one transaction.
func (r *Refresher) RefreshTransaction(ctx context.Context, id int64) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_transaction", attribute.Int64("sync.id", id))
	defer end(&err)

	t, err := r.remote.FetchTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching transaction %d: %w", id, err)
	}
	_, err = runCycle(ctx, r, r.schemas.transactions, []model.Transaction{*t}, store.Eq("id", t.ID), model.Full, events.OpRefresh)
	return err
}

// RefreshTransactionsByIDs reconciles exactly the given transactions, in
// batches of the transaction page size. A requested ID the API no longer
// returns is deleted locally. A failed batch does not stop the others.
func (r *Refresher) RefreshTransactionsByIDs(ctx context.Context, ids []int64) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_transactions_by_ids", attribute.Int("sync.ids", len(ids)))
	defer end(&err)

	var errs []error
	for batch := range slices.Chunk(uniqueIDs(ids), r.opts.TransactionPageSize) {
		if err := r.refreshTransactionBatch(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// refreshTransactionBatch collects every page for batch before reconciling,
// so the ID scope is applied to the complete response. When the pages stop
// before the response ends, only the IDs actually returned are in scope.
func (r *Refresher) refreshTransactionBatch(ctx context.Context, batch []int64) error {
	f := model.TransactionFilter{TransactionIDs: batch, Size: len(batch)}
	var (
		all      []model.Transaction
		complete bool
		stopErr  = ErrPageLimit
	)
	for range r.opts.MaxPages {
		page, err := r.remote.FetchTransactions(ctx, f)
		if err != nil {
			return fmt.Errorf("fetching transactions by id: %w", err)
		}
		all = append(all, page.Data...)
		if page.Paging.After == "" {
			complete = true
			break
		}
		if page.Paging.After == f.After {
			stopErr = ErrCursorStalled
			break
		}
		f.After = page.Paging.After
	}

	scope := store.InInts("id", batch)
	if !complete {
		returned := make([]int64, len(all))
		for i := range all {
			returned[i] = all[i].ID
		}
		scope = store.InInts("id", returned)
		r.log.Warn("transaction batch incomplete", "requested", len(batch), "returned", len(all), "error", stopErr)
	}
	_, err := runCycle(ctx, r, r.schemas.transactions, all, scope, model.Full, events.OpRefresh)
	return err
}

// UpdateTransaction applies patch to a locally stored transaction remotely,
// then stores the updated transaction the API returns.
func (r *Refresher) UpdateTransaction(ctx context.Context, id int64, patch model.TransactionPatch) (err error) {
	ctx, end := r.startSpan(ctx, "sync.update_transaction", attribute.Int64("sync.id", id))
	defer end(&err)

	if _, err := mustExist(ctx, r.store, store.Transactions, id); err != nil {
		return fmt.Errorf("transaction %d: %w", id, err)
	}
	t, err := r.remote.UpdateTransaction(ctx, id, patch)
	if err != nil {
		return fmt.Errorf("updating transaction %d: %w", id, err)
	}
	_, _ = runCycle(ctx, r, r.schemas.transactions, []model.Transaction{*t}, store.Eq("id", t.ID), model.Full, events.OpMutate)
	return nil
}

// UpdateTransactionTags adds tags to, or removes them from, a locally stored
// transaction. The remote change is applied first; the local tag set is
// then updated in place.
func (r *Refresher) UpdateTransactionTags(ctx context.Context, id int64, tags []string, action TagAction) (err error) {
	ctx, end := r.startSpan(ctx, "sync.update_transaction_tags",
		attribute.Int64("sync.id", id),
		attribute.String("sync.action", action.String()),
	)
	defer end(&err)

	if _, err := mustExist(ctx, r.store, store.Transactions, id); err != nil {
		return fmt.Errorf("transaction %d: %w", id, err)
	}
	if action == TagRemove {
		err = r.remote.RemoveTransactionTags(ctx, id, tags)
	} else {
		err = r.remote.AddTransactionTags(ctx, id, tags)
	}
	if err != nil {
		return fmt.Errorf("%s tags on transaction %d: %w", action, id, err)
	}

	unlock := r.locks.lock(r.rels.lockSet(model.TypeTransaction)...)
	serr := r.applyTags(ctx, id, tags, action)
	unlock()
	if serr != nil {
		r.cntSaveFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("sync.type", model.TypeTransaction.String())))
		r.log.Error("saving transaction tags", "id", id, "error", serr)
		return nil
	}
	r.bus.Publish(events.NewUpdated(model.TypeTransaction, events.OpMutate, 1))
	return nil
}

func (r *Refresher) applyTags(ctx context.Context, id int64, tags []string, action TagAction) error {
	w, err := r.store.NewWriteContext(ctx)
	if err != nil {
		return err
	}
	defer w.Discard()

	t, err := store.Get(ctx, w, store.Transactions, id)
	if err != nil {
		return err
	}
	if t == nil {
		// Deleted by a concurrent refresh; nothing left to tag.
		return nil
	}
	if action == TagRemove {
		t.UserTags = t.UserTags.Without(tags)
	} else {
		t.UserTags = t.UserTags.Union(tags)
	}
	if err := store.Upsert(w, store.Transactions, t); err != nil {
		return err
	}
	return w.Save()
}

// RefreshTransactionCategories reconciles the full category list.
func (r *Refresher) RefreshTransactionCategories(ctx context.Context) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_transaction_categories")
	defer end(&err)

	cats, err := r.remote.FetchTransactionCategories(ctx)
	if err != nil {
		return fmt.Errorf("fetching transaction categories: %w", err)
	}
	_, err = runCycle(ctx, r, r.schemas.categories, cats, store.All(), model.Full, events.OpRefresh)
	return err
}

// RefreshUserTags reconciles the user's tag list.
func (r *Refresher) RefreshUserTags(ctx context.Context) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_user_tags")
	defer end(&err)

	tags, err := r.remote.FetchUserTags(ctx)
	if err != nil {
		return fmt.Errorf("fetching user tags: %w", err)
	}
	_, err = runCycle(ctx, r, r.schemas.tags, tags, store.All(), model.Full, events.OpRefresh)
	return err
}

// RefreshAll refreshes every collection in parent-first order, then the
// transactions of the configured window. It continues past failures and
// returns them joined.
func (r *Refresher) RefreshAll(ctx context.Context) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_all")
	defer end(&err)

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"transaction categories", r.RefreshTransactionCategories},
		{"providers", r.RefreshProviders},
		{"provider accounts", r.RefreshProviderAccounts},
		{"accounts", r.RefreshAccounts},
		{"transactions", func(ctx context.Context) error {
			_, err := r.RefreshTransactions(ctx, r.windowFilter())
			return err
		}},
		{"user tags", r.RefreshUserTags},
	}

	var errs []error
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			r.log.Error("refresh step failed", "step", s.name, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// windowFilter selects the transactions of the last TransactionWindowDays.
func (r *Refresher) windowFilter() model.TransactionFilter {
	today := r.now().UTC()
	return model.TransactionFilter{
		FromDate: today.AddDate(0, 0, -r.opts.TransactionWindowDays).Format(model.DateLayout),
		ToDate:   today.Format(model.DateLayout),
		Size:     r.opts.TransactionPageSize,
	}
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
