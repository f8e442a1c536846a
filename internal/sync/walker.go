package sync

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/finsync/internal/model"
	"github.com/njoerd114/finsync/internal/store"
)

// ErrPageLimit reports that a pagination walk stopped at the page cap before
// the collection ended.
var ErrPageLimit = errors.New("page limit reached")

// ErrCursorStalled reports a page whose next cursor repeats the cursor it
// was fetched with.
var ErrCursorStalled = errors.New("pagination cursor did not advance")

// pageBounds tells the walker where a page sits in its collection.
type pageBounds struct {
	// first is set for the page fetched without a cursor.
	first bool
	// last is set for the page with no next cursor.
	last bool
	// hasPrev is set when an earlier page of the same walk had records;
	// prevID and prevDate are that page's record furthest along the walk.
	hasPrev  bool
	prevID   int64
	prevDate string
}

// walker drives a cursor-paginated fetch. Each page is applied before the
// next one is fetched, so the store reflects progress page by page.
type walker[T any] struct {
	maxPages int
	tracer   trace.Tracer
	log      *slog.Logger
	name     string

	fetch func(ctx context.Context, cursor string) (model.Page[T], error)
	apply func(ctx context.Context, page model.Page[T], b pageBounds) error
	// edge returns the ID and date of a record for PaginationInfo. Date may
	// be empty for collections without one.
	edge func(*T) (int64, string)
	// tail returns the index of the record furthest along the walk order.
	// The next page's window starts just past it.
	tail func([]T) int
}

// walk fetches pages starting at cursor until the collection ends or the
// page cap is reached. A fetch error ends the walk; an apply error is
// remembered and the walk continues with the next page. The info covers
// every page fetched.
//
// A page whose next cursor repeats its own is applied as an inner page and
// ends the walk as truncated, so nothing past it is treated as gone.
func (w walker[T]) walk(ctx context.Context, cursor string) (model.PaginationInfo, error) {
	var (
		info     model.PaginationInfo
		applyErr error
		prev     pageBounds
	)
	start := cursor
	for {
		if info.Pages >= w.maxPages {
			info.Truncated = true
			w.log.Warn("pagination walk truncated", "walk", w.name, "pages", info.Pages, "error", ErrPageLimit)
			return info, applyErr
		}

		pctx, span := w.tracer.Start(ctx, "sync.page", trace.WithAttributes(
			attribute.String("sync.walk", w.name),
			attribute.Int("sync.page", info.Pages),
		))
		page, err := w.fetch(pctx, cursor)
		if err != nil {
			span.RecordError(err)
			span.End()
			return info, errors.Join(err, applyErr)
		}

		last := page.Paging.After == ""
		stalled := !last && page.Paging.After == cursor
		b := prev
		b.first = info.Pages == 0 && start == ""
		b.last = last
		if err := w.apply(pctx, page, b); err != nil && applyErr == nil {
			span.RecordError(err)
			applyErr = err
		}
		span.SetAttributes(attribute.Int("sync.records", len(page.Data)))
		span.End()

		info.Pages++
		if page.Paging.Total > 0 {
			info.Total = page.Paging.Total
		}
		if n := len(page.Data); n > 0 {
			if info.FirstID == 0 && info.FirstDate == "" {
				info.FirstID, info.FirstDate = w.edge(&page.Data[0])
			}
			info.LastID, info.LastDate = w.edge(&page.Data[w.tail(page.Data)])
			prev = pageBounds{hasPrev: true, prevID: info.LastID, prevDate: info.LastDate}
		}

		if last {
			return info, applyErr
		}
		if stalled {
			info.Truncated = true
			w.log.Warn("pagination walk truncated", "walk", w.name, "pages", info.Pages, "cursor", cursor, "error", ErrCursorStalled)
			return info, applyErr
		}
		cursor = page.Paging.After
	}
}

// transactionFilterScope restricts stored transactions to those the filter
// could return.
func transactionFilterScope(f model.TransactionFilter) store.Predicate {
	var preds []store.Predicate
	if len(f.AccountIDs) > 0 {
		preds = append(preds, store.InInts("account_id", f.AccountIDs))
	}
	if len(f.TransactionIDs) > 0 {
		preds = append(preds, store.InInts("id", f.TransactionIDs))
	}
	if f.FromDate != "" {
		preds = append(preds, store.AtLeast("transaction_date", f.FromDate))
	}
	if f.ToDate != "" {
		preds = append(preds, store.AtMost("transaction_date", f.ToDate))
	}
	if f.Status != model.TransactionStatusUnknown {
		preds = append(preds, store.Eq("status", f.Status))
	}
	return store.And(preds...)
}

// transactionPageScope is the stored range one page of a newest-first
// transaction walk is authoritative for: the filter scope, cut to the
// (date, id) window the page covers. The window reaches up to just below the
// previous page's last record, or to the page's own newest record when the
// walk has no earlier page, and down to the page's oldest record. The first
// page is open towards newer records and the last page towards older ones,
// so rows removed remotely anywhere in the collection are deleted.
//
// A page without records is authoritative only for what lies below the
// previous page when it is the last page, and for the whole filter scope
// when it is the only page.
func transactionPageScope(f model.TransactionFilter, page []model.Transaction, b pageBounds) store.Predicate {
	base := transactionFilterScope(f)
	if len(page) == 0 {
		switch {
		case b.first && b.last:
			return base
		case b.last && b.hasPrev:
			return store.And(base, store.AtOrBefore("transaction_date", "id", b.prevDate, b.prevID-1))
		}
		return store.None()
	}

	newest, oldest := page[0], page[oldestTransaction(page)]
	for _, t := range page[1:] {
		if after(t, newest) {
			newest = t
		}
	}

	preds := []store.Predicate{base}
	switch {
	case b.first:
	case b.hasPrev:
		preds = append(preds, store.AtOrBefore("transaction_date", "id", b.prevDate, b.prevID-1))
	default:
		preds = append(preds, store.AtOrBefore("transaction_date", "id", newest.TransactionDate, newest.ID))
	}
	if !b.last {
		preds = append(preds, store.AtOrAfter("transaction_date", "id", oldest.TransactionDate, oldest.ID))
	}
	return store.And(preds...)
}

// oldestTransaction returns the index of the record that sorts first in
// (date, id) order.
func oldestTransaction(page []model.Transaction) int {
	i := 0
	for j := 1; j < len(page); j++ {
		if after(page[i], page[j]) {
			i = j
		}
	}
	return i
}

// after reports whether a sorts after b in (date, id) order.
func after(a, b model.Transaction) bool {
	if a.TransactionDate != b.TransactionDate {
		return a.TransactionDate > b.TransactionDate
	}
	return a.ID > b.ID
}

// merchantPageScope is the ID window one page of an ascending merchant walk
// is authoritative for. Like transaction pages it starts just above the
// previous page's last record when there is one, and is open downward on
// the first page and upward on the last.
func merchantPageScope(page []model.Merchant, b pageBounds) store.Predicate {
	if len(page) == 0 {
		switch {
		case b.first && b.last:
			return store.All()
		case b.last && b.hasPrev:
			return store.AtLeast("id", b.prevID+1)
		}
		return store.None()
	}
	lo, hi := page[0].ID, page[highestMerchant(page)].ID
	for _, m := range page[1:] {
		lo = min(lo, m.ID)
	}
	var preds []store.Predicate
	switch {
	case b.first:
	case b.hasPrev:
		preds = append(preds, store.AtLeast("id", b.prevID+1))
	default:
		preds = append(preds, store.AtLeast("id", lo))
	}
	if !b.last {
		preds = append(preds, store.AtMost("id", hi))
	}
	return store.And(preds...)
}

// highestMerchant returns the index of the merchant with the largest ID.
func highestMerchant(page []model.Merchant) int {
	i := 0
	for j := 1; j < len(page); j++ {
		if page[j].ID > page[i].ID {
			i = j
		}
	}
	return i
}
