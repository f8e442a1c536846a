package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/njoerd114/finsync/internal/model"
	"github.com/njoerd114/finsync/internal/store"
)

// ErrSave marks a failure to write a reconcile or link pass to the store.
// Nothing from the failed write context is committed.
var ErrSave = errors.New("saving to store")

// Stats counts the row changes of one or more reconcile passes.
type Stats struct {
	Created int
	Updated int
	Deleted int
}

// Total returns the number of rows touched.
func (s Stats) Total() int { return s.Created + s.Updated + s.Deleted }

func (s *Stats) add(o Stats) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Deleted += o.Deleted
}

// linkedIDs holds, per relation, the distinct non-zero parent IDs seen in a
// response set.
type linkedIDs map[*relation][]int64

// harvest collects the parent IDs every response references.
func harvest[K keyType, T any](s *schema[K, T], responses []T) linkedIDs {
	if len(s.fks) == 0 {
		return nil
	}
	seen := make(map[*relation]map[int64]struct{}, len(s.fks))
	linked := make(linkedIDs, len(s.fks))
	for i := range responses {
		for _, fk := range s.fks {
			id := fk.id(&responses[i])
			if id == 0 {
				continue
			}
			if seen[fk.rel] == nil {
				seen[fk.rel] = make(map[int64]struct{})
			}
			if _, ok := seen[fk.rel][id]; ok {
				continue
			}
			seen[fk.rel][id] = struct{}{}
			linked[fk.rel] = append(linked[fk.rel], id)
		}
	}
	return linked
}

// reconcile makes the stored rows of s inside scope match responses and
// commits the result in one write context. Existing rows with a matching key
// are merged according to v, unmatched responses become new rows, and
// unmatched stored rows are deleted. Rows outside scope are never deleted.
//
// The parent IDs referenced by responses are returned even when the write
// fails, so callers can still record them as missing. After a successful
// write they also include deleted keys that stored children still
// reference.
func reconcile[K keyType, T any](ctx context.Context, st *store.Store, s *schema[K, T], responses []T, scope store.Predicate, v model.Variant) (Stats, linkedIDs, error) {
	linked := harvest(s, responses)

	w, err := st.NewWriteContext(ctx)
	if err != nil {
		return Stats{}, linked, fmt.Errorf("%w: %s: %w", ErrSave, s.table.Name, err)
	}
	defer w.Discard()

	stats, deleted, err := mergeJoin(ctx, w, s, responses, scope, v)
	if err != nil {
		return Stats{}, linked, fmt.Errorf("%w: %s: %w", ErrSave, s.table.Name, err)
	}
	orphaned, err := orphans(ctx, w, s, deleted)
	if err != nil {
		return Stats{}, linked, fmt.Errorf("%w: %s: %w", ErrSave, s.table.Name, err)
	}
	if err := w.Save(); err != nil {
		return Stats{}, linked, fmt.Errorf("%w: %s: %w", ErrSave, s.table.Name, err)
	}
	for rel, ids := range orphaned {
		if linked == nil {
			linked = make(linkedIDs, len(orphaned))
		}
		linked[rel] = append(linked[rel], ids...)
	}
	return stats, linked, nil
}

// orphans returns, per relation in which s is the parent, the deleted keys
// that stored children still reference.
func orphans[K keyType, T any](ctx context.Context, w *store.WriteContext, s *schema[K, T], deleted []K) (linkedIDs, error) {
	if len(s.refs) == 0 || len(deleted) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(deleted))
	for _, k := range deleted {
		if id, ok := any(k).(int64); ok {
			ids = append(ids, id)
		}
	}
	out := make(linkedIDs, len(s.refs))
	for _, rel := range s.refs {
		ref, err := rel.referenced(ctx, w, ids)
		if err != nil {
			return nil, err
		}
		if len(ref) > 0 {
			out[rel] = ref
		}
	}
	return out, nil
}

func mergeJoin[K keyType, T any](ctx context.Context, w *store.WriteContext, s *schema[K, T], responses []T, scope store.Predicate, v model.Variant) (Stats, []K, error) {
	existing, err := store.Query(ctx, w, s.table, scope, nil, 0)
	if err != nil {
		return Stats{}, nil, err
	}
	slices.SortFunc(existing, func(a, b T) int { return cmp.Compare(s.key(&a), s.key(&b)) })
	incoming := sortedUnique(s, responses)

	var (
		stats   Stats
		creates []*T
		deletes []K
	)
	i, j := 0, 0
	for i < len(existing) || j < len(incoming) {
		switch {
		case j == len(incoming) || (i < len(existing) && s.key(&existing[i]) < s.key(&incoming[j])):
			deletes = append(deletes, s.key(&existing[i]))
			i++
		case i == len(existing) || s.key(&incoming[j]) < s.key(&existing[i]):
			creates = append(creates, &incoming[j])
			j++
		default:
			row := existing[i]
			s.merge(&row, &incoming[j], v)
			if err := store.Upsert(w, s.table, &row); err != nil {
				return Stats{}, nil, err
			}
			stats.Updated++
			i++
			j++
		}
	}

	// A response missing from scope may still exist locally outside it; a
	// partial response must merge onto that row rather than replace it.
	outside, err := rowsByKey(ctx, w, s, creates)
	if err != nil {
		return Stats{}, nil, err
	}
	for _, resp := range creates {
		row, ok := outside[s.key(resp)]
		s.merge(&row, resp, v)
		if err := store.Upsert(w, s.table, &row); err != nil {
			return Stats{}, nil, err
		}
		if ok {
			stats.Updated++
		} else {
			stats.Created++
		}
	}

	if len(deletes) > 0 {
		n, err := store.DeleteKeys(w, s.table, deletes)
		if err != nil {
			return Stats{}, nil, err
		}
		stats.Deleted = int(n)
	}
	return stats, deletes, nil
}

// sortedUnique returns responses ordered by key. Of several responses with
// the same key only the last one received is kept.
func sortedUnique[K keyType, T any](s *schema[K, T], responses []T) []T {
	out := slices.Clone(responses)
	slices.SortStableFunc(out, func(a, b T) int { return cmp.Compare(s.key(&a), s.key(&b)) })
	uniq := out[:0]
	for i := range out {
		if i+1 < len(out) && s.key(&out[i]) == s.key(&out[i+1]) {
			continue
		}
		uniq = append(uniq, out[i])
	}
	return uniq
}

func rowsByKey[K keyType, T any](ctx context.Context, w *store.WriteContext, s *schema[K, T], rows []*T) (map[K]T, error) {
	found := make(map[K]T)
	for chunk := range slices.Chunk(rows, 500) {
		keys := make([]any, len(chunk))
		for i, r := range chunk {
			keys[i] = s.key(r)
		}
		existing, err := store.Query(ctx, w, s.table, store.In(s.table.Key, keys...), nil, 0)
		if err != nil {
			return nil, err
		}
		for _, row := range existing {
			found[s.key(&row)] = row
		}
	}
	return found, nil
}
