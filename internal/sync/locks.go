package sync

import (
	"slices"
	"sync"

	"github.com/njoerd114/finsync/internal/model"
)

// typeLocks holds one exclusive lock per entity type. Locks are always taken
// together through lock, in ascending EntityType order, which puts every
// parent before its children and rules out lock-order inversion.
type typeLocks struct {
	mu [model.TypeTag + 1]sync.Mutex
}

// lock acquires the locks for types and returns the matching unlock.
func (l *typeLocks) lock(types ...model.EntityType) (unlock func()) {
	ordered := slices.Clone(types)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	for _, t := range ordered {
		l.mu[t].Lock()
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			l.mu[ordered[i]].Unlock()
		}
	}
}
