package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTransactions(t *testing.T, s *Store) {
	t.Helper()
	write(t, s, func(w *WriteContext) {
		for _, tx := range []struct {
			id   int64
			date string
		}{
			{98, "2024-05-01"},
			{99, "2024-05-02"},
			{100, "2024-05-02"},
			{101, "2024-05-02"},
			{102, "2024-05-03"},
		} {
			require.NoError(t, Upsert(w, Transactions, txn(tx.id, 1, tx.date)))
		}
	})
}

func ids(t *testing.T, s *Store, pred Predicate) []int64 {
	t.Helper()
	rows, err := Query(context.Background(), s, Transactions, pred, nil, 0)
	require.NoError(t, err)
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestAtOrBefore_SplitsBoundaryDay(t *testing.T) {
	s := openTestStore(t)
	seedTransactions(t, s)

	got := ids(t, s, AtOrBefore("transaction_date", "id", "2024-05-02", 100))
	assert.Equal(t, []int64{98, 99, 100}, got)
}

func TestAtOrAfter_SplitsBoundaryDay(t *testing.T) {
	s := openTestStore(t)
	seedTransactions(t, s)

	got := ids(t, s, AtOrAfter("transaction_date", "id", "2024-05-02", 100))
	assert.Equal(t, []int64{100, 101, 102}, got)
}

func TestWindow_SameDayBoundsOnBothSides(t *testing.T) {
	s := openTestStore(t)
	seedTransactions(t, s)

	got := ids(t, s, And(
		AtOrAfter("transaction_date", "id", "2024-05-02", 99),
		AtOrBefore("transaction_date", "id", "2024-05-02", 100),
	))
	assert.Equal(t, []int64{99, 100}, got)
}

func TestPredicateCombinators(t *testing.T) {
	s := openTestStore(t)
	seedTransactions(t, s)

	tests := []struct {
		name string
		pred Predicate
		want []int64
	}{
		{"all", All(), []int64{98, 99, 100, 101, 102}},
		{"none", None(), []int64{}},
		{"empty in", InInts("id", nil), []int64{}},
		{"in", InInts("id", []int64{99, 102, 500}), []int64{99, 102}},
		{"and with all", And(All(), Eq("id", 101)), []int64{101}},
		{"and with none", And(None(), Eq("id", 101)), []int64{}},
		{"or with none", Or(None(), Eq("id", 98)), []int64{98}},
		{"or with all", Or(All(), Eq("id", 98)), []int64{98, 99, 100, 101, 102}},
		{"not", Not(InInts("id", []int64{98, 99})), []int64{100, 101, 102}},
		{"not all", Not(All()), []int64{}},
		{"between", Between("transaction_date", "2024-05-02", "2024-05-03"), []int64{99, 100, 101, 102}},
		{"at least", AtLeast("id", 101), []int64{101, 102}},
		{"at most", AtMost("id", 99), []int64{98, 99}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, ids(t, s, tt.pred))
		})
	}
}

func TestQuery_SortAndLimit(t *testing.T) {
	s := openTestStore(t)
	seedTransactions(t, s)

	rows, err := Query(context.Background(), s, Transactions, All(),
		Sort{Desc("transaction_date"), Desc("id")}, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 102, rows[0].ID)
	assert.EqualValues(t, 101, rows[1].ID)
}

func TestDeleteWhere_LeavesRowsOutsidePredicate(t *testing.T) {
	s := openTestStore(t)
	seedTransactions(t, s)

	write(t, s, func(w *WriteContext) {
		n, err := DeleteWhere(w, Transactions, Eq("transaction_date", "2024-05-02"))
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})
	assert.Equal(t, []int64{98, 102}, ids(t, s, All()))
}
