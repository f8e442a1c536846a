package sync

import (
	"context"
	"fmt"

	"github.com/njoerd114/finsync/internal/model"
	"github.com/njoerd114/finsync/internal/store"
)

// backfillMode selects how missing parents of a relation are fetched.
type backfillMode int

const (
	backfillPerID      backfillMode = iota // one by-ID fetch per missing parent
	backfillBatched                        // by-IDs fetches in bounded batches
	backfillCollection                     // one full collection refresh
)

// relation is one child to parent reference, for example Transaction to
// Merchant through transactions.merchant_id. It owns the relation's
// missing-parent and in-flight sets.
type relation struct {
	name   string
	parent model.EntityType
	child  model.EntityType
	mode   backfillMode

	// missing holds parent IDs referenced by stored children but not yet
	// present locally. Only the link pass replaces it; reconciles add to it.
	missing *IDSet
	// inflight holds parent IDs a backfill fetch is currently running for.
	inflight *IDSet

	existing   func(ctx context.Context, r store.Reader, ids []int64) ([]int64, error)
	referenced func(ctx context.Context, r store.Reader, ids []int64) ([]int64, error)
	resolve    func(w *store.WriteContext, parentIDs []int64) (int64, error)
}

func newRelation[P, C any](name string, parent, child model.EntityType, mode backfillMode,
	parentTable store.Table[P], childTable store.Table[C], column string,
) *relation {
	link, ok := childTable.Link(column)
	if !ok {
		panic(fmt.Sprintf("sync: %s has no link on %s", childTable.Name, column))
	}
	return &relation{
		name:     name,
		parent:   parent,
		child:    child,
		mode:     mode,
		missing:  NewIDSet(),
		inflight: NewIDSet(),
		existing: func(ctx context.Context, r store.Reader, ids []int64) ([]int64, error) {
			return store.ExistingIDs(ctx, r, parentTable, ids)
		},
		referenced: func(ctx context.Context, r store.Reader, ids []int64) ([]int64, error) {
			return store.ReferencedIDs(ctx, r, childTable, link.Column, ids)
		},
		resolve: func(w *store.WriteContext, parentIDs []int64) (int64, error) {
			return store.ResolveLinks(w, childTable, link, parentIDs)
		},
	}
}

// relations is the fixed relation graph of one Refresher.
type relations struct {
	providerAccountProvider *relation
	accountProviderAccount  *relation
	transactionAccount      *relation
	transactionMerchant     *relation
	transactionCategory     *relation

	all []*relation
}

func newRelations() *relations {
	r := &relations{
		providerAccountProvider: newRelation("provider_account.provider",
			model.TypeProvider, model.TypeProviderAccount, backfillPerID,
			store.Providers, store.ProviderAccounts, "provider_id"),
		accountProviderAccount: newRelation("account.provider_account",
			model.TypeProviderAccount, model.TypeAccount, backfillPerID,
			store.ProviderAccounts, store.Accounts, "provider_account_id"),
		transactionAccount: newRelation("transaction.account",
			model.TypeAccount, model.TypeTransaction, backfillPerID,
			store.Accounts, store.Transactions, "account_id"),
		transactionMerchant: newRelation("transaction.merchant",
			model.TypeMerchant, model.TypeTransaction, backfillBatched,
			store.Merchants, store.Transactions, "merchant_id"),
		transactionCategory: newRelation("transaction.category",
			model.TypeTransactionCategory, model.TypeTransaction, backfillCollection,
			store.TransactionCategories, store.Transactions, "category_id"),
	}
	r.all = []*relation{
		r.providerAccountProvider,
		r.accountProviderAccount,
		r.transactionAccount,
		r.transactionMerchant,
		r.transactionCategory,
	}
	return r
}

// asChild returns the relations in which t is the child.
func (rs *relations) asChild(t model.EntityType) []*relation {
	var out []*relation
	for _, r := range rs.all {
		if r.child == t {
			out = append(out, r)
		}
	}
	return out
}

// asParent returns the relations in which t is the parent.
func (rs *relations) asParent(t model.EntityType) []*relation {
	var out []*relation
	for _, r := range rs.all {
		if r.parent == t {
			out = append(out, r)
		}
	}
	return out
}

// lockSet returns t together with every parent and child type related to
// it, which covers both ends of every relation a cycle on t touches.
func (rs *relations) lockSet(t model.EntityType) []model.EntityType {
	set := []model.EntityType{t}
	for _, r := range rs.all {
		switch t {
		case r.child:
			set = append(set, r.parent)
		case r.parent:
			set = append(set, r.child)
		}
	}
	return set
}

// keyType is the set of primary key types.
type keyType interface{ ~int64 | ~string }

// fkField extracts one foreign key value from a child row.
type fkField[T any] struct {
	rel *relation
	id  func(*T) int64
}

// schema describes how the reconciler treats one entity type.
type schema[K keyType, T any] struct {
	typ   model.EntityType
	table store.Table[T]
	key   func(*T) K
	merge func(dst, src *T, v model.Variant)
	fks   []fkField[T]
	// refs are the relations in which typ is the parent. Deleting a row
	// that children still reference puts its key back into their missing
	// sets.
	refs []*relation
}

// schemas holds the per-type descriptors of one Refresher.
type schemas struct {
	providers        *schema[int64, model.Provider]
	providerAccounts *schema[int64, model.ProviderAccount]
	accounts         *schema[int64, model.Account]
	merchants        *schema[int64, model.Merchant]
	categories       *schema[int64, model.TransactionCategory]
	transactions     *schema[int64, model.Transaction]
	tags             *schema[string, model.Tag]
}

func newSchemas(rs *relations) *schemas {
	return &schemas{
		providers: &schema[int64, model.Provider]{
			typ:   model.TypeProvider,
			table: store.Providers,
			key:   func(p *model.Provider) int64 { return p.ID },
			merge: (*model.Provider).Merge,
			refs:  rs.asParent(model.TypeProvider),
		},
		providerAccounts: &schema[int64, model.ProviderAccount]{
			typ:   model.TypeProviderAccount,
			table: store.ProviderAccounts,
			key:   func(pa *model.ProviderAccount) int64 { return pa.ID },
			merge: (*model.ProviderAccount).Merge,
			fks: []fkField[model.ProviderAccount]{
				{rs.providerAccountProvider, func(pa *model.ProviderAccount) int64 { return pa.ProviderID }},
			},
			refs: rs.asParent(model.TypeProviderAccount),
		},
		accounts: &schema[int64, model.Account]{
			typ:   model.TypeAccount,
			table: store.Accounts,
			key:   func(a *model.Account) int64 { return a.ID },
			merge: (*model.Account).Merge,
			fks: []fkField[model.Account]{
				{rs.accountProviderAccount, func(a *model.Account) int64 { return a.ProviderAccountID }},
			},
			refs: rs.asParent(model.TypeAccount),
		},
		merchants: &schema[int64, model.Merchant]{
			typ:   model.TypeMerchant,
			table: store.Merchants,
			key:   func(m *model.Merchant) int64 { return m.ID },
			merge: (*model.Merchant).Merge,
			refs:  rs.asParent(model.TypeMerchant),
		},
		categories: &schema[int64, model.TransactionCategory]{
			typ:   model.TypeTransactionCategory,
			table: store.TransactionCategories,
			key:   func(c *model.TransactionCategory) int64 { return c.ID },
			merge: (*model.TransactionCategory).Merge,
			refs:  rs.asParent(model.TypeTransactionCategory),
		},
		transactions: &schema[int64, model.Transaction]{
			typ:   model.TypeTransaction,
			table: store.Transactions,
			key:   func(t *model.Transaction) int64 { return t.ID },
			merge: (*model.Transaction).Merge,
			fks: []fkField[model.Transaction]{
				{rs.transactionAccount, func(t *model.Transaction) int64 { return t.AccountID }},
				{rs.transactionMerchant, func(t *model.Transaction) int64 { return t.MerchantID }},
				{rs.transactionCategory, func(t *model.Transaction) int64 { return t.CategoryID }},
			},
		},
		tags: &schema[string, model.Tag]{
			typ:   model.TypeTag,
			table: store.Tags,
			key:   func(t *model.Tag) string { return t.Name },
			merge: (*model.Tag).Merge,
		},
	}
}
