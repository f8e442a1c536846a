// Package sync keeps the local entity store consistent with the remote
// aggregation API. It compares fetched responses against stored rows within
// an explicit scope, creates, updates and deletes rows to match, and resolves
// cross-entity references as parents arrive, backfilling the ones that are
// still missing.
//
// The package contains four cooperating parts:
//
//   - the reconciler merges one response set into the store,
//   - the linker resolves child to parent references and dispatches
//     backfill fetches for missing parents,
//   - [Refresher] orchestrates locks, fetches, completion and events,
//   - the walker drives cursor-paginated fetches page by page.
package sync

import (
	"context"

	"github.com/njoerd114/finsync/internal/model"
)

// ProviderSource reads the provider catalogue.
// Implemented by [api.Client].
type ProviderSource interface {
	FetchProviders(ctx context.Context) ([]model.Provider, error)
	FetchProvider(ctx context.Context, id int64) (*model.Provider, error)
}

// ProviderAccountSource reads and manages the user's provider logins.
// Implemented by [api.Client].
type ProviderAccountSource interface {
	FetchProviderAccounts(ctx context.Context) ([]model.ProviderAccount, error)
	FetchProviderAccount(ctx context.Context, id int64) (*model.ProviderAccount, error)
	CreateProviderAccount(ctx context.Context, req model.ProviderAccountCreate) (*model.ProviderAccount, error)
	DeleteProviderAccount(ctx context.Context, id int64) error
}

// AccountSource reads and updates accounts.
// Implemented by [api.Client].
type AccountSource interface {
	FetchAccounts(ctx context.Context) ([]model.Account, error)
	FetchAccount(ctx context.Context, id int64) (*model.Account, error)
	UpdateAccount(ctx context.Context, id int64, patch model.AccountPatch) (*model.Account, error)
}

// TransactionSource reads and updates transactions, their categories and
// the user's tags.
// Implemented by [api.Client].
type TransactionSource interface {
	FetchTransactions(ctx context.Context, f model.TransactionFilter) (model.Page[model.Transaction], error)
	FetchTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	UpdateTransaction(ctx context.Context, id int64, patch model.TransactionPatch) (*model.Transaction, error)
	AddTransactionTags(ctx context.Context, id int64, tags []string) error
	RemoveTransactionTags(ctx context.Context, id int64, tags []string) error
	FetchTransactionCategories(ctx context.Context) ([]model.TransactionCategory, error)
	FetchUserTags(ctx context.Context) ([]model.Tag, error)
}

// MerchantSource reads merchants, paged, singly or by ID batch.
// Implemented by [api.Client].
type MerchantSource interface {
	FetchMerchants(ctx context.Context, after string, size int) (model.Page[model.Merchant], error)
	FetchMerchant(ctx context.Context, id int64) (*model.Merchant, error)
	FetchMerchantsByIDs(ctx context.Context, ids []int64) ([]model.Merchant, error)
}

// Remote is the full remote API surface the [Refresher] drives.
type Remote interface {
	ProviderSource
	ProviderAccountSource
	AccountSource
	TransactionSource
	MerchantSource
}
