package sync

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/njoerd114/finsync/internal/model"
)

// --- Fake Remote -------------------------------------------------------------

// fakeRemote is an in-memory Remote. Every method counts its calls; hooks run
// before a method returns and may block it, and errs makes it fail.
type fakeRemote struct {
	mu               sync.Mutex
	providers        map[int64]model.Provider
	providerAccounts map[int64]model.ProviderAccount
	accounts         map[int64]model.Account
	transactions     map[int64]model.Transaction
	merchants        map[int64]model.Merchant
	categories       map[int64]model.TransactionCategory
	tags             []model.Tag
	nextID           int64

	calls           map[string]int
	merchantBatches [][]int64
	txnFilters      []model.TransactionFilter
	hooks           map[string]func()
	errs            map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		providers:        make(map[int64]model.Provider),
		providerAccounts: make(map[int64]model.ProviderAccount),
		accounts:         make(map[int64]model.Account),
		transactions:     make(map[int64]model.Transaction),
		merchants:        make(map[int64]model.Merchant),
		categories:       make(map[int64]model.TransactionCategory),
		nextID:           1000,
		calls:            make(map[string]int),
		hooks:            make(map[string]func()),
		errs:             make(map[string]error),
	}
}

// enter records a call to method, runs its hook outside the lock and returns
// its configured error.
func (f *fakeRemote) enter(method string) error {
	f.mu.Lock()
	f.calls[method]++
	hook := f.hooks[method]
	err := f.errs[method]
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeRemote) setHook(method string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[method] = fn
}

func (f *fakeRemote) setErr(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *fakeRemote) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeRemote) batches() [][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.merchantBatches)
}

func (f *fakeRemote) putProvider(ps ...model.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range ps {
		f.providers[p.ID] = p
	}
}

func (f *fakeRemote) putProviderAccount(pas ...model.ProviderAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pa := range pas {
		f.providerAccounts[pa.ID] = pa
	}
}

func (f *fakeRemote) putAccount(as ...model.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range as {
		f.accounts[a.ID] = a
	}
}

func (f *fakeRemote) putTransaction(ts ...model.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range ts {
		f.transactions[t.ID] = t
	}
}

func (f *fakeRemote) removeTransaction(ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.transactions, id)
	}
}

func (f *fakeRemote) putMerchant(ms ...model.Merchant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range ms {
		f.merchants[m.ID] = m
	}
}

func (f *fakeRemote) removeMerchant(ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.merchants, id)
	}
}

func (f *fakeRemote) putCategory(cs ...model.TransactionCategory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range cs {
		f.categories[c.ID] = c
	}
}

func sortedValues[T any](m map[int64]T) []T {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: remote not found", kind, id)
}

// --- ProviderSource ----------------------------------------------------------

func (f *fakeRemote) FetchProviders(_ context.Context) ([]model.Provider, error) {
	if err := f.enter("FetchProviders"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Provider
	for _, p := range sortedValues(f.providers) {
		if p.Status == model.ProviderStatusSupported || p.Status == model.ProviderStatusBeta {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRemote) FetchProvider(_ context.Context, id int64) (*model.Provider, error) {
	if err := f.enter("FetchProvider"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[id]
	if !ok {
		return nil, notFound("provider", id)
	}
	return &p, nil
}

// --- ProviderAccountSource ---------------------------------------------------

func (f *fakeRemote) FetchProviderAccounts(_ context.Context) ([]model.ProviderAccount, error) {
	if err := f.enter("FetchProviderAccounts"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.providerAccounts), nil
}

func (f *fakeRemote) FetchProviderAccount(_ context.Context, id int64) (*model.ProviderAccount, error) {
	if err := f.enter("FetchProviderAccount"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pa, ok := f.providerAccounts[id]
	if !ok {
		return nil, notFound("provider account", id)
	}
	return &pa, nil
}

func (f *fakeRemote) CreateProviderAccount(_ context.Context, req model.ProviderAccountCreate) (*model.ProviderAccount, error) {
	if err := f.enter("CreateProviderAccount"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	pa := model.ProviderAccount{ID: f.nextID, ProviderID: req.ProviderID, RefreshStatus: model.RefreshStatusAdding}
	f.providerAccounts[pa.ID] = pa
	return &pa, nil
}

func (f *fakeRemote) DeleteProviderAccount(_ context.Context, id int64) error {
	if err := f.enter("DeleteProviderAccount"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.providerAccounts, id)
	return nil
}

// --- AccountSource -----------------------------------------------------------

func (f *fakeRemote) FetchAccounts(_ context.Context) ([]model.Account, error) {
	if err := f.enter("FetchAccounts"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.accounts), nil
}

func (f *fakeRemote) FetchAccount(_ context.Context, id int64) (*model.Account, error) {
	if err := f.enter("FetchAccount"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, notFound("account", id)
	}
	return &a, nil
}

func (f *fakeRemote) UpdateAccount(_ context.Context, id int64, patch model.AccountPatch) (*model.Account, error) {
	if err := f.enter("UpdateAccount"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, notFound("account", id)
	}
	if patch.Nickname != nil {
		a.Nickname = patch.Nickname
	}
	if patch.Favourite != nil {
		a.Favourite = *patch.Favourite
	}
	if patch.Hidden != nil {
		a.Hidden = *patch.Hidden
	}
	if patch.Included != nil {
		a.Included = *patch.Included
	}
	f.accounts[id] = a
	return &a, nil
}

// --- TransactionSource -------------------------------------------------------

// FetchTransactions pages newest first. The cursor is the offset of the next
// page.
func (f *fakeRemote) FetchTransactions(_ context.Context, filter model.TransactionFilter) (model.Page[model.Transaction], error) {
	f.mu.Lock()
	f.txnFilters = append(f.txnFilters, filter)
	f.mu.Unlock()
	if err := f.enter("FetchTransactions"); err != nil {
		return model.Page[model.Transaction]{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []model.Transaction
	for _, t := range f.transactions {
		if len(filter.AccountIDs) > 0 && !slices.Contains(filter.AccountIDs, t.AccountID) {
			continue
		}
		if len(filter.TransactionIDs) > 0 && !slices.Contains(filter.TransactionIDs, t.ID) {
			continue
		}
		if filter.FromDate != "" && t.TransactionDate < filter.FromDate {
			continue
		}
		if filter.ToDate != "" && t.TransactionDate > filter.ToDate {
			continue
		}
		if filter.Status != model.TransactionStatusUnknown && t.Status != filter.Status {
			continue
		}
		matched = append(matched, t)
	}
	slices.SortFunc(matched, func(a, b model.Transaction) int {
		switch {
		case after(a, b):
			return -1
		case after(b, a):
			return 1
		}
		return 0
	})
	return pageOf(matched, filter.After, filter.Size), nil
}

func pageOf[T any](all []T, cursor string, size int) model.Page[T] {
	offset := 0
	if cursor != "" {
		offset, _ = strconv.Atoi(cursor)
	}
	if size <= 0 {
		size = len(all)
	}
	offset = min(offset, len(all))
	end := min(offset+size, len(all))
	page := model.Page[T]{Data: slices.Clone(all[offset:end])}
	page.Paging.Total = len(all)
	if end < len(all) {
		page.Paging.After = strconv.Itoa(end)
	}
	return page
}

func (f *fakeRemote) FetchTransaction(_ context.Context, id int64) (*model.Transaction, error) {
	if err := f.enter("FetchTransaction"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	return &t, nil
}

func (f *fakeRemote) UpdateTransaction(_ context.Context, id int64, patch model.TransactionPatch) (*model.Transaction, error) {
	if err := f.enter("UpdateTransaction"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	if patch.CategoryID != nil {
		t.CategoryID = *patch.CategoryID
	}
	if patch.UserDescription != nil {
		t.UserDescription = patch.UserDescription
	}
	if patch.Included != nil {
		t.Included = *patch.Included
	}
	if patch.Memo != nil {
		t.Memo = patch.Memo
	}
	f.transactions[id] = t
	return &t, nil
}

func (f *fakeRemote) AddTransactionTags(_ context.Context, id int64, tags []string) error {
	if err := f.enter("AddTransactionTags"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[id]
	if !ok {
		return notFound("transaction", id)
	}
	t.UserTags = t.UserTags.Union(tags)
	f.transactions[id] = t
	return nil
}

func (f *fakeRemote) RemoveTransactionTags(_ context.Context, id int64, tags []string) error {
	if err := f.enter("RemoveTransactionTags"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[id]
	if !ok {
		return notFound("transaction", id)
	}
	t.UserTags = t.UserTags.Without(tags)
	f.transactions[id] = t
	return nil
}

func (f *fakeRemote) FetchTransactionCategories(_ context.Context) ([]model.TransactionCategory, error) {
	if err := f.enter("FetchTransactionCategories"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.categories), nil
}

func (f *fakeRemote) FetchUserTags(_ context.Context) ([]model.Tag, error) {
	if err := f.enter("FetchUserTags"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tags), nil
}

// --- MerchantSource ----------------------------------------------------------

func (f *fakeRemote) FetchMerchants(_ context.Context, after string, size int) (model.Page[model.Merchant], error) {
	if err := f.enter("FetchMerchants"); err != nil {
		return model.Page[model.Merchant]{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageOf(sortedValues(f.merchants), after, size), nil
}

func (f *fakeRemote) FetchMerchant(_ context.Context, id int64) (*model.Merchant, error) {
	if err := f.enter("FetchMerchant"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.merchants[id]
	if !ok {
		return nil, notFound("merchant", id)
	}
	return &m, nil
}

func (f *fakeRemote) FetchMerchantsByIDs(_ context.Context, ids []int64) ([]model.Merchant, error) {
	f.mu.Lock()
	f.merchantBatches = append(f.merchantBatches, slices.Clone(ids))
	f.mu.Unlock()
	if err := f.enter("FetchMerchantsByIDs"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Merchant
	for _, id := range ids {
		if m, ok := f.merchants[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}
