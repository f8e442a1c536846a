package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/njoerd114/finsync/internal/model"
)

const (
	pathProviders        = "/aggregation/providers"
	pathProviderAccounts = "/aggregation/provideraccounts"
	pathAccounts         = "/aggregation/accounts"
	pathTransactions     = "/aggregation/transactions"
	pathCategories       = "/aggregation/transactions/categories"
	pathUserTags         = "/aggregation/transactions/tags/user"
	pathMerchants        = "/aggregation/merchants"
)

func attachProvider(p *model.Provider, raw json.RawMessage) { p.Payload = model.Payload(raw) }
func attachProviderAccount(pa *model.ProviderAccount, raw json.RawMessage) {
	pa.Payload = model.Payload(raw)
}
func attachAccount(a *model.Account, raw json.RawMessage)         { a.Payload = model.Payload(raw) }
func attachTransaction(t *model.Transaction, raw json.RawMessage) { t.Payload = model.Payload(raw) }
func attachMerchant(m *model.Merchant, raw json.RawMessage)       { m.Payload = model.Payload(raw) }
func attachCategory(c *model.TransactionCategory, raw json.RawMessage) {
	c.Payload = model.Payload(raw)
}

func idPath(base string, id int64) string {
	return base + "/" + strconv.FormatInt(id, 10)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func paging(env *envelope) model.Paging {
	if env.Paging == nil {
		return model.Paging{}
	}
	return model.Paging{
		Before: env.Paging.Cursors.Before,
		After:  env.Paging.Cursors.After,
		Total:  env.Paging.Total,
	}
}

// --- providers ---------------------------------------------------------------

// FetchProviders returns the provider catalogue in summary form.
func (c *Client) FetchProviders(ctx context.Context) ([]model.Provider, error) {
	env, err := c.do(ctx, http.MethodGet, pathProviders, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList(env, attachProvider)
}

// FetchProvider returns the full details of one provider.
func (c *Client) FetchProvider(ctx context.Context, id int64) (*model.Provider, error) {
	env, err := c.do(ctx, http.MethodGet, idPath(pathProviders, id), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne(env, attachProvider)
}

// --- provider accounts -------------------------------------------------------

// FetchProviderAccounts returns every provider account of the user.
func (c *Client) FetchProviderAccounts(ctx context.Context) ([]model.ProviderAccount, error) {
	env, err := c.do(ctx, http.MethodGet, pathProviderAccounts, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList(env, attachProviderAccount)
}

// FetchProviderAccount returns one provider account.
func (c *Client) FetchProviderAccount(ctx context.Context, id int64) (*model.ProviderAccount, error) {
	env, err := c.do(ctx, http.MethodGet, idPath(pathProviderAccounts, id), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne(env, attachProviderAccount)
}

// CreateProviderAccount links a new provider login.
func (c *Client) CreateProviderAccount(ctx context.Context, req model.ProviderAccountCreate) (*model.ProviderAccount, error) {
	env, err := c.do(ctx, http.MethodPost, pathProviderAccounts, nil, req)
	if err != nil {
		return nil, err
	}
	return decodeOne(env, attachProviderAccount)
}

// DeleteProviderAccount unlinks a provider login.
func (c *Client) DeleteProviderAccount(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, idPath(pathProviderAccounts, id), nil, nil)
	return err
}

// --- accounts ----------------------------------------------------------------

// FetchAccounts returns every account of the user.
func (c *Client) FetchAccounts(ctx context.Context) ([]model.Account, error) {
	env, err := c.do(ctx, http.MethodGet, pathAccounts, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList(env, attachAccount)
}

// FetchAccount returns one account.
func (c *Client) FetchAccount(ctx context.Context, id int64) (*model.Account, error) {
	env, err := c.do(ctx, http.MethodGet, idPath(pathAccounts, id), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne(env, attachAccount)
}

// UpdateAccount applies patch and returns the updated account.
func (c *Client) UpdateAccount(ctx context.Context, id int64, patch model.AccountPatch) (*model.Account, error) {
	env, err := c.do(ctx, http.MethodPut, idPath(pathAccounts, id), nil, patch)
	if err != nil {
		return nil, err
	}
	return decodeOne(env, attachAccount)
}

// --- transactions ------------------------------------------------------------

func transactionQuery(f model.TransactionFilter) url.Values {
	q := url.Values{}
	if len(f.AccountIDs) > 0 {
		q.Set("account_ids", joinIDs(f.AccountIDs))
	}
	if len(f.TransactionIDs) > 0 {
		q.Set("transaction_ids", joinIDs(f.TransactionIDs))
	}
	if f.FromDate != "" {
		q.Set("from_date", f.FromDate)
	}
	if f.ToDate != "" {
		q.Set("to_date", f.ToDate)
	}
	if f.Status != model.TransactionStatusUnknown {
		q.Set("status", f.Status.String())
	}
	if f.Size > 0 {
		q.Set("size", strconv.Itoa(f.Size))
	}
	if f.Before != "" {
		q.Set("before", f.Before)
	}
	if f.After != "" {
		q.Set("after", f.After)
	}
	return q
}

// FetchTransactions returns one page of transactions matching f, newest
// first.
func (c *Client) FetchTransactions(ctx context.Context, f model.TransactionFilter) (model.Page[model.Transaction], error) {
	env, err := c.do(ctx, http.MethodGet, pathTransactions, transactionQuery(f), nil)
	if err != nil {
		return model.Page[model.Transaction]{}, err
	}
	data, err := decodeList(env, attachTransaction)
	if err != nil {
		return model.Page[model.Transaction]{}, err
	}
	return model.Page[model.Transaction]{Data: data, Paging: paging(env)}, nil
}

// FetchTransaction returns one transaction.
func (c *Client) FetchTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	env, err := c.do(ctx, http.MethodGet, idPath(pathTransactions, id), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne(env, attachTransaction)
}

// UpdateTransaction applies patch and returns the updated transaction.
func (c *Client) UpdateTransaction(ctx context.Context, id int64, patch model.TransactionPatch) (*model.Transaction, error) {
	env, err := c.do(ctx, http.MethodPut, idPath(pathTransactions, id), nil, patch)
	if err != nil {
		return nil, err
	}
	return decodeOne(env, attachTransaction)
}

type tagsBody struct {
	Tags []string `json:"tags"`
}

// AddTransactionTags adds tags to a transaction.
func (c *Client) AddTransactionTags(ctx context.Context, id int64, tags []string) error {
	_, err := c.do(ctx, http.MethodPost, idPath(pathTransactions, id)+"/tags", nil, tagsBody{Tags: tags})
	return err
}

// RemoveTransactionTags removes tags from a transaction.
func (c *Client) RemoveTransactionTags(ctx context.Context, id int64, tags []string) error {
	_, err := c.do(ctx, http.MethodDelete, idPath(pathTransactions, id)+"/tags", nil, tagsBody{Tags: tags})
	return err
}

// FetchTransactionCategories returns every transaction category.
func (c *Client) FetchTransactionCategories(ctx context.Context) ([]model.TransactionCategory, error) {
	env, err := c.do(ctx, http.MethodGet, pathCategories, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList(env, attachCategory)
}

// FetchUserTags returns the tags the user has created.
func (c *Client) FetchUserTags(ctx context.Context) ([]model.Tag, error) {
	env, err := c.do(ctx, http.MethodGet, pathUserTags, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList(env, noPayload[model.Tag])
}

// --- merchants ---------------------------------------------------------------

// FetchMerchants returns one page of merchants in ascending ID order.
func (c *Client) FetchMerchants(ctx context.Context, after string, size int) (model.Page[model.Merchant], error) {
	q := url.Values{}
	if after != "" {
		q.Set("after", after)
	}
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}
	env, err := c.do(ctx, http.MethodGet, pathMerchants, q, nil)
	if err != nil {
		return model.Page[model.Merchant]{}, err
	}
	data, err := decodeList(env, attachMerchant)
	if err != nil {
		return model.Page[model.Merchant]{}, err
	}
	return model.Page[model.Merchant]{Data: data, Paging: paging(env)}, nil
}

// FetchMerchant returns one merchant.
func (c *Client) FetchMerchant(ctx context.Context, id int64) (*model.Merchant, error) {
	env, err := c.do(ctx, http.MethodGet, idPath(pathMerchants, id), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeOne(env, attachMerchant)
}

// FetchMerchantsByIDs returns the merchants with the given IDs. IDs the API
// does not know are absent from the result.
func (c *Client) FetchMerchantsByIDs(ctx context.Context, ids []int64) ([]model.Merchant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{"merchant_ids": {joinIDs(ids)}, "size": {strconv.Itoa(len(ids))}}
	env, err := c.do(ctx, http.MethodGet, pathMerchants, q, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching %d merchants: %w", len(ids), err)
	}
	return decodeList(env, attachMerchant)
}
