package sync

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/njoerd114/finsync/internal/events"
	"github.com/njoerd114/finsync/internal/model"
	"github.com/njoerd114/finsync/internal/store"
)

// providerListScope is the subset of providers the collection endpoint
// returns. Disabled and unsupported providers stay until refreshed by ID.
func providerListScope() store.Predicate {
	return store.In("status", model.ProviderStatusSupported, model.ProviderStatusBeta)
}

// RefreshProviders reconciles the provider catalogue. The list endpoint
// returns summaries, so fields it omits keep their stored values.
func (r *Refresher) RefreshProviders(ctx context.Context) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_providers")
	defer end(&err)

	providers, err := r.remote.FetchProviders(ctx)
	if err != nil {
		return fmt.Errorf("fetching providers: %w", err)
	}
	_, err = runCycle(ctx, r, r.schemas.providers, providers, providerListScope(), model.Partial, events.OpRefresh)
	return err
}

// RefreshProvider reconciles the full details of one provider.
func (r *Refresher) RefreshProvider(ctx context.Context, id int64) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_provider", attribute.Int64("sync.id", id))
	defer end(&err)

	p, err := r.remote.FetchProvider(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching provider %d: %w", id, err)
	}
	_, err = runCycle(ctx, r, r.schemas.providers, []model.Provider{*p}, store.Eq("id", p.ID), model.Full, events.OpRefresh)
	return err
}

// RefreshProviderAccounts reconciles every provider account of the user.
func (r *Refresher) RefreshProviderAccounts(ctx context.Context) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_provider_accounts")
	defer end(&err)

	pas, err := r.remote.FetchProviderAccounts(ctx)
	if err != nil {
		return fmt.Errorf("fetching provider accounts: %w", err)
	}
	_, err = runCycle(ctx, r, r.schemas.providerAccounts, pas, store.All(), model.Full, events.OpRefresh)
	return err
}

// RefreshProviderAccount reconciles one provider account.
func (r *Refresher) RefreshProviderAccount(ctx context.Context, id int64) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_provider_account", attribute.Int64("sync.id", id))
	defer end(&err)

	pa, err := r.remote.FetchProviderAccount(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching provider account %d: %w", id, err)
	}
	_, err = runCycle(ctx, r, r.schemas.providerAccounts, []model.ProviderAccount{*pa}, store.Eq("id", pa.ID), model.Full, events.OpRefresh)
	return err
}

// CreateProviderAccount links a new provider login remotely and stores the
// result. A local save failure is logged; the created account is returned
// regardless since it exists remotely.
func (r *Refresher) CreateProviderAccount(ctx context.Context, req model.ProviderAccountCreate) (_ *model.ProviderAccount, err error) {
	ctx, end := r.startSpan(ctx, "sync.create_provider_account", attribute.Int64("sync.provider_id", req.ProviderID))
	defer end(&err)

	pa, err := r.remote.CreateProviderAccount(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating provider account: %w", err)
	}
	_, _ = runCycle(ctx, r, r.schemas.providerAccounts, []model.ProviderAccount{*pa}, store.Eq("id", pa.ID), model.Full, events.OpMutate)
	return pa, nil
}

// DeleteProviderAccount removes a provider account remotely and locally.
// Accounts under it keep their foreign key and lose their reference.
func (r *Refresher) DeleteProviderAccount(ctx context.Context, id int64) (err error) {
	ctx, end := r.startSpan(ctx, "sync.delete_provider_account", attribute.Int64("sync.id", id))
	defer end(&err)

	if _, err := mustExist(ctx, r.store, store.ProviderAccounts, id); err != nil {
		return fmt.Errorf("provider account %d: %w", id, err)
	}
	if err := r.remote.DeleteProviderAccount(ctx, id); err != nil {
		return fmt.Errorf("deleting provider account %d: %w", id, err)
	}
	// Reconciling nothing against the row's own key deletes it.
	_, _ = runCycle(ctx, r, r.schemas.providerAccounts, nil, store.Eq("id", id), model.Full, events.OpMutate)
	return nil
}

// RefreshAccounts reconciles every account of the user.
func (r *Refresher) RefreshAccounts(ctx context.Context) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_accounts")
	defer end(&err)

	accounts, err := r.remote.FetchAccounts(ctx)
	if err != nil {
		return fmt.Errorf("fetching accounts: %w", err)
	}
	_, err = runCycle(ctx, r, r.schemas.accounts, accounts, store.All(), model.Full, events.OpRefresh)
	return err
}

// RefreshAccount reconciles one account.
func (r *Refresher) RefreshAccount(ctx context.Context, id int64) (err error) {
	ctx, end := r.startSpan(ctx, "sync.refresh_account", attribute.Int64("sync.id", id))
	defer end(&err)

	a, err := r.remote.FetchAccount(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching account %d: %w", id, err)
	}
	_, err = runCycle(ctx, r, r.schemas.accounts, []model.Account{*a}, store.Eq("id", a.ID), model.Full, events.OpRefresh)
	return err
}

// UpdateAccount applies patch to a locally stored account remotely, then
// stores the updated account the API returns.
func (r *Refresher) UpdateAccount(ctx context.Context, id int64, patch model.AccountPatch) (err error) {
	ctx, end := r.startSpan(ctx, "sync.update_account", attribute.Int64("sync.id", id))
	defer end(&err)

	if _, err := mustExist(ctx, r.store, store.Accounts, id); err != nil {
		return fmt.Errorf("account %d: %w", id, err)
	}
	a, err := r.remote.UpdateAccount(ctx, id, patch)
	if err != nil {
		return fmt.Errorf("updating account %d: %w", id, err)
	}
	_, _ = runCycle(ctx, r, r.schemas.accounts, []model.Account{*a}, store.Eq("id", a.ID), model.Full, events.OpMutate)
	return nil
}
