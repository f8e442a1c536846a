package model

// Provider is an institution data can be aggregated from.
type Provider struct {
	ID           int64          `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	Status       ProviderStatus `db:"status" json:"status"`
	Popular      bool           `db:"popular" json:"popular"`
	SmallLogoURL *string        `db:"small_logo_url" json:"small_logo_url,omitempty"`
	LargeLogoURL *string        `db:"large_logo_url" json:"large_logo_url,omitempty"`
	BaseURL      *string        `db:"base_url" json:"base_url,omitempty"`
	AuthType     *string        `db:"auth_type" json:"auth_type,omitempty"`
	Payload      Payload        `db:"payload" json:"-"`
}

// Merge copies a provider response onto p.
func (p *Provider) Merge(src *Provider, v Variant) {
	p.ID = src.ID
	p.Name = src.Name
	p.Status = src.Status
	p.Popular = src.Popular
	mergeOpt(&p.SmallLogoURL, src.SmallLogoURL, v)
	mergeOpt(&p.LargeLogoURL, src.LargeLogoURL, v)
	mergeOpt(&p.BaseURL, src.BaseURL, v)
	mergeOpt(&p.AuthType, src.AuthType, v)
	p.Payload = p.Payload.Merge(src.Payload, v)
}

// ProviderAccount is the user's login at a provider. It owns accounts.
type ProviderAccount struct {
	ID               int64         `db:"id" json:"id"`
	ProviderID       int64         `db:"provider_id" json:"provider_id"`
	ProviderRef      *int64        `db:"provider_ref" json:"-"`
	RefreshStatus    RefreshStatus `db:"refresh_status" json:"refresh_status"`
	RefreshSubStatus *string       `db:"refresh_sub_status" json:"refresh_sub_status,omitempty"`
	LastRefreshed    *string       `db:"last_refreshed" json:"last_refreshed,omitempty"`
	NextRefresh      *string       `db:"next_refresh" json:"next_refresh,omitempty"`
	Editable         bool          `db:"editable" json:"editable"`
	Payload          Payload       `db:"payload" json:"-"`
}

// Merge copies a provider account response onto pa.
func (pa *ProviderAccount) Merge(src *ProviderAccount, v Variant) {
	pa.ID = src.ID
	pa.ProviderID = src.ProviderID
	pa.RefreshStatus = src.RefreshStatus
	mergeOpt(&pa.RefreshSubStatus, src.RefreshSubStatus, v)
	mergeOpt(&pa.LastRefreshed, src.LastRefreshed, v)
	mergeOpt(&pa.NextRefresh, src.NextRefresh, v)
	pa.Editable = src.Editable
	pa.Payload = pa.Payload.Merge(src.Payload, v)
}

// ProviderAccountCreate is the body sent to link a new provider login.
type ProviderAccountCreate struct {
	ProviderID int64             `json:"provider_id"`
	LoginForm  map[string]string `json:"login_form"`
}

// Account is a single financial account under a provider account.
type Account struct {
	ID                 int64         `db:"id" json:"id"`
	ProviderAccountID  int64         `db:"provider_account_id" json:"provider_account_id"`
	ProviderAccountRef *int64        `db:"provider_account_ref" json:"-"`
	Name               string        `db:"name" json:"account_name"`
	Nickname           *string       `db:"nickname" json:"nick_name,omitempty"`
	Status             AccountStatus `db:"status" json:"account_status"`
	AccountType        string        `db:"account_type" json:"account_type"`
	Currency           string        `db:"currency" json:"currency"`
	CurrentBalance     *string       `db:"current_balance" json:"current_balance,omitempty"`
	AvailableBalance   *string       `db:"available_balance" json:"available_balance,omitempty"`
	Favourite          bool          `db:"favourite" json:"favourite"`
	Hidden             bool          `db:"hidden" json:"hidden"`
	Included           bool          `db:"included" json:"included"`
	Payload            Payload       `db:"payload" json:"-"`
}

// Merge copies an account response onto a.
func (a *Account) Merge(src *Account, v Variant) {
	a.ID = src.ID
	a.ProviderAccountID = src.ProviderAccountID
	a.Name = src.Name
	mergeOpt(&a.Nickname, src.Nickname, v)
	a.Status = src.Status
	a.AccountType = src.AccountType
	a.Currency = src.Currency
	mergeOpt(&a.CurrentBalance, src.CurrentBalance, v)
	mergeOpt(&a.AvailableBalance, src.AvailableBalance, v)
	a.Favourite = src.Favourite
	a.Hidden = src.Hidden
	a.Included = src.Included
	a.Payload = a.Payload.Merge(src.Payload, v)
}

// AccountPatch holds the user-editable account fields.
type AccountPatch struct {
	Nickname  *string `json:"nick_name,omitempty"`
	Favourite *bool   `json:"favourite,omitempty"`
	Hidden    *bool   `json:"hidden,omitempty"`
	Included  *bool   `json:"included,omitempty"`
}
