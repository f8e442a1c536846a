package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
)

// DateLayout is the day-resolution format used for transaction dates on the
// wire and in storage. Lexical order equals chronological order.
const DateLayout = "2006-01-02"

// Transaction is a single account movement. It references its account,
// merchant and category by ID; the matching *Ref columns are set once the
// parent is present locally.
type Transaction struct {
	ID              int64             `db:"id" json:"id"`
	AccountID       int64             `db:"account_id" json:"account_id"`
	AccountRef      *int64            `db:"account_ref" json:"-"`
	MerchantID      int64             `db:"merchant_id" json:"merchant_id"`
	MerchantRef     *int64            `db:"merchant_ref" json:"-"`
	CategoryID      int64             `db:"category_id" json:"category_id"`
	CategoryRef     *int64            `db:"category_ref" json:"-"`
	Amount          string            `db:"amount" json:"amount"`
	Currency        string            `db:"currency" json:"currency"`
	Description     string            `db:"description" json:"description"`
	UserDescription *string           `db:"user_description" json:"user_description,omitempty"`
	Status          TransactionStatus `db:"status" json:"status"`
	TransactionDate string            `db:"transaction_date" json:"transaction_date"`
	PostDate        *string           `db:"post_date" json:"post_date,omitempty"`
	Included        bool              `db:"included" json:"included"`
	Memo            *string           `db:"memo" json:"memo,omitempty"`
	UserTags        Tags              `db:"user_tags" json:"user_tags"`
	Payload         Payload           `db:"payload" json:"-"`
}

// Merge copies a transaction response onto t.
func (t *Transaction) Merge(src *Transaction, v Variant) {
	t.ID = src.ID
	t.AccountID = src.AccountID
	t.MerchantID = src.MerchantID
	t.CategoryID = src.CategoryID
	t.Amount = src.Amount
	t.Currency = src.Currency
	t.Description = src.Description
	mergeOpt(&t.UserDescription, src.UserDescription, v)
	t.Status = src.Status
	t.TransactionDate = src.TransactionDate
	mergeOpt(&t.PostDate, src.PostDate, v)
	t.Included = src.Included
	mergeOpt(&t.Memo, src.Memo, v)
	if src.UserTags != nil || v == Full {
		t.UserTags = slices.Clone(src.UserTags)
	}
	t.Payload = t.Payload.Merge(src.Payload, v)
}

// TransactionPatch holds the user-editable transaction fields.
type TransactionPatch struct {
	CategoryID      *int64  `json:"category_id,omitempty"`
	UserDescription *string `json:"user_description,omitempty"`
	Included        *bool   `json:"included,omitempty"`
	Memo            *string `json:"memo,omitempty"`
}

// Merchant is the counterparty of a transaction.
type Merchant struct {
	ID           int64   `db:"id" json:"id"`
	Name         string  `db:"name" json:"name"`
	MerchantType *string `db:"merchant_type" json:"merchant_type,omitempty"`
	SmallLogoURL *string `db:"small_logo_url" json:"small_logo_url,omitempty"`
	Website      *string `db:"website" json:"website,omitempty"`
	Payload      Payload `db:"payload" json:"-"`
}

// Merge copies a merchant response onto m.
func (m *Merchant) Merge(src *Merchant, v Variant) {
	m.ID = src.ID
	m.Name = src.Name
	mergeOpt(&m.MerchantType, src.MerchantType, v)
	mergeOpt(&m.SmallLogoURL, src.SmallLogoURL, v)
	mergeOpt(&m.Website, src.Website, v)
	m.Payload = m.Payload.Merge(src.Payload, v)
}

// TransactionCategory classifies transactions for budgeting.
type TransactionCategory struct {
	ID           int64   `db:"id" json:"id"`
	Name         string  `db:"name" json:"name"`
	CategoryType string  `db:"category_type" json:"category_type"`
	Placement    int     `db:"placement" json:"placement"`
	IconURL      *string `db:"icon_url" json:"icon_url,omitempty"`
	UserDefined  bool    `db:"user_defined" json:"user_defined"`
	Payload      Payload `db:"payload" json:"-"`
}

// Merge copies a category response onto c.
func (c *TransactionCategory) Merge(src *TransactionCategory, v Variant) {
	c.ID = src.ID
	c.Name = src.Name
	c.CategoryType = src.CategoryType
	c.Placement = src.Placement
	mergeOpt(&c.IconURL, src.IconURL, v)
	c.UserDefined = src.UserDefined
	c.Payload = c.Payload.Merge(src.Payload, v)
}

// Tag is a user-defined transaction label. Its name is its key.
type Tag struct {
	Name       string  `db:"name" json:"name"`
	Count      int64   `db:"count" json:"count"`
	CreatedAt  *string `db:"created_at" json:"created_at,omitempty"`
	LastUsedAt *string `db:"last_used_at" json:"last_used_at,omitempty"`
}

// Merge copies a tag response onto t.
func (t *Tag) Merge(src *Tag, v Variant) {
	t.Name = src.Name
	t.Count = src.Count
	mergeOpt(&t.CreatedAt, src.CreatedAt, v)
	mergeOpt(&t.LastUsedAt, src.LastUsedAt, v)
}

// Tags is an ordered set of tag names.
type Tags []string

// Union returns t followed by every name in add that t lacks.
func (t Tags) Union(add []string) Tags {
	out := slices.Clone(t)
	for _, name := range add {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// Without returns t minus every name in remove, preserving order.
func (t Tags) Without(remove []string) Tags {
	out := make(Tags, 0, len(t))
	for _, name := range t {
		if !slices.Contains(remove, name) {
			out = append(out, name)
		}
	}
	return out
}

// Value implements driver.Valuer; tags are stored as a JSON array.
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *Tags) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("tags: unsupported type %T", src)
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	*t = names
	return nil
}
