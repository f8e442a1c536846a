package store

import (
	"fmt"
	"strings"

	"github.com/njoerd114/finsync/internal/model"
)

// Link pairs a foreign-key column holding a remote parent ID with the
// reference column the linker fills once that parent exists locally.
type Link struct {
	Column string
	Ref    string
}

// Table maps one entity type onto its SQL table.
type Table[T any] struct {
	Name string
	Key  string
	// Columns lists every column written on upsert, key included. Reference
	// columns are excluded; only ResolveLinks writes them.
	Columns []string
	Links   []Link

	upsert string
}

func newTable[T any](name, key string, links []Link, columns ...string) Table[T] {
	t := Table[T]{Name: name, Key: key, Columns: columns, Links: links}
	t.upsert = t.buildUpsert()
	return t
}

// buildUpsert renders the named INSERT ... ON CONFLICT statement. A reference
// survives an update only while its foreign key is unchanged.
func (t Table[T]) buildUpsert() string {
	named := make([]string, len(t.Columns))
	var set []string
	for i, c := range t.Columns {
		named[i] = ":" + c
		if c != t.Key {
			set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	for _, l := range t.Links {
		set = append(set, fmt.Sprintf("%[1]s = CASE WHEN %[2]s.%[3]s = excluded.%[3]s THEN %[2]s.%[1]s ELSE NULL END",
			l.Ref, t.Name, l.Column))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s)",
		t.Name, strings.Join(t.Columns, ", "), strings.Join(named, ", "), t.Key)
	if len(set) == 0 {
		return q + " DO NOTHING"
	}
	return q + " DO UPDATE SET " + strings.Join(set, ", ")
}

// Link returns the link declared on column, or false.
func (t Table[T]) Link(column string) (Link, bool) {
	for _, l := range t.Links {
		if l.Column == column {
			return l, true
		}
	}
	return Link{}, false
}

var (
	Providers = newTable[model.Provider]("providers", "id", nil,
		"id", "name", "status", "popular", "small_logo_url", "large_logo_url",
		"base_url", "auth_type", "payload")

	ProviderAccounts = newTable[model.ProviderAccount]("provider_accounts", "id",
		[]Link{{Column: "provider_id", Ref: "provider_ref"}},
		"id", "provider_id", "refresh_status", "refresh_sub_status", "last_refreshed",
		"next_refresh", "editable", "payload")

	Accounts = newTable[model.Account]("accounts", "id",
		[]Link{{Column: "provider_account_id", Ref: "provider_account_ref"}},
		"id", "provider_account_id", "name", "nickname", "status", "account_type",
		"currency", "current_balance", "available_balance", "favourite", "hidden",
		"included", "payload")

	Merchants = newTable[model.Merchant]("merchants", "id", nil,
		"id", "name", "merchant_type", "small_logo_url", "website", "payload")

	TransactionCategories = newTable[model.TransactionCategory]("transaction_categories", "id", nil,
		"id", "name", "category_type", "placement", "icon_url", "user_defined", "payload")

	Transactions = newTable[model.Transaction]("transactions", "id",
		[]Link{
			{Column: "account_id", Ref: "account_ref"},
			{Column: "merchant_id", Ref: "merchant_ref"},
			{Column: "category_id", Ref: "category_ref"},
		},
		"id", "account_id", "merchant_id", "category_id", "amount", "currency",
		"description", "user_description", "status", "transaction_date", "post_date",
		"included", "memo", "user_tags", "payload")

	Tags = newTable[model.Tag]("tags", "name", nil,
		"name", "count", "created_at", "last_used_at")
)
