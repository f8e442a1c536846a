// Package model defines the entity types shared by the remote client, the
// local store and the sync engine, together with the merge rules that copy a
// response onto a local row.
package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// EntityType identifies a reconcilable record type. The numeric value is the
// global lock ordinal: a parent type always sorts before its children.
type EntityType int

const (
	TypeProvider EntityType = iota
	TypeProviderAccount
	TypeAccount
	TypeMerchant
	TypeTransactionCategory
	TypeTransaction
	TypeTag

	numEntityTypes
)

var entityTypeNames = [...]string{
	TypeProvider:            "provider",
	TypeProviderAccount:     "provider_account",
	TypeAccount:             "account",
	TypeMerchant:            "merchant",
	TypeTransactionCategory: "transaction_category",
	TypeTransaction:         "transaction",
	TypeTag:                 "tag",
}

// String returns the snake_case name of the type.
func (t EntityType) String() string {
	if t < 0 || t >= numEntityTypes {
		return fmt.Sprintf("entity(%d)", int(t))
	}
	return entityTypeNames[t]
}

// EntityTypes returns every entity type in lock order.
func EntityTypes() []EntityType {
	types := make([]EntityType, 0, numEntityTypes)
	for t := TypeProvider; t < numEntityTypes; t++ {
		types = append(types, t)
	}
	return types
}

// Variant says how much of an entity a response carries.
type Variant int

const (
	// Full responses (detail endpoints) are authoritative for every field.
	Full Variant = iota
	// Partial responses (list/summary endpoints) omit optional fields; a
	// missing field must not clobber what a previous full response stored.
	Partial
)

// Payload is the verbatim JSON object received for an entity. Fields the
// model does not name still round-trip through it.
type Payload []byte

// Merge returns p with the top-level keys of src laid over it. With a Full
// variant src replaces p outright.
func (p Payload) Merge(src Payload, v Variant) Payload {
	if len(src) == 0 {
		return p
	}
	if v == Full || len(p) == 0 {
		return bytes.Clone(src)
	}
	var dst, add map[string]json.RawMessage
	if err := json.Unmarshal(p, &dst); err != nil {
		return bytes.Clone(src)
	}
	if err := json.Unmarshal(src, &add); err != nil {
		return p
	}
	for k, raw := range add {
		dst[k] = raw
	}
	out, err := json.Marshal(dst)
	if err != nil {
		return p
	}
	return out
}

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	return string(p), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = bytes.Clone(v)
	case string:
		*p = Payload(v)
	default:
		return fmt.Errorf("payload: unsupported type %T", src)
	}
	return nil
}

// mergeOpt copies src into dst when the response carried it. Full responses
// are authoritative, so an absent optional clears the local value.
func mergeOpt[T any](dst **T, src *T, v Variant) {
	if src != nil || v == Full {
		*dst = src
	}
}
