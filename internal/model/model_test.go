package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func ptr[T any](v T) *T { return &v }

// ---------------------------------------------------------------------------
// Merge
// ---------------------------------------------------------------------------

func TestAccountMerge_PartialKeepsOmittedOptionals(t *testing.T) {
	local := Account{ID: 1, Name: "Everyday", Nickname: ptr("Daily"), CurrentBalance: ptr("10.00")}
	src := Account{ID: 1, Name: "Everyday Plus", CurrentBalance: ptr("12.50")}

	local.Merge(&src, Partial)

	if local.Name != "Everyday Plus" {
		t.Errorf("Name = %q, want %q", local.Name, "Everyday Plus")
	}
	if local.Nickname == nil || *local.Nickname != "Daily" {
		t.Errorf("Nickname = %v, want Daily kept", local.Nickname)
	}
	if *local.CurrentBalance != "12.50" {
		t.Errorf("CurrentBalance = %q, want 12.50", *local.CurrentBalance)
	}
}

func TestAccountMerge_FullClearsOmittedOptionals(t *testing.T) {
	local := Account{ID: 1, Nickname: ptr("Daily")}
	local.Merge(&Account{ID: 1}, Full)
	if local.Nickname != nil {
		t.Errorf("Nickname = %q, want nil after full merge", *local.Nickname)
	}
}

func TestTransactionMerge_UserTags(t *testing.T) {
	local := Transaction{ID: 1, UserTags: Tags{"a"}}
	local.Merge(&Transaction{ID: 1}, Partial)
	if !reflect.DeepEqual(local.UserTags, Tags{"a"}) {
		t.Errorf("partial merge without tags changed them: %v", local.UserTags)
	}

	src := Transaction{ID: 1, UserTags: Tags{"b"}}
	local.Merge(&src, Partial)
	src.UserTags[0] = "mutated"
	if !reflect.DeepEqual(local.UserTags, Tags{"b"}) {
		t.Errorf("UserTags = %v, want an independent copy of [b]", local.UserTags)
	}

	local.Merge(&Transaction{ID: 1}, Full)
	if local.UserTags != nil {
		t.Errorf("UserTags = %v, want nil after full merge", local.UserTags)
	}
}

// ---------------------------------------------------------------------------
// Payload
// ---------------------------------------------------------------------------

func TestPayloadMerge(t *testing.T) {
	tests := []struct {
		name string
		dst  string
		src  string
		v    Variant
		want map[string]any
	}{
		{"partial overlays keys", `{"a":1,"b":2}`, `{"b":3,"c":4}`, Partial,
			map[string]any{"a": 1.0, "b": 3.0, "c": 4.0}},
		{"full replaces", `{"a":1,"b":2}`, `{"c":4}`, Full,
			map[string]any{"c": 4.0}},
		{"empty source keeps", `{"a":1}`, ``, Partial,
			map[string]any{"a": 1.0}},
		{"empty destination takes source", ``, `{"a":1}`, Partial,
			map[string]any{"a": 1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Payload(tt.dst).Merge(Payload(tt.src), tt.v)
			var m map[string]any
			if err := json.Unmarshal(got, &m); err != nil {
				t.Fatalf("merged payload %q is not JSON: %v", got, err)
			}
			if !reflect.DeepEqual(m, tt.want) {
				t.Errorf("Merge = %v, want %v", m, tt.want)
			}
		})
	}
}

func TestPayload_ValueAndScan(t *testing.T) {
	v, err := Payload(nil).Value()
	if err != nil || v != "{}" {
		t.Errorf("empty Value = %v, %v; want {}", v, err)
	}

	var p Payload
	if err := p.Scan([]byte(`{"x":true}`)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if string(p) != `{"x":true}` {
		t.Errorf("Scan = %q", p)
	}
	if err := p.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

// ---------------------------------------------------------------------------
// Status variants
// ---------------------------------------------------------------------------

func TestTransactionStatus_TextRoundTrip(t *testing.T) {
	tests := []struct {
		raw  string
		want TransactionStatus
	}{
		{"pending", TransactionStatusPending},
		{"posted", TransactionStatusPosted},
		{"scheduled", TransactionStatusScheduled},
		{"cleared", TransactionStatusUnknown},
		{"", TransactionStatusUnknown},
	}
	for _, tt := range tests {
		var s TransactionStatus
		if err := s.UnmarshalText([]byte(tt.raw)); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", tt.raw, err)
		}
		if s != tt.want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", tt.raw, s, tt.want)
		}
	}
	if TransactionStatus(99).String() != "unknown" {
		t.Errorf("out-of-range String = %q, want unknown", TransactionStatus(99).String())
	}
}

func TestProviderStatus_JSON(t *testing.T) {
	var p Provider
	if err := json.Unmarshal([]byte(`{"id":3,"status":"beta"}`), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Status != ProviderStatusBeta {
		t.Errorf("Status = %v, want beta", p.Status)
	}

	var s ProviderStatus
	if err := s.Scan("disabled"); err != nil || s != ProviderStatusDisabled {
		t.Errorf("Scan(disabled) = %v, %v", s, err)
	}
	if err := s.Scan(1.5); err == nil {
		t.Error("Scan(float) should fail")
	}
}

// ---------------------------------------------------------------------------
// Tags
// ---------------------------------------------------------------------------

func TestTags_UnionWithout(t *testing.T) {
	base := Tags{"food", "work"}

	got := base.Union([]string{"work", "travel", "travel"})
	if want := (Tags{"food", "work", "travel"}); !reflect.DeepEqual(got, want) {
		t.Errorf("Union = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(base, Tags{"food", "work"}) {
		t.Errorf("Union mutated its receiver: %v", base)
	}

	got = base.Without([]string{"food", "absent"})
	if want := (Tags{"work"}); !reflect.DeepEqual(got, want) {
		t.Errorf("Without = %v, want %v", got, want)
	}
}

func TestTags_ValueAndScan(t *testing.T) {
	v, err := Tags(nil).Value()
	if err != nil || v != "[]" {
		t.Errorf("nil Value = %v, %v; want []", v, err)
	}

	var tags Tags
	if err := tags.Scan(`["a","b"]`); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !reflect.DeepEqual(tags, Tags{"a", "b"}) {
		t.Errorf("Scan = %v", tags)
	}
	if err := tags.Scan(`not json`); err == nil {
		t.Error("Scan(invalid) should fail")
	}
}

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

func TestEntityTypes_LockOrder(t *testing.T) {
	want := []EntityType{
		TypeProvider, TypeProviderAccount, TypeAccount, TypeMerchant,
		TypeTransactionCategory, TypeTransaction, TypeTag,
	}
	if got := EntityTypes(); !reflect.DeepEqual(got, want) {
		t.Errorf("EntityTypes = %v, want %v", got, want)
	}
}
