package model

import (
	"database/sql/driver"
	"fmt"
)

// The status enums below are tagged variants. Their raw strings appear only
// at the wire (MarshalText/UnmarshalText) and storage (Value/Scan) boundary.

// ProviderStatus is the support level of a provider.
type ProviderStatus int

const (
	ProviderStatusUnknown ProviderStatus = iota
	ProviderStatusSupported
	ProviderStatusBeta
	ProviderStatusDisabled
	ProviderStatusUnsupported
)

var providerStatusNames = []string{"unknown", "supported", "beta", "disabled", "unsupported"}

func (s ProviderStatus) String() string               { return enumName(providerStatusNames, int(s)) }
func (s ProviderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s *ProviderStatus) UnmarshalText(b []byte) error {
	*s = ProviderStatus(enumIndex(providerStatusNames, string(b)))
	return nil
}
func (s ProviderStatus) Value() (driver.Value, error) { return s.String(), nil }
func (s *ProviderStatus) Scan(src any) error {
	raw, err := scanString(src)
	*s = ProviderStatus(enumIndex(providerStatusNames, raw))
	return err
}

// RefreshStatus is the aggregation state of a provider account.
type RefreshStatus int

const (
	RefreshStatusUnknown RefreshStatus = iota
	RefreshStatusSuccess
	RefreshStatusAdding
	RefreshStatusUpdating
	RefreshStatusNeedsAction
	RefreshStatusFailed
)

var refreshStatusNames = []string{"unknown", "success", "adding", "updating", "needs_action", "failed"}

func (s RefreshStatus) String() string               { return enumName(refreshStatusNames, int(s)) }
func (s RefreshStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s *RefreshStatus) UnmarshalText(b []byte) error {
	*s = RefreshStatus(enumIndex(refreshStatusNames, string(b)))
	return nil
}
func (s RefreshStatus) Value() (driver.Value, error) { return s.String(), nil }
func (s *RefreshStatus) Scan(src any) error {
	raw, err := scanString(src)
	*s = RefreshStatus(enumIndex(refreshStatusNames, raw))
	return err
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus int

const (
	AccountStatusUnknown AccountStatus = iota
	AccountStatusActive
	AccountStatusInactive
	AccountStatusClosed
)

var accountStatusNames = []string{"unknown", "active", "inactive", "closed"}

func (s AccountStatus) String() string               { return enumName(accountStatusNames, int(s)) }
func (s AccountStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s *AccountStatus) UnmarshalText(b []byte) error {
	*s = AccountStatus(enumIndex(accountStatusNames, string(b)))
	return nil
}
func (s AccountStatus) Value() (driver.Value, error) { return s.String(), nil }
func (s *AccountStatus) Scan(src any) error {
	raw, err := scanString(src)
	*s = AccountStatus(enumIndex(accountStatusNames, raw))
	return err
}

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus int

const (
	TransactionStatusUnknown TransactionStatus = iota
	TransactionStatusPending
	TransactionStatusPosted
	TransactionStatusScheduled
)

var transactionStatusNames = []string{"unknown", "pending", "posted", "scheduled"}

func (s TransactionStatus) String() string               { return enumName(transactionStatusNames, int(s)) }
func (s TransactionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s *TransactionStatus) UnmarshalText(b []byte) error {
	*s = TransactionStatus(enumIndex(transactionStatusNames, string(b)))
	return nil
}
func (s TransactionStatus) Value() (driver.Value, error) { return s.String(), nil }
func (s *TransactionStatus) Scan(src any) error {
	raw, err := scanString(src)
	*s = TransactionStatus(enumIndex(transactionStatusNames, raw))
	return err
}

// --- helpers -----------------------------------------------------------------

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return names[0]
	}
	return names[i]
}

// enumIndex maps a raw string to its variant. Unrecognised values decode to
// the zero (unknown) variant so a new server-side status never fails a sync.
func enumIndex(names []string, raw string) int {
	for i, n := range names {
		if n == raw {
			return i
		}
	}
	return 0
}

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("status: unsupported type %T", src)
	}
}
