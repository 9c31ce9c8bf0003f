package enums

import "fmt"

// LedgerAction is the stock transition recorded by a ledger entry.
type LedgerAction string

const (
	LedgerActionCreate  LedgerAction = "CREATE"
	LedgerActionSell    LedgerAction = "SELL"
	LedgerActionDestroy LedgerAction = "DESTROY"
	LedgerActionRefund  LedgerAction = "REFUND"
	LedgerActionAdjust  LedgerAction = "ADJUST"
)

var validLedgerActions = []LedgerAction{
	LedgerActionCreate,
	LedgerActionSell,
	LedgerActionDestroy,
	LedgerActionRefund,
	LedgerActionAdjust,
}

// IsValid reports whether the value matches the canonical ledger action enum.
func (a LedgerAction) IsValid() bool {
	for _, candidate := range validLedgerActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseLedgerAction converts raw input into LedgerAction.
func ParseLedgerAction(value string) (LedgerAction, error) {
	for _, candidate := range validLedgerActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger action %q", value)
}
