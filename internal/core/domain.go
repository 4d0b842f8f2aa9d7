package core

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Transfer TransactionType = "transfer"
	Received TransactionType = "received"
)

// MaxLimitValue is the upper bound accepted for any single limit.
var MaxLimitValue = decimal.NewFromInt(10_000_000)

// nationalPhonePattern matches Egyptian mobile numbers.
var nationalPhonePattern = regexp.MustCompile(`^01[0-9]{9}$`)

func init() {
	// Amounts travel as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

type (
	TransactionType string

	Transaction struct {
		ID                string           `json:"id"`
		Type              TransactionType  `json:"type"`
		Amount            decimal.Decimal  `json:"amount"`
		PhoneNumber       string           `json:"phoneNumber"`
		Date              time.Time        `json:"date"`
		BalanceBefore     decimal.Decimal  `json:"balanceBefore"`
		BalanceAfter      decimal.Decimal  `json:"balanceAfter"`
		SenderName        string           `json:"senderName,omitempty"`
		TransactionNumber string           `json:"transactionNumber,omitempty"`
		ServiceFees       *decimal.Decimal `json:"serviceFees,omitempty"`
	}

	Limits struct {
		DailyTransferLimit   decimal.Decimal `json:"dailyTransferLimit"`
		MonthlyTransferLimit decimal.Decimal `json:"monthlyTransferLimit"`
		DailyReceiveLimit    decimal.Decimal `json:"dailyReceiveLimit"`
		MonthlyReceiveLimit  decimal.Decimal `json:"monthlyReceiveLimit"`
	}
)

// IsValid reports whether t is one of the known transaction types.
func (t TransactionType) IsValid() bool {
	switch t {
	case Transfer, Received:
		return true
	default:
		return false
	}
}

// HasNationalPhoneNumber reports whether the phone number matches the
// national mobile pattern. A mismatch is informational only.
func (t Transaction) HasNationalPhoneNumber() bool {
	return nationalPhonePattern.MatchString(t.PhoneNumber)
}

// DefaultLimits returns the limits in effect before any update.
func DefaultLimits() Limits {
	return Limits{
		DailyTransferLimit:   decimal.NewFromInt(5000),
		MonthlyTransferLimit: decimal.NewFromInt(50000),
		DailyReceiveLimit:    decimal.NewFromInt(10000),
		MonthlyReceiveLimit:  decimal.NewFromInt(100000),
	}
}

// Validate checks the range and ordering rules on an already typed record.
func (l Limits) Validate() error {
	for _, f := range l.fields() {
		if f.value.IsNegative() {
			return NewValidationError(f.name + " must be a non-negative number")
		}
		if f.value.GreaterThan(MaxLimitValue) {
			return NewValidationError(f.name + " seems unreasonably high")
		}
	}
	if l.DailyTransferLimit.GreaterThan(l.MonthlyTransferLimit) {
		return NewValidationError("Daily transfer limit cannot exceed monthly transfer limit")
	}
	if l.DailyReceiveLimit.GreaterThan(l.MonthlyReceiveLimit) {
		return NewValidationError("Daily receive limit cannot exceed monthly receive limit")
	}
	return nil
}

type limitField struct {
	name  string
	value decimal.Decimal
}

func (l Limits) fields() []limitField {
	return []limitField{
		{"dailyTransferLimit", l.DailyTransferLimit},
		{"monthlyTransferLimit", l.MonthlyTransferLimit},
		{"dailyReceiveLimit", l.DailyReceiveLimit},
		{"monthlyReceiveLimit", l.MonthlyReceiveLimit},
	}
}
