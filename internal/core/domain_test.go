package core

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTransactionTypeIsValid(t *testing.T) {
	cases := []struct {
		t  TransactionType
		ok bool
	}{
		{Transfer, true},
		{Received, true},
		{"TRANSFER", false},
		{"", false},
	}
	for i, tc := range cases {
		if got := tc.t.IsValid(); got != tc.ok {
			t.Fatalf("case %d: IsValid(%q) = %v, want %v", i, tc.t, got, tc.ok)
		}
	}
}

func TestHasNationalPhoneNumber(t *testing.T) {
	cases := map[string]bool{
		"01012345678":   true,
		"0101234567":    false,
		"+201012345678": false,
		"02012345678":   false,
	}
	for phone, want := range cases {
		if got := (Transaction{PhoneNumber: phone}).HasNationalPhoneNumber(); got != want {
			t.Fatalf("%s: got %v, want %v", phone, got, want)
		}
	}
}

func TestLimitsValidate(t *testing.T) {
	if err := DefaultLimits().Validate(); err != nil {
		t.Fatalf("defaults should be valid, got %v", err)
	}

	d := decimal.NewFromInt
	cases := []struct {
		name string
		l    Limits
		want string
	}{
		{"negative", Limits{d(-1), d(10), d(1), d(10)}, "dailyTransferLimit must be a non-negative number"},
		{"too high", Limits{d(1), d(10_000_001), d(1), d(10)}, "monthlyTransferLimit seems unreasonably high"},
		{"transfer order", Limits{d(11), d(10), d(1), d(10)}, "Daily transfer limit cannot exceed monthly transfer limit"},
		{"receive order", Limits{d(1), d(10), d(11), d(10)}, "Daily receive limit cannot exceed monthly receive limit"},
		{"zero ok", Limits{d(0), d(0), d(0), d(0)}, ""},
		{"max ok", Limits{d(10_000_000), d(10_000_000), d(0), d(0)}, ""},
	}
	for _, tc := range cases {
		err := tc.l.Validate()
		if tc.want == "" {
			if err != nil {
				t.Fatalf("%s: expected ok, got %v", tc.name, err)
			}
			continue
		}
		if err == nil || err.Error() != tc.want {
			t.Fatalf("%s: got %v, want %q", tc.name, err, tc.want)
		}
	}
}

func TestTransactionJSONUsesBareNumbers(t *testing.T) {
	fees := decimal.RequireFromString("1.5")
	tx := Transaction{
		ID:          "a",
		Type:        Transfer,
		Amount:      decimal.RequireFromString("100.25"),
		ServiceFees: &fees,
	}
	b, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["amount"].(float64); !ok {
		t.Fatalf("amount should be a JSON number, got %T", m["amount"])
	}
	if _, ok := m["senderName"]; ok {
		t.Fatalf("empty senderName should be omitted")
	}
}
