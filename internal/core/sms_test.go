package core

import (
	"encoding/json"
	"testing"
	"time"
)

const (
	transferSMS = "EGP 150.00 has been transferred to number 01012345678. Service fees are 1.50 EGP. " +
		"Your current Vodafone Cash account balance is 848.50"
	receivedSMS = "EGP 200 has been received from number 01198765432; registered to Ahmed Ali. " +
		"Your current balance is 1200 EGP. Transaction date 03/09/24 14:05. Transaction number: 123456789"
)

func TestParseSMSTransfer(t *testing.T) {
	at := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	tx, err := ParseSMS(transferSMS, at, time.UTC)
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if tx.Type != Transfer || tx.PhoneNumber != "01012345678" {
		t.Fatalf("unexpected record %+v", tx)
	}
	if tx.Amount.String() != "150" || tx.BalanceAfter.String() != "848.5" {
		t.Fatalf("unexpected amounts %s %s", tx.Amount, tx.BalanceAfter)
	}
	if tx.BalanceBefore.String() != "1000" {
		t.Fatalf("balanceBefore = %s, want 1000", tx.BalanceBefore)
	}
	if tx.ServiceFees == nil || tx.ServiceFees.String() != "1.5" {
		t.Fatalf("unexpected fees %v", tx.ServiceFees)
	}
	if !tx.Date.Equal(at) {
		t.Fatalf("transfer date should be receivedAt, got %v", tx.Date)
	}
	if tx.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestParseSMSReceived(t *testing.T) {
	cairo := time.FixedZone("EET", 2*60*60)
	tx, err := ParseSMS(receivedSMS, time.Now(), cairo)
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if tx.Type != Received || tx.SenderName != "Ahmed Ali" || tx.TransactionNumber != "123456789" {
		t.Fatalf("unexpected record %+v", tx)
	}
	if tx.BalanceBefore.String() != "1000" {
		t.Fatalf("balanceBefore = %s, want 1000", tx.BalanceBefore)
	}
	want := time.Date(2024, 3, 9, 14, 5, 0, 0, cairo)
	if !tx.Date.Equal(want) {
		t.Fatalf("date = %v, want %v", tx.Date, want)
	}
}

func TestParseSMSRoundTripsThroughValidator(t *testing.T) {
	tx, err := ParseSMS(receivedSMS, time.Now(), time.UTC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := ValidateTransaction(raw); err != nil {
		t.Fatalf("parsed SMS should validate, got %v", err)
	}
}

func TestParseSMSErrors(t *testing.T) {
	cases := []struct {
		text, want string
	}{
		{"Your OTP is 1234", "Not a VF-Cash message"},
		{"Vodafone Cash: something unexpected", "Unable to parse VF-Cash message format"},
		{"EGP 10 received, thanks", "Unable to parse VF-Cash message format"},
	}
	for _, tc := range cases {
		_, err := ParseSMS(tc.text, time.Now(), nil)
		if err == nil || err.Error() != tc.want {
			t.Fatalf("%q: got %v, want %q", tc.text, err, tc.want)
		}
	}
}
