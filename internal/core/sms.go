package core

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	transferSMSPattern = regexp.MustCompile(`(?is)EGP\s+(\d+(?:\.\d+)?)\s+has been transferred to number\s+(\d+).*?` +
		`Service fees are\s+(\d+(?:\.\d+)?)\s+EGP.*?` +
		`Your current Vodafone Cash account balance is\s+(\d+(?:\.\d+)?)`)

	receivedSMSPattern = regexp.MustCompile(`(?is)EGP\s+(\d+(?:\.\d+)?)\s+has been received from number\s+(\d+)(?:;\s*registered to\s+([^.]+))?.*?` +
		`Your current balance is\s+(\d+(?:\.\d+)?)\s+EGP.*?` +
		`Transaction date\s+(\d{2}/\d{2}/\d{2})\s+(\d{2}:\d{2}).*?` +
		`Transaction number:\s*(\d+)`)
)

const smsDateLayout = "01/02/06 15:04"

// IsVFCashMessage reports whether text looks like a VF-Cash notification.
func IsVFCashMessage(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "vodafone cash") ||
		strings.Contains(lower, "vf-cash") ||
		(strings.Contains(lower, "egp") &&
			(strings.Contains(lower, "transferred") || strings.Contains(lower, "received")))
}

// ParseSMS converts a VF-Cash SMS body into a transaction with a fresh id.
// Transfer messages carry no date of their own and use receivedAt; dates
// printed in received messages are read in loc.
func ParseSMS(text string, receivedAt time.Time, loc *time.Location) (Transaction, error) {
	if !IsVFCashMessage(text) {
		return Transaction{}, NewValidationError("Not a VF-Cash message")
	}
	if loc == nil {
		loc = time.UTC
	}

	tx, ok := parseTransferSMS(text, receivedAt)
	if !ok {
		tx, ok = parseReceivedSMS(text, loc)
	}
	if !ok {
		return Transaction{}, NewValidationError("Unable to parse VF-Cash message format")
	}
	tx.ID = uuid.NewString()
	return tx, nil
}

func parseTransferSMS(text string, receivedAt time.Time) (Transaction, bool) {
	m := transferSMSPattern.FindStringSubmatch(text)
	if m == nil {
		return Transaction{}, false
	}
	amount, err1 := decimal.NewFromString(m[1])
	fees, err2 := decimal.NewFromString(m[3])
	balance, err3 := decimal.NewFromString(m[4])
	if err1 != nil || err2 != nil || err3 != nil {
		return Transaction{}, false
	}
	return Transaction{
		Type:          Transfer,
		Amount:        amount,
		PhoneNumber:   m[2],
		Date:          receivedAt,
		BalanceBefore: balance.Add(amount).Add(fees),
		BalanceAfter:  balance,
		ServiceFees:   &fees,
	}, true
}

func parseReceivedSMS(text string, loc *time.Location) (Transaction, bool) {
	m := receivedSMSPattern.FindStringSubmatch(text)
	if m == nil {
		return Transaction{}, false
	}
	amount, err1 := decimal.NewFromString(m[1])
	balance, err2 := decimal.NewFromString(m[4])
	if err1 != nil || err2 != nil {
		return Transaction{}, false
	}
	date, err := time.ParseInLocation(smsDateLayout, m[5]+" "+m[6], loc)
	if err != nil {
		return Transaction{}, false
	}
	return Transaction{
		Type:              Received,
		Amount:            amount,
		PhoneNumber:       m[2],
		Date:              date,
		BalanceBefore:     balance.Sub(amount),
		BalanceAfter:      balance,
		SenderName:        strings.TrimSpace(m[3]),
		TransactionNumber: m[7],
	}, true
}
