// Package core provides the transaction and limits domain.
//
// This file validates raw JSON records at the API boundary and builds the
// typed records from them. Rules run in a fixed order and the first one
// that fails is reported.
package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// maxEpochMillis bounds numeric timestamps to the range a JSON client can represent.
const maxEpochMillis = 8_640_000_000_000_000

// maxDecimalExponent bounds the exponent kept from a JSON number token.
// Tokens beyond it are reduced to their float64 value before any arithmetic.
const maxDecimalExponent = 400

var epochBound = decimal.NewFromInt(maxEpochMillis)

// numberKind classifies a JSON value read as a number.
type numberKind int

const (
	notNumber numberKind = iota
	finiteNumber
	// infiniteNumber is a number token beyond the float64 range.
	infiniteNumber
)

// timestampLayouts are tried in order. Layouts without an offset are
// interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	"Jan 2, 2006 3:04:05 PM",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
}

// ValidateTransaction checks a raw JSON record and returns the typed
// transaction built from it.
func ValidateTransaction(raw json.RawMessage) (Transaction, error) {
	rec, ok := decodeObject(raw)
	if !ok {
		return Transaction{}, NewValidationError("Transaction ID is required and must be a string")
	}

	var tx Transaction

	id, ok := rec.str("id")
	if !ok || id == "" {
		return Transaction{}, NewValidationError("Transaction ID is required and must be a string")
	}
	tx.ID = id

	typ, _ := rec.str("type")
	if !TransactionType(typ).IsValid() {
		return Transaction{}, NewValidationError(`Transaction type must be either "transfer" or "received"`)
	}
	tx.Type = TransactionType(typ)

	amount, ok := rec.number("amount")
	if !ok || !amount.IsPositive() {
		return Transaction{}, NewValidationError("Amount must be a positive number")
	}
	tx.Amount = amount

	phone, ok := rec.str("phoneNumber")
	if !ok || phone == "" {
		return Transaction{}, NewValidationError("Phone number is required and must be a string")
	}
	tx.PhoneNumber = phone

	if !rec.present("date") {
		return Transaction{}, NewValidationError("Date is required")
	}
	date, ok := rec.timestamp("date")
	if !ok {
		return Transaction{}, NewValidationError("Invalid date format")
	}
	tx.Date = date

	before, ok := rec.number("balanceBefore")
	if !ok || before.IsNegative() {
		return Transaction{}, NewValidationError("Balance before must be a non-negative number")
	}
	tx.BalanceBefore = before

	after, ok := rec.number("balanceAfter")
	if !ok || after.IsNegative() {
		return Transaction{}, NewValidationError("Balance after must be a non-negative number")
	}
	tx.BalanceAfter = after

	// optional fields of the wrong type or sign are left unset
	if name, ok := rec.str("senderName"); ok {
		tx.SenderName = name
	}
	if num, ok := rec.str("transactionNumber"); ok {
		tx.TransactionNumber = num
	}
	if fees, ok := rec.number("serviceFees"); ok && !fees.IsNegative() {
		tx.ServiceFees = &fees
	}

	return tx, nil
}

// ValidateBatch validates every element independently. All failures are
// collected with their index; the returned slice is only meaningful when
// the error is nil.
func ValidateBatch(raws []json.RawMessage) ([]Transaction, error) {
	txs := make([]Transaction, 0, len(raws))
	var failures []IndexedError
	for i, raw := range raws {
		tx, err := ValidateTransaction(raw)
		if err != nil {
			failures = append(failures, IndexedError{Index: i, Error: err.Error()})
			continue
		}
		txs = append(txs, tx)
	}
	if len(failures) > 0 {
		return nil, &BatchValidationError{Failures: failures}
	}
	return txs, nil
}

// ValidateLimits checks a raw JSON limits record and returns the typed limits.
func ValidateLimits(raw json.RawMessage) (Limits, error) {
	rec, ok := decodeObject(raw)
	if !ok && isArrayToken(raw) {
		// an array is an object without the required keys
		rec, ok = rawRecord{}, true
	}
	if !ok {
		return Limits{}, NewValidationError("Invalid limits data")
	}

	var l Limits
	targets := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"dailyTransferLimit", &l.DailyTransferLimit},
		{"monthlyTransferLimit", &l.MonthlyTransferLimit},
		{"dailyReceiveLimit", &l.DailyReceiveLimit},
		{"monthlyReceiveLimit", &l.MonthlyReceiveLimit},
	}
	for _, t := range targets {
		if _, exists := rec[t.name]; !exists {
			return Limits{}, NewValidationError("Missing required field: " + t.name)
		}
		v, kind := rec.numeric(t.name)
		if kind == notNumber || v.IsNegative() {
			return Limits{}, NewValidationError(t.name + " must be a non-negative number")
		}
		if kind == infiniteNumber || v.GreaterThan(MaxLimitValue) {
			return Limits{}, NewValidationError(t.name + " seems unreasonably high")
		}
		*t.dst = v
	}

	if err := l.Validate(); err != nil {
		return Limits{}, err
	}
	return l, nil
}

// ParseTimestamp parses the string date formats accepted on ingestion.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type rawRecord map[string]json.RawMessage

func decodeObject(raw json.RawMessage) (rawRecord, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var rec rawRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, false
	}
	return rec, true
}

// set reports whether key exists with a non-null value.
func (r rawRecord) set(key string) bool {
	v, ok := r[key]
	return ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// present reports whether key holds a truthy value: not missing, null,
// false, zero or the empty string.
func (r rawRecord) present(key string) bool {
	if !r.set(key) {
		return false
	}
	v := bytes.TrimSpace(r[key])
	switch {
	case bytes.Equal(v, []byte("false")), bytes.Equal(v, []byte(`""`)):
		return false
	case isNumberToken(v):
		d, kind := r.numeric(key)
		return kind == infiniteNumber || (kind == finiteNumber && !d.IsZero())
	}
	return true
}

func (r rawRecord) str(key string) (string, bool) {
	v := bytes.TrimSpace(r[key])
	if len(v) == 0 || v[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func (r rawRecord) number(key string) (decimal.Decimal, bool) {
	d, kind := r.numeric(key)
	return d, kind == finiteNumber
}

// numeric parses a number token. Tokens outside the float64 range are
// reported as infinite; tokens with an extreme exponent are reduced to
// their float64 value.
func (r rawRecord) numeric(key string) (decimal.Decimal, numberKind) {
	v := bytes.TrimSpace(r[key])
	if !isNumberToken(v) {
		return decimal.Decimal{}, notNumber
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) && math.IsInf(f, 0) {
			return decimal.NewFromInt(int64(math.Copysign(1, f))), infiniteNumber
		}
		return decimal.Decimal{}, notNumber
	}
	d, err := decimal.NewFromString(string(v))
	if err != nil {
		return decimal.Decimal{}, notNumber
	}
	if exp := d.Exponent(); exp > maxDecimalExponent || exp < -maxDecimalExponent {
		d = decimal.NewFromFloat(f)
	}
	return d, finiteNumber
}

func (r rawRecord) timestamp(key string) (time.Time, bool) {
	if s, ok := r.str(key); ok {
		return ParseTimestamp(s)
	}
	if bytes.Equal(bytes.TrimSpace(r[key]), []byte("true")) {
		// true converts to 1ms after the epoch
		return time.UnixMilli(1).UTC(), true
	}
	if d, ok := r.number(key); ok {
		if d.GreaterThan(epochBound) || d.LessThan(epochBound.Neg()) {
			return time.Time{}, false
		}
		return time.UnixMilli(d.IntPart()).UTC(), true
	}
	return time.Time{}, false
}

func isArrayToken(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '[' && json.Valid(trimmed)
}

func isNumberToken(v []byte) bool {
	return len(v) > 0 && (v[0] == '-' || (v[0] >= '0' && v[0] <= '9'))
}
