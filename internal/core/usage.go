package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout formats the reference day of a usage summary.
const DayLayout = "2006-01-02"

var hundred = decimal.NewFromInt(100)

type (
	// UsageWindow is the consumption of one limit over one calendar window.
	UsageWindow struct {
		Used       decimal.Decimal `json:"used"`
		Limit      decimal.Decimal `json:"limit"`
		Remaining  decimal.Decimal `json:"remaining"`
		Percentage decimal.Decimal `json:"percentage"`
		Exceeded   bool            `json:"exceeded"`
	}

	UsageSummary struct {
		Date            string      `json:"date"`
		DailyTransfer   UsageWindow `json:"dailyTransfer"`
		MonthlyTransfer UsageWindow `json:"monthlyTransfer"`
		DailyReceive    UsageWindow `json:"dailyReceive"`
		MonthlyReceive  UsageWindow `json:"monthlyReceive"`
	}
)

// NewUsageWindow derives remaining and percentage from used and limit.
func NewUsageWindow(used, limit decimal.Decimal) UsageWindow {
	remaining := limit.Sub(used)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	pct := decimal.Zero
	if limit.IsPositive() {
		pct = used.Div(limit).Mul(hundred).Round(2)
	}
	return UsageWindow{
		Used:       used,
		Limit:      limit,
		Remaining:  remaining,
		Percentage: pct,
		Exceeded:   used.GreaterThan(limit),
	}
}

// ComputeUsage sums transactions on the calendar day and month of ref,
// evaluated in ref's location.
func ComputeUsage(txs []Transaction, limits Limits, ref time.Time) UsageSummary {
	loc := ref.Location()
	refYear, refMonth, refDay := ref.Date()

	var dayOut, monthOut, dayIn, monthIn decimal.Decimal
	for _, tx := range txs {
		y, m, d := tx.Date.In(loc).Date()
		if y != refYear || m != refMonth {
			continue
		}
		sameDay := d == refDay
		switch tx.Type {
		case Transfer:
			monthOut = monthOut.Add(tx.Amount)
			if sameDay {
				dayOut = dayOut.Add(tx.Amount)
			}
		case Received:
			monthIn = monthIn.Add(tx.Amount)
			if sameDay {
				dayIn = dayIn.Add(tx.Amount)
			}
		}
	}

	return UsageSummary{
		Date:            ref.Format(DayLayout),
		DailyTransfer:   NewUsageWindow(dayOut, limits.DailyTransferLimit),
		MonthlyTransfer: NewUsageWindow(monthOut, limits.MonthlyTransferLimit),
		DailyReceive:    NewUsageWindow(dayIn, limits.DailyReceiveLimit),
		MonthlyReceive:  NewUsageWindow(monthIn, limits.MonthlyReceiveLimit),
	}
}
