package sheets

import (
	"context"

	"vfcash/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionMirror keeps an external copy of the transaction store and
	// the limits record, fed from change events.
	TransactionMirror interface {
		// UpsertTransactions replaces rows with matching ids and appends the rest.
		UpsertTransactions(ctx context.Context, txs []core.Transaction) error
		ClearTransactions(ctx context.Context) error
		WriteLimits(ctx context.Context, l core.Limits) error
	}
)

// TransactionHeader is the column layout of mirrored transaction rows.
var TransactionHeader = []string{
	"ID", "Type", "Amount", "Phone Number", "Date",
	"Balance Before", "Balance After", "Sender Name", "Transaction Number", "Service Fees",
}
