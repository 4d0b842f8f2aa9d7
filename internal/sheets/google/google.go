package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"vfcash/internal/core"
	"vfcash/internal/log"
	ports "vfcash/internal/sheets"
)

const (
	defaultTransactionsSheet = "Transactions"
	defaultLimitsSheet       = "Limits"
	lastColumn               = "J"
)

// Ensure interface conformance
var _ ports.TransactionMirror = (*Client)(nil)

// Config selects the spreadsheet and the credentials used to reach it.
type Config struct {
	SpreadsheetID     string
	TransactionsSheet string
	LimitsSheet       string
	// Service account credentials: inline JSON wins over the file path.
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc               *gsheet.Service
	spreadsheetID     string
	transactionsSheet string
	limitsSheet       string
	logger            *log.Logger
}

// New creates a Sheets client. Extra options are appended after the
// credential options, so callers can point the client at another endpoint.
func New(ctx context.Context, cfg Config, logger *log.Logger, extra ...goption.ClientOption) (*Client, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentSheets)

	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	opts, err := credentialOptions(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	c := &Client{
		svc:               svc,
		spreadsheetID:     spreadsheetID,
		transactionsSheet: orDefault(cfg.TransactionsSheet, defaultTransactionsSheet),
		limitsSheet:       orDefault(cfg.LimitsSheet, defaultLimitsSheet),
		logger:            logger,
	}
	logger.InfoContext(ctx, "Google Sheets mirror ready",
		"spreadsheet_id", spreadsheetID,
		"transactions_sheet", c.transactionsSheet,
		"limits_sheet", c.limitsSheet)
	return c, nil
}

// credentialOptions loads service account credentials. With none configured
// the client falls back to application default credentials.
func credentialOptions(ctx context.Context, cfg Config, logger *log.Logger) ([]goption.ClientOption, error) {
	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		logger.DebugContext(ctx, "Using inline service account credentials")
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		logger.DebugContext(ctx, "Read service account credentials", "path", cfg.CredentialsFile, "size", len(data))
		credentialsJSON = data
	default:
		return []goption.ClientOption{goption.WithScopes(gsheet.SpreadsheetsScope)}, nil
	}
	return []goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// UpsertTransactions rewrites rows whose id is already in column A and
// appends the others. Row 1 holds the header.
func (c *Client) UpsertTransactions(ctx context.Context, txs []core.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	rows, used, err := c.rowIndex(ctx)
	if err != nil {
		return err
	}

	var updates []*gsheet.ValueRange
	var appends [][]any
	if used == 0 {
		appends = append(appends, headerRow())
	}
	pending := map[string]int{}
	for _, tx := range txs {
		if n, ok := rows[tx.ID]; ok {
			updates = append(updates, &gsheet.ValueRange{
				Range:  fmt.Sprintf("%s!A%d:%s%d", c.transactionsSheet, n, lastColumn, n),
				Values: [][]any{transactionRow(tx)},
			})
			continue
		}
		// a repeated new id inside one batch overwrites its pending append
		if i, ok := pending[tx.ID]; ok {
			appends[i] = transactionRow(tx)
			continue
		}
		pending[tx.ID] = len(appends)
		appends = append(appends, transactionRow(tx))
	}

	if len(updates) > 0 {
		req := &gsheet.BatchUpdateValuesRequest{ValueInputOption: "RAW", Data: updates}
		if _, err := c.svc.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("update rows in %s: %w", c.transactionsSheet, err)
		}
	}
	if len(appends) > 0 {
		rng := fmt.Sprintf("%s!A:%s", c.transactionsSheet, lastColumn)
		_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: appends}).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("append rows to %s: %w", c.transactionsSheet, err)
		}
	}

	c.logger.InfoContext(ctx, "Mirrored transactions",
		log.FieldOperation, log.OpMirror,
		log.FieldUpdated, len(updates),
		log.FieldAdded, len(pending))
	return nil
}

// rowIndex maps transaction ids to their 1-based sheet row and reports how
// many rows column A spans.
func (c *Client) rowIndex(ctx context.Context) (map[string]int, int, error) {
	rng := fmt.Sprintf("%s!A:A", c.transactionsSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", rng, err)
	}
	return indexRows(resp.Values), len(resp.Values), nil
}

func indexRows(values [][]any) map[string]int {
	out := make(map[string]int, len(values))
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id == "" || (i == 0 && id == ports.TransactionHeader[0]) {
			continue
		}
		out[id] = i + 1
	}
	return out
}

// ClearTransactions empties every data row, keeping the header.
func (c *Client) ClearTransactions(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A2:%s", c.transactionsSheet, lastColumn)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	c.logger.InfoContext(ctx, "Cleared mirrored transactions", log.FieldOperation, log.OpMirror)
	return nil
}

// WriteLimits overwrites the limits sheet with a name/value table.
func (c *Client) WriteLimits(ctx context.Context, l core.Limits) error {
	rng := fmt.Sprintf("%s!A1:C5", c.limitsSheet)
	vr := &gsheet.ValueRange{Values: limitsRows(l, time.Now().UTC())}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write %s: %w", rng, err)
	}
	return nil
}

func headerRow() []any {
	out := make([]any, len(ports.TransactionHeader))
	for i, h := range ports.TransactionHeader {
		out[i] = h
	}
	return out
}

func transactionRow(tx core.Transaction) []any {
	fees := ""
	if tx.ServiceFees != nil {
		fees = tx.ServiceFees.String()
	}
	return []any{
		tx.ID,
		string(tx.Type),
		tx.Amount.String(),
		tx.PhoneNumber,
		tx.Date.UTC().Format(time.RFC3339),
		tx.BalanceBefore.String(),
		tx.BalanceAfter.String(),
		tx.SenderName,
		tx.TransactionNumber,
		fees,
	}
}

func limitsRows(l core.Limits, at time.Time) [][]any {
	updated := at.Format(time.RFC3339)
	return [][]any{
		{"Limit", "Value", "Updated"},
		{"dailyTransferLimit", l.DailyTransferLimit.String(), updated},
		{"monthlyTransferLimit", l.MonthlyTransferLimit.String(), updated},
		{"dailyReceiveLimit", l.DailyReceiveLimit.String(), updated},
		{"monthlyReceiveLimit", l.MonthlyReceiveLimit.String(), updated},
	}
}
