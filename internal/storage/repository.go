package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"vfcash/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements TransactionStore and LimitsStore on a sqlite file.
// Insertion order is kept in the seq column.
type SQLiteRepository struct {
	db       *sql.DB
	capacity int
}

func NewSQLiteRepository(dbPath string, capacity int) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:       db,
		capacity: NormalizeCapacity(capacity),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// List returns all transactions, newest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, amount, phone_number, date, balance_before, balance_after,
		       sender_name, transaction_number, service_fees
		FROM transactions
		ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	if out == nil {
		out = []core.Transaction{}
	}
	return out, nil
}

func (r *SQLiteRepository) UpsertOne(ctx context.Context, tx core.Transaction) (UpsertResult, error) {
	var res UpsertResult
	err := r.withTx(ctx, func(sqlTx *sql.Tx) error {
		inserted, err := upsertTransaction(ctx, sqlTx, tx)
		if err != nil {
			return err
		}
		total, err := r.trim(ctx, sqlTx)
		if err != nil {
			return err
		}
		res = UpsertResult{Inserted: inserted, Total: total}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite", "id", tx.ID, "inserted", res.Inserted)
	return res, nil
}

// UpsertMany applies the batch in one SQL transaction with a single trim at the end.
func (r *SQLiteRepository) UpsertMany(ctx context.Context, txs []core.Transaction) (BatchResult, error) {
	var res BatchResult
	err := r.withTx(ctx, func(sqlTx *sql.Tx) error {
		res = BatchResult{}
		for _, tx := range txs {
			inserted, err := upsertTransaction(ctx, sqlTx, tx)
			if err != nil {
				return err
			}
			if inserted {
				res.Added++
			} else {
				res.Updated++
			}
		}
		total, err := r.trim(ctx, sqlTx)
		if err != nil {
			return err
		}
		res.Total = total
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}

	slog.DebugContext(ctx, "Transaction batch saved to SQLite",
		"added", res.Added,
		"updated", res.Updated,
		"total", res.Total)
	return res, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
		return fmt.Errorf("clear transactions: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// Get returns the stored limits, or the defaults when none were saved.
func (r *SQLiteRepository) Get(ctx context.Context) (core.Limits, error) {
	var dt, mt, dr, mr string
	err := r.db.QueryRowContext(ctx, `
		SELECT daily_transfer, monthly_transfer, daily_receive, monthly_receive
		FROM limits WHERE id = 1`).Scan(&dt, &mt, &dr, &mr)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DefaultLimits(), nil
	}
	if err != nil {
		return core.Limits{}, fmt.Errorf("get limits: %w", err)
	}

	var l core.Limits
	for _, f := range []struct {
		src string
		dst *decimal.Decimal
	}{
		{dt, &l.DailyTransferLimit},
		{mt, &l.MonthlyTransferLimit},
		{dr, &l.DailyReceiveLimit},
		{mr, &l.MonthlyReceiveLimit},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return core.Limits{}, fmt.Errorf("parse stored limit %q: %w", f.src, err)
		}
	}
	return l, nil
}

func (r *SQLiteRepository) Replace(ctx context.Context, l core.Limits) (core.Limits, error) {
	if err := l.Validate(); err != nil {
		return core.Limits{}, err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO limits (id, daily_transfer, monthly_transfer, daily_receive, monthly_receive, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			daily_transfer = excluded.daily_transfer,
			monthly_transfer = excluded.monthly_transfer,
			daily_receive = excluded.daily_receive,
			monthly_receive = excluded.monthly_receive,
			updated_at = excluded.updated_at`,
		l.DailyTransferLimit.String(),
		l.MonthlyTransferLimit.String(),
		l.DailyReceiveLimit.String(),
		l.MonthlyReceiveLimit.String(),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return core.Limits{}, fmt.Errorf("replace limits: %w", err)
	}
	return l, nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(sqlTx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// trim deletes everything but the newest capacity rows and returns the remaining count.
func (r *SQLiteRepository) trim(ctx context.Context, sqlTx *sql.Tx) (int, error) {
	_, err := sqlTx.ExecContext(ctx, `
		DELETE FROM transactions
		WHERE id NOT IN (SELECT id FROM transactions ORDER BY seq DESC LIMIT ?)`, r.capacity)
	if err != nil {
		return 0, fmt.Errorf("trim transactions: %w", err)
	}
	var n int
	if err := sqlTx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func upsertTransaction(ctx context.Context, sqlTx *sql.Tx, tx core.Transaction) (bool, error) {
	var fees sql.NullString
	if tx.ServiceFees != nil {
		fees = sql.NullString{String: tx.ServiceFees.String(), Valid: true}
	}
	args := []any{
		string(tx.Type),
		tx.Amount.String(),
		tx.PhoneNumber,
		tx.Date.UTC().Format(time.RFC3339Nano),
		tx.BalanceBefore.String(),
		tx.BalanceAfter.String(),
		nullString(tx.SenderName),
		nullString(tx.TransactionNumber),
		fees,
	}

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE transactions SET
			type = ?, amount = ?, phone_number = ?, date = ?, balance_before = ?,
			balance_after = ?, sender_name = ?, transaction_number = ?, service_fees = ?
		WHERE id = ?`, append(args, tx.ID)...)
	if err != nil {
		return false, fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("update transaction %s: %w", tx.ID, err)
	} else if n > 0 {
		return false, nil
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, seq, type, amount, phone_number, date, balance_before,
			balance_after, sender_name, transaction_number, service_fees)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions), ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{tx.ID}, args...)...)
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx                    core.Transaction
		typ, date             string
		amount, before, after string
		sender, number, fees  sql.NullString
	)
	if err := row.Scan(&tx.ID, &typ, &amount, &tx.PhoneNumber, &date, &before, &after,
		&sender, &number, &fees); err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}

	var err error
	tx.Type = core.TransactionType(typ)
	if tx.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse stored date for %s: %w", tx.ID, err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("parse stored amount for %s: %w", tx.ID, err)
	}
	if tx.BalanceBefore, err = decimal.NewFromString(before); err != nil {
		return core.Transaction{}, fmt.Errorf("parse stored balance for %s: %w", tx.ID, err)
	}
	if tx.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return core.Transaction{}, fmt.Errorf("parse stored balance for %s: %w", tx.ID, err)
	}
	tx.SenderName = sender.String
	tx.TransactionNumber = number.String
	if fees.Valid {
		d, err := decimal.NewFromString(fees.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("parse stored fees for %s: %w", tx.ID, err)
		}
		tx.ServiceFees = &d
	}
	return tx, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
