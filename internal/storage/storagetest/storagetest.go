// Package storagetest holds behaviour checks shared by every store backend.
package storagetest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vfcash/internal/core"
	"vfcash/internal/storage"
)

// Tx builds a minimal valid transaction with the given id and amount.
func Tx(id string, amount int64) core.Transaction {
	return core.Transaction{
		ID:            id,
		Type:          core.Transfer,
		Amount:        decimal.NewFromInt(amount),
		PhoneNumber:   "01012345678",
		Date:          time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		BalanceBefore: decimal.NewFromInt(1000),
		BalanceAfter:  decimal.NewFromInt(1000 - amount),
	}
}

// RunTransactionStore exercises the upsert, ordering and retention rules.
// newStore must return an empty store with the given capacity.
func RunTransactionStore(t *testing.T, newStore func(t *testing.T, capacity int) storage.TransactionStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("insert newest first", func(t *testing.T) {
		s := newStore(t, 10)
		for _, id := range []string{"a", "b", "c"} {
			res, err := s.UpsertOne(ctx, Tx(id, 1))
			if err != nil {
				t.Fatalf("upsert %s: %v", id, err)
			}
			if !res.Inserted {
				t.Fatalf("%s should be inserted", id)
			}
		}
		assertIDs(t, s, "c", "b", "a")
	})

	t.Run("replace in place", func(t *testing.T) {
		s := newStore(t, 10)
		mustUpsert(t, s, Tx("a", 1), Tx("b", 1), Tx("c", 1))
		res, err := s.UpsertOne(ctx, Tx("b", 99))
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if res.Inserted || res.Total != 3 {
			t.Fatalf("unexpected result %+v", res)
		}
		assertIDs(t, s, "c", "b", "a")
		list, _ := s.List(ctx)
		if list[1].Amount.IntPart() != 99 {
			t.Fatalf("record b not replaced: %s", list[1].Amount)
		}
	})

	t.Run("trim drops oldest", func(t *testing.T) {
		s := newStore(t, 3)
		mustUpsert(t, s, Tx("a", 1), Tx("b", 1), Tx("c", 1), Tx("d", 1))
		assertIDs(t, s, "d", "c", "b")
	})

	t.Run("batch counts and single trim", func(t *testing.T) {
		s := newStore(t, 5)
		mustUpsert(t, s, Tx("x", 1))
		res, err := s.UpsertMany(ctx, []core.Transaction{Tx("a", 1), Tx("x", 2), Tx("b", 1), Tx("a", 3)})
		if err != nil {
			t.Fatalf("upsert many: %v", err)
		}
		if res.Added != 2 || res.Updated != 2 || res.Total != 3 {
			t.Fatalf("unexpected result %+v", res)
		}
		assertIDs(t, s, "b", "a", "x")
	})

	t.Run("batch beyond capacity keeps newest", func(t *testing.T) {
		const capacity = 20
		s := newStore(t, capacity)
		batch := make([]core.Transaction, capacity+1)
		for i := range batch {
			batch[i] = Tx("t"+strconv.Itoa(i), 1)
		}
		res, err := s.UpsertMany(ctx, batch)
		if err != nil {
			t.Fatalf("upsert many: %v", err)
		}
		if res.Added != capacity+1 || res.Total != capacity {
			t.Fatalf("unexpected result %+v", res)
		}
		list, _ := s.List(ctx)
		if list[0].ID != "t20" || list[len(list)-1].ID != "t1" {
			t.Fatalf("unexpected bounds %s..%s", list[0].ID, list[len(list)-1].ID)
		}
	})

	t.Run("single inserts at default capacity keep newest", func(t *testing.T) {
		s := newStore(t, storage.DefaultCapacity)
		for i := 0; i <= storage.DefaultCapacity; i++ {
			if _, err := s.UpsertOne(ctx, Tx("t"+strconv.Itoa(i), 1)); err != nil {
				t.Fatalf("upsert %d: %v", i, err)
			}
		}
		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != storage.DefaultCapacity {
			t.Fatalf("len = %d, want %d", len(list), storage.DefaultCapacity)
		}
		for i, tx := range list {
			if want := "t" + strconv.Itoa(storage.DefaultCapacity-i); tx.ID != want {
				t.Fatalf("list[%d] = %s, want %s", i, tx.ID, want)
			}
		}
	})

	t.Run("clear and count", func(t *testing.T) {
		s := newStore(t, 10)
		mustUpsert(t, s, Tx("a", 1), Tx("b", 1))
		if n, _ := s.Count(ctx); n != 2 {
			t.Fatalf("count = %d", n)
		}
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("clear: %v", err)
		}
		if n, _ := s.Count(ctx); n != 0 {
			t.Fatalf("count after clear = %d", n)
		}
		mustUpsert(t, s, Tx("a", 1))
		assertIDs(t, s, "a")
	})

	t.Run("optional fields survive", func(t *testing.T) {
		s := newStore(t, 10)
		tx := Tx("a", 1)
		fees := decimal.RequireFromString("1.25")
		tx.ServiceFees = &fees
		tx.SenderName = "Ahmed"
		tx.TransactionNumber = "123"
		mustUpsert(t, s, tx)
		list, _ := s.List(ctx)
		got := list[0]
		if got.ServiceFees == nil || !got.ServiceFees.Equal(fees) || got.SenderName != "Ahmed" || got.TransactionNumber != "123" {
			t.Fatalf("optional fields lost: %+v", got)
		}
		if !got.Date.Equal(tx.Date) || !got.Amount.Equal(tx.Amount) {
			t.Fatalf("core fields changed: %+v", got)
		}
	})
}

// RunLimitsStore checks defaults, replacement and validation.
func RunLimitsStore(t *testing.T, s storage.LimitsStore) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !limitsEqual(got, core.DefaultLimits()) {
		t.Fatalf("expected defaults, got %+v", got)
	}

	next := core.Limits{
		DailyTransferLimit:   decimal.NewFromInt(100),
		MonthlyTransferLimit: decimal.NewFromInt(1000),
		DailyReceiveLimit:    decimal.NewFromInt(200),
		MonthlyReceiveLimit:  decimal.NewFromInt(2000),
	}
	if _, err := s.Replace(ctx, next); err != nil {
		t.Fatalf("replace: %v", err)
	}

	bad := next
	bad.DailyTransferLimit = decimal.NewFromInt(5000)
	if _, err := s.Replace(ctx, bad); err == nil {
		t.Fatalf("expected validation error")
	}

	got, _ = s.Get(ctx)
	if !limitsEqual(got, next) {
		t.Fatalf("expected %+v, got %+v", next, got)
	}
}

func limitsEqual(a, b core.Limits) bool {
	return a.DailyTransferLimit.Equal(b.DailyTransferLimit) &&
		a.MonthlyTransferLimit.Equal(b.MonthlyTransferLimit) &&
		a.DailyReceiveLimit.Equal(b.DailyReceiveLimit) &&
		a.MonthlyReceiveLimit.Equal(b.MonthlyReceiveLimit)
}

func mustUpsert(t *testing.T, s storage.TransactionStore, txs ...core.Transaction) {
	t.Helper()
	for _, tx := range txs {
		if _, err := s.UpsertOne(context.Background(), tx); err != nil {
			t.Fatalf("upsert %s: %v", tx.ID, err)
		}
	}
}

func assertIDs(t *testing.T, s storage.TransactionStore, want ...string) {
	t.Helper()
	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != len(want) {
		t.Fatalf("got %d records, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, list[i].ID, id)
		}
	}
}
