package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vfcash/internal/amqp"
	"vfcash/internal/core"
	"vfcash/internal/storage"
	"vfcash/internal/storage/memory"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []*amqp.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e *amqp.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *fakePublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate() { c.n++ }

type failingStore struct{ storage.TransactionStore }

func (failingStore) UpsertOne(context.Context, core.Transaction) (storage.UpsertResult, error) {
	return storage.UpsertResult{}, errors.New("disk full")
}

func rawTx(id string, amount int) json.RawMessage {
	m := map[string]any{
		"id":            id,
		"type":          "transfer",
		"amount":        amount,
		"phoneNumber":   "01012345678",
		"date":          "2024-03-09T10:00:00Z",
		"balanceBefore": 1000,
		"balanceAfter":  1000 - amount,
	}
	b, _ := json.Marshal(m)
	return b
}

func TestIngestOne(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	inv := &countingInvalidator{}
	svc := NewIngestionService(memory.NewTransactionStore(10), pub, inv, nil, nil)

	res, err := svc.IngestOne(ctx, rawTx("a", 100))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Inserted || res.Total != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if inv.n != 1 || len(pub.types()) != 1 || pub.types()[0] != amqp.EventTransactionsUpserted {
		t.Fatalf("expected one invalidation and one event, got %d %v", inv.n, pub.types())
	}

	res, _ = svc.IngestOne(ctx, rawTx("a", 200))
	if res.Inserted || res.Total != 1 {
		t.Fatalf("same id should update, got %+v", res)
	}
}

func TestIngestOneValidationDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	store := memory.NewTransactionStore(10)
	svc := NewIngestionService(store, pub, nil, nil, nil)

	_, err := svc.IngestOne(ctx, json.RawMessage(`{"id":"a","type":"other"}`))
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n, _ := store.Count(ctx); n != 0 || len(pub.types()) != 0 {
		t.Fatalf("nothing should be stored or published")
	}
}

func TestIngestManyAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTransactionStore(10)
	svc := NewIngestionService(store, nil, nil, nil, nil)

	_, err := svc.IngestMany(ctx, []json.RawMessage{rawTx("a", 1), json.RawMessage(`{}`), rawTx("b", 1)})
	var berr *core.BatchValidationError
	if !errors.As(err, &berr) || len(berr.Failures) != 1 || berr.Failures[0].Index != 1 {
		t.Fatalf("expected one failure at index 1, got %v", err)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Fatalf("invalid batch must not mutate, count = %d", n)
	}

	res, err := svc.IngestMany(ctx, []json.RawMessage{rawTx("a", 1), rawTx("b", 1), rawTx("a", 2)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Added != 2 || res.Updated != 1 || res.Total != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestIngestPublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := NewIngestionService(memory.NewTransactionStore(10), pub, nil, nil, nil)
	if _, err := svc.IngestOne(context.Background(), rawTx("a", 1)); err != nil {
		t.Fatalf("publish errors must not fail ingestion, got %v", err)
	}
}

func TestIngestStoreFailureIsWrapped(t *testing.T) {
	svc := NewIngestionService(failingStore{memory.NewTransactionStore(10)}, nil, nil, nil, nil)
	_, err := svc.IngestOne(context.Background(), rawTx("a", 1))
	var verr *core.ValidationError
	if err == nil || errors.As(err, &verr) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestIngestSMS(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTransactionStore(10)
	svc := NewIngestionService(store, nil, nil, nil, time.UTC)

	msg := "EGP 50 has been transferred to number 01012345678. Service fees are 1 EGP. " +
		"Your current Vodafone Cash account balance is 949"
	at := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	tx, res, err := svc.IngestSMS(ctx, msg, at)
	if err != nil {
		t.Fatalf("ingest sms: %v", err)
	}
	if !res.Inserted || tx.BalanceBefore.String() != "1000" || !tx.Date.Equal(at) {
		t.Fatalf("unexpected result %+v %+v", res, tx)
	}

	if _, _, err := svc.IngestSMS(ctx, "hello", at); err == nil || err.Error() != "Not a VF-Cash message" {
		t.Fatalf("expected parser error, got %v", err)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	store := memory.NewTransactionStore(10)
	svc := NewIngestionService(store, pub, nil, nil, nil)
	svc.IngestOne(ctx, rawTx("a", 1))

	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	list, _ := svc.List(ctx)
	if len(list) != 0 {
		t.Fatalf("expected empty list")
	}
	types := pub.types()
	if types[len(types)-1] != amqp.EventTransactionsCleared {
		t.Fatalf("expected cleared event, got %v", types)
	}
}

func TestLimitsUpdate(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	inv := &countingInvalidator{}
	store := memory.NewLimitsStore()
	svc := NewLimitsService(store, pub, inv, nil)

	raw := json.RawMessage(`{"dailyTransferLimit":100,"monthlyTransferLimit":1000,"dailyReceiveLimit":200,"monthlyReceiveLimit":2000}`)
	l, err := svc.Update(ctx, raw)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !l.DailyTransferLimit.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected limits %+v", l)
	}
	if inv.n != 1 || pub.types()[0] != amqp.EventLimitsUpdated {
		t.Fatalf("expected invalidation and event")
	}

	_, err = svc.Update(ctx, json.RawMessage(`{"dailyTransferLimit":100}`))
	if err == nil || err.Error() != "Missing required field: monthlyTransferLimit" {
		t.Fatalf("unexpected error %v", err)
	}
	got, _ := svc.Get(ctx)
	if !got.DailyTransferLimit.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("failed update must not change limits, got %+v", got)
	}
}

func TestUsageSummaryCachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	txs := memory.NewTransactionStore(10)
	usage := NewUsageService(txs, memory.NewLimitsStore(), time.UTC, nil)
	usage.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	ingest := NewIngestionService(txs, nil, usage, nil, nil)

	ref, err := usage.ParseDay("")
	if err != nil {
		t.Fatalf("parse today: %v", err)
	}
	s, _ := usage.Summary(ctx, ref)
	if !s.DailyTransfer.Used.IsZero() || s.Date != "2024-03-09" {
		t.Fatalf("unexpected empty summary %+v", s)
	}
	if usage.Cache().Size() != 1 {
		t.Fatalf("summary should be cached")
	}

	ingest.IngestOne(ctx, rawTx("a", 100))
	if usage.Cache().Size() != 0 {
		t.Fatalf("ingestion should purge the usage cache")
	}

	s, _ = usage.Summary(ctx, ref)
	if s.DailyTransfer.Used.String() != "100" || s.DailyTransfer.Remaining.String() != "4900" {
		t.Fatalf("unexpected summary %+v", s.DailyTransfer)
	}
}

func TestUsageParseDay(t *testing.T) {
	usage := NewUsageService(memory.NewTransactionStore(1), memory.NewLimitsStore(), time.UTC, nil)
	if _, err := usage.ParseDay("2024-02-30"); err == nil || err.Error() != "Invalid date parameter" {
		t.Fatalf("expected invalid date error, got %v", err)
	}
	d, err := usage.ParseDay("2024-02-29")
	if err != nil || d.Day() != 29 {
		t.Fatalf("unexpected %v %v", d, err)
	}
}

// invalidatingStore invalidates the usage cache while a summary is being
// computed, the way a concurrent ingestion would.
type invalidatingStore struct {
	storage.TransactionStore
	usage *UsageService
}

func (s invalidatingStore) List(ctx context.Context) ([]core.Transaction, error) {
	s.usage.Invalidate()
	return s.TransactionStore.List(ctx)
}

func TestUsageSummaryNotCachedAcrossInvalidation(t *testing.T) {
	ctx := context.Background()
	store := &invalidatingStore{TransactionStore: memory.NewTransactionStore(10)}
	usage := NewUsageService(store, memory.NewLimitsStore(), time.UTC, nil)
	store.usage = usage

	if _, err := usage.Summary(ctx, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if usage.Cache().Size() != 0 {
		t.Fatalf("summary computed across an invalidation must not be cached")
	}

	if usage.storeIfCurrent(usage.currentGeneration()-1, "2024-03-09", core.UsageSummary{}) {
		t.Fatalf("stale generation must not be stored")
	}
}

func TestUsageSummaryConcurrentInvalidation(t *testing.T) {
	ctx := context.Background()
	txs := memory.NewTransactionStore(1000)
	usage := NewUsageService(txs, memory.NewLimitsStore(), time.UTC, nil)
	usage.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	ingest := NewIngestionService(txs, nil, usage, nil, nil)
	ref := usage.Today()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				usage.Summary(ctx, ref)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		ingest.IngestOne(ctx, rawTx("t"+strconv.Itoa(i), 10))
	}
	wg.Wait()

	s, err := usage.Summary(ctx, ref)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.DailyTransfer.Used.String() != "200" {
		t.Fatalf("cached summary is stale: used = %s", s.DailyTransfer.Used)
	}
}
