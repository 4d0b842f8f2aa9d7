// Package mongostore stores transactions and limits in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vfcash/internal/core"
	"vfcash/internal/storage"
)

const (
	transactionsCollection = "transactions"
	countersCollection     = "counters"
	settingsCollection     = "settings"

	limitsDocID = "limits"
	seqDocID    = "transactions"
)

// Store implements storage.TransactionStore and storage.LimitsStore.
// Documents are ordered by a seq drawn from a counters document.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	capacity int

	// serializes upsert and trim pairs issued from this process
	mu sync.Mutex
}

// Connect dials uri, verifies the connection and ensures indexes.
func Connect(ctx context.Context, uri, database string, capacity int) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo uri not set")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Store{
		client:   client,
		db:       client.Database(database),
		capacity: storage.NormalizeCapacity(capacity),
	}

	indexModel := mongo.IndexModel{
		Keys:    bson.M{"seq": 1},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.transactions().Indexes().CreateOne(ctx, indexModel); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("create seq index: %w", err)
	}

	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) transactions() *mongo.Collection {
	return s.db.Collection(transactionsCollection)
}

func (s *Store) List(ctx context.Context) ([]core.Transaction, error) {
	cursor, err := s.transactions().Find(ctx, bson.D{}, options.Find().SetSort(bson.M{"seq": -1}))
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	defer cursor.Close(ctx)

	out := []core.Transaction{}
	for cursor.Next(ctx) {
		var doc transactionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		tx, err := doc.toTransaction()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (s *Store) UpsertOne(ctx context.Context, tx core.Transaction) (storage.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, err := s.upsert(ctx, tx)
	if err != nil {
		return storage.UpsertResult{}, err
	}
	total, err := s.trim(ctx)
	if err != nil {
		return storage.UpsertResult{}, err
	}
	return storage.UpsertResult{Inserted: inserted, Total: total}, nil
}

func (s *Store) UpsertMany(ctx context.Context, txs []core.Transaction) (storage.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res storage.BatchResult
	for _, tx := range txs {
		inserted, err := s.upsert(ctx, tx)
		if err != nil {
			return storage.BatchResult{}, err
		}
		if inserted {
			res.Added++
		} else {
			res.Updated++
		}
	}
	total, err := s.trim(ctx)
	if err != nil {
		return storage.BatchResult{}, err
	}
	res.Total = total
	return res, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.transactions().DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("clear transactions: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.transactions().CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return int(n), nil
}

func (s *Store) Get(ctx context.Context) (core.Limits, error) {
	var doc limitsDoc
	err := s.db.Collection(settingsCollection).FindOne(ctx, bson.M{"_id": limitsDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.DefaultLimits(), nil
	}
	if err != nil {
		return core.Limits{}, fmt.Errorf("find limits: %w", err)
	}
	return doc.toLimits()
}

func (s *Store) Replace(ctx context.Context, l core.Limits) (core.Limits, error) {
	if err := l.Validate(); err != nil {
		return core.Limits{}, err
	}
	doc, err := newLimitsDoc(l)
	if err != nil {
		return core.Limits{}, err
	}
	_, err = s.db.Collection(settingsCollection).ReplaceOne(ctx,
		bson.M{"_id": limitsDocID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return core.Limits{}, fmt.Errorf("replace limits: %w", err)
	}
	return l, nil
}

func (s *Store) upsert(ctx context.Context, tx core.Transaction) (bool, error) {
	doc, err := newTransactionDoc(tx)
	if err != nil {
		return false, err
	}

	var existing struct {
		Seq int64 `bson:"seq"`
	}
	err = s.transactions().FindOne(ctx, bson.M{"_id": tx.ID},
		options.FindOne().SetProjection(bson.M{"seq": 1})).Decode(&existing)
	switch {
	case err == nil:
		doc.Seq = existing.Seq
		if _, err := s.transactions().ReplaceOne(ctx, bson.M{"_id": tx.ID}, doc); err != nil {
			return false, fmt.Errorf("replace transaction %s: %w", tx.ID, err)
		}
		return false, nil
	case !errors.Is(err, mongo.ErrNoDocuments):
		return false, fmt.Errorf("find transaction %s: %w", tx.ID, err)
	}

	if doc.Seq, err = s.nextSeq(ctx); err != nil {
		return false, err
	}
	if _, err := s.transactions().InsertOne(ctx, doc); err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return true, nil
}

func (s *Store) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": seqDocID},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next transaction seq: %w", err)
	}
	return counter.Seq, nil
}

// trim removes documents older than the newest capacity and returns the remaining count.
func (s *Store) trim(ctx context.Context) (int, error) {
	opts := options.Find().
		SetSort(bson.M{"seq": -1}).
		SetSkip(int64(s.capacity)).
		SetProjection(bson.M{"_id": 1})
	cursor, err := s.transactions().Find(ctx, bson.D{}, opts)
	if err != nil {
		return 0, fmt.Errorf("find excess transactions: %w", err)
	}
	var excess []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &excess); err != nil {
		return 0, fmt.Errorf("decode excess transactions: %w", err)
	}
	if len(excess) > 0 {
		ids := make([]string, len(excess))
		for i, e := range excess {
			ids[i] = e.ID
		}
		if _, err := s.transactions().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
			return 0, fmt.Errorf("trim transactions: %w", err)
		}
	}
	return s.Count(ctx)
}

type transactionDoc struct {
	ID                string                `bson:"_id"`
	Seq               int64                 `bson:"seq"`
	Type              string                `bson:"type"`
	Amount            primitive.Decimal128  `bson:"amount"`
	PhoneNumber       string                `bson:"phoneNumber"`
	Date              time.Time             `bson:"date"`
	BalanceBefore     primitive.Decimal128  `bson:"balanceBefore"`
	BalanceAfter      primitive.Decimal128  `bson:"balanceAfter"`
	SenderName        string                `bson:"senderName,omitempty"`
	TransactionNumber string                `bson:"transactionNumber,omitempty"`
	ServiceFees       *primitive.Decimal128 `bson:"serviceFees,omitempty"`
}

type limitsDoc struct {
	ID                   string               `bson:"_id"`
	DailyTransferLimit   primitive.Decimal128 `bson:"dailyTransferLimit"`
	MonthlyTransferLimit primitive.Decimal128 `bson:"monthlyTransferLimit"`
	DailyReceiveLimit    primitive.Decimal128 `bson:"dailyReceiveLimit"`
	MonthlyReceiveLimit  primitive.Decimal128 `bson:"monthlyReceiveLimit"`
	UpdatedAt            time.Time            `bson:"updatedAt"`
}

func newTransactionDoc(tx core.Transaction) (transactionDoc, error) {
	doc := transactionDoc{
		ID:                tx.ID,
		Type:              string(tx.Type),
		PhoneNumber:       tx.PhoneNumber,
		Date:              tx.Date.UTC(),
		SenderName:        tx.SenderName,
		TransactionNumber: tx.TransactionNumber,
	}
	var err error
	if doc.Amount, err = toDecimal128(tx.Amount); err != nil {
		return transactionDoc{}, err
	}
	if doc.BalanceBefore, err = toDecimal128(tx.BalanceBefore); err != nil {
		return transactionDoc{}, err
	}
	if doc.BalanceAfter, err = toDecimal128(tx.BalanceAfter); err != nil {
		return transactionDoc{}, err
	}
	if tx.ServiceFees != nil {
		fees, err := toDecimal128(*tx.ServiceFees)
		if err != nil {
			return transactionDoc{}, err
		}
		doc.ServiceFees = &fees
	}
	return doc, nil
}

func (d transactionDoc) toTransaction() (core.Transaction, error) {
	tx := core.Transaction{
		ID:                d.ID,
		Type:              core.TransactionType(d.Type),
		PhoneNumber:       d.PhoneNumber,
		Date:              d.Date.UTC(),
		SenderName:        d.SenderName,
		TransactionNumber: d.TransactionNumber,
	}
	var err error
	if tx.Amount, err = fromDecimal128(d.Amount); err != nil {
		return core.Transaction{}, err
	}
	if tx.BalanceBefore, err = fromDecimal128(d.BalanceBefore); err != nil {
		return core.Transaction{}, err
	}
	if tx.BalanceAfter, err = fromDecimal128(d.BalanceAfter); err != nil {
		return core.Transaction{}, err
	}
	if d.ServiceFees != nil {
		fees, err := fromDecimal128(*d.ServiceFees)
		if err != nil {
			return core.Transaction{}, err
		}
		tx.ServiceFees = &fees
	}
	return tx, nil
}

func newLimitsDoc(l core.Limits) (limitsDoc, error) {
	doc := limitsDoc{ID: limitsDocID, UpdatedAt: time.Now().UTC()}
	for _, f := range []struct {
		src decimal.Decimal
		dst *primitive.Decimal128
	}{
		{l.DailyTransferLimit, &doc.DailyTransferLimit},
		{l.MonthlyTransferLimit, &doc.MonthlyTransferLimit},
		{l.DailyReceiveLimit, &doc.DailyReceiveLimit},
		{l.MonthlyReceiveLimit, &doc.MonthlyReceiveLimit},
	} {
		v, err := toDecimal128(f.src)
		if err != nil {
			return limitsDoc{}, err
		}
		*f.dst = v
	}
	return doc, nil
}

func (d limitsDoc) toLimits() (core.Limits, error) {
	var l core.Limits
	for _, f := range []struct {
		src primitive.Decimal128
		dst *decimal.Decimal
	}{
		{d.DailyTransferLimit, &l.DailyTransferLimit},
		{d.MonthlyTransferLimit, &l.MonthlyTransferLimit},
		{d.DailyReceiveLimit, &l.DailyReceiveLimit},
		{d.MonthlyReceiveLimit, &l.MonthlyReceiveLimit},
	} {
		v, err := fromDecimal128(f.src)
		if err != nil {
			return core.Limits{}, err
		}
		*f.dst = v
	}
	return l, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert %s to decimal128: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("convert decimal128 %s: %w", v, err)
	}
	return d, nil
}
