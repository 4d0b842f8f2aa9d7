package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"vfcash/internal/core"
	"vfcash/internal/log"
)

const (
	msgFetchTransactionsFailed = "Failed to fetch transactions"
	msgProcessTransactionFail  = "Failed to process transaction"
	msgClearFailed             = "Failed to clear transactions"
	msgBulkFailed              = "Failed to process bulk transactions"
	msgSMSFailed               = "Failed to process SMS"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ingestion.List(r.Context())
	if err != nil {
		s.writeFailure(w, r, err, msgFetchTransactionsFailed, log.OpList)
		return
	}
	NewJSONResponse().
		Field("transactions", txs).
		Field("count", len(txs)).
		Write(w)
}

// handleIngestTransactions accepts one transaction object or an array of them.
func (s *Server) handleIngestTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := ReadJSONBody(w, r, s.maxBodyBytes)
	if err != nil {
		s.writeFailure(w, r, err, msgProcessTransactionFail, log.OpUpsert)
		return
	}

	switch body.Shape {
	case ShapeObject:
		res, err := s.ingestion.IngestOne(ctx, body.Raw)
		if err != nil {
			s.writeFailure(w, r, err, msgProcessTransactionFail, log.OpUpsert)
			return
		}
		s.metrics.transactionsStored.Add(1)
		NewJSONResponse().
			Message("Transaction received successfully").
			Field("transactionCount", res.Total).
			Write(w)

	case ShapeArray:
		elems, err := body.Elements()
		if err != nil {
			s.writeFailure(w, r, err, msgProcessTransactionFail, log.OpBulk)
			return
		}
		res, err := s.ingestion.IngestMany(ctx, elems)
		var berr *core.BatchValidationError
		if errors.As(err, &berr) {
			s.metrics.validationFailures.Add(1)
			log.FromContext(ctx).WarnContext(ctx, "Batch validation failed",
				log.FieldOperation, log.OpBulk,
				log.FieldCount, len(berr.Failures))
			BadRequestError(berr.First()).Details(berr.Failures).Write(w)
			return
		}
		if err != nil {
			s.writeFailure(w, r, err, msgProcessTransactionFail, log.OpBulk)
			return
		}
		s.metrics.transactionsStored.Add(int64(len(elems)))
		NewJSONResponse().
			Message("Successfully processed " + strconv.Itoa(len(elems)) + " transactions").
			Field("transactionCount", res.Total).
			Write(w)

	default:
		s.writeFailure(w, r, core.ErrInvalidBody, msgProcessTransactionFail, log.OpUpsert)
	}
}

func (s *Server) handleClearTransactions(w http.ResponseWriter, r *http.Request) {
	if err := s.ingestion.Clear(r.Context()); err != nil {
		s.writeFailure(w, r, err, msgClearFailed, log.OpClear)
		return
	}
	NewJSONResponse().Message("All transactions cleared").Write(w)
}

type bulkSummary struct {
	TotalProcessed    int `json:"totalProcessed"`
	Added             int `json:"added"`
	Updated           int `json:"updated"`
	TotalTransactions int `json:"totalTransactions"`
}

// handleBulkTransactions requires a non-empty array and reports added/updated counts.
func (s *Server) handleBulkTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := ReadJSONBody(w, r, s.maxBodyBytes)
	if err != nil {
		s.writeFailure(w, r, err, msgBulkFailed, log.OpBulk)
		return
	}
	if body.Shape != ShapeArray {
		s.metrics.validationFailures.Add(1)
		BadRequestError("Bulk upload requires an array of transactions").Write(w)
		return
	}
	elems, err := body.Elements()
	if err != nil {
		s.writeFailure(w, r, err, msgBulkFailed, log.OpBulk)
		return
	}
	if len(elems) == 0 {
		s.metrics.validationFailures.Add(1)
		BadRequestError("No transactions provided").Write(w)
		return
	}

	res, err := s.ingestion.IngestMany(ctx, elems)
	var berr *core.BatchValidationError
	if errors.As(err, &berr) {
		s.metrics.validationFailures.Add(1)
		log.FromContext(ctx).WarnContext(ctx, "Bulk validation failed",
			log.FieldOperation, log.OpBulk,
			log.FieldCount, len(berr.Failures))
		BadRequestError("Validation failed").Details(berr.Failures).Write(w)
		return
	}
	if err != nil {
		s.writeFailure(w, r, err, msgBulkFailed, log.OpBulk)
		return
	}

	s.metrics.transactionsStored.Add(int64(len(elems)))
	NewJSONResponse().
		Message("Bulk upload completed successfully").
		Field("summary", bulkSummary{
			TotalProcessed:    len(elems),
			Added:             res.Added,
			Updated:           res.Updated,
			TotalTransactions: res.Total,
		}).
		Write(w)
}

type smsRequest struct {
	Message    *string         `json:"message"`
	ReceivedAt json.RawMessage `json:"receivedAt"`
}

// handleSMSTransaction parses a raw VF-Cash SMS and stores the result.
func (s *Server) handleSMSTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := ReadJSONBody(w, r, s.maxBodyBytes)
	if err != nil {
		s.writeFailure(w, r, err, msgSMSFailed, log.OpParseSMS)
		return
	}
	if body.Shape != ShapeObject {
		s.writeFailure(w, r, core.ErrInvalidBody, msgSMSFailed, log.OpParseSMS)
		return
	}

	var req smsRequest
	if err := json.Unmarshal(body.Raw, &req); err != nil || req.Message == nil || *req.Message == "" {
		s.writeFailure(w, r, core.NewValidationError("Message is required and must be a string"), msgSMSFailed, log.OpParseSMS)
		return
	}

	receivedAt, ok := parseReceivedAt(req.ReceivedAt)
	if !ok {
		s.writeFailure(w, r, core.NewValidationError("Invalid receivedAt"), msgSMSFailed, log.OpParseSMS)
		return
	}

	tx, res, err := s.ingestion.IngestSMS(ctx, *req.Message, receivedAt)
	if err != nil {
		s.writeFailure(w, r, err, msgSMSFailed, log.OpParseSMS)
		return
	}

	s.metrics.smsParsed.Add(1)
	s.metrics.transactionsStored.Add(1)
	NewJSONResponse().
		Message("SMS processed successfully").
		Field("transaction", tx).
		Field("transactionCount", res.Total).
		Write(w)
}

// parseReceivedAt accepts a missing or null value (now), a timestamp string
// or epoch milliseconds.
func parseReceivedAt(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Now(), true
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return core.ParseTimestamp(str)
	}

	var ms json.Number
	if err := json.Unmarshal(raw, &ms); err == nil {
		n, err := ms.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(n), true
	}
	return time.Time{}, false
}
