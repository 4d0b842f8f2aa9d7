package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vfcash/internal/services"
	"vfcash/internal/storage/memory"
)

type envelope struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message"`
	Error            string            `json:"error"`
	Count            int               `json:"count"`
	TransactionCount int               `json:"transactionCount"`
	Transactions     []json.RawMessage `json:"transactions"`
	Details          []struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	} `json:"details"`
	Summary struct {
		TotalProcessed    int `json:"totalProcessed"`
		Added             int `json:"added"`
		Updated           int `json:"updated"`
		TotalTransactions int `json:"totalTransactions"`
	} `json:"summary"`
	Limits      map[string]float64 `json:"limits"`
	Transaction map[string]any     `json:"transaction"`
	Usage       struct {
		Date          string `json:"date"`
		DailyTransfer struct {
			Used      float64 `json:"used"`
			Remaining float64 `json:"remaining"`
		} `json:"dailyTransfer"`
	} `json:"usage"`
}

func newTestServer(t *testing.T, capacity int) *Server {
	t.Helper()
	return newTestServerWithProbe(t, capacity, nil)
}

func newTestServerWithProbe(t *testing.T, capacity int, probe func(context.Context) error) *Server {
	t.Helper()
	txs := memory.NewTransactionStore(capacity)
	limits := memory.NewLimitsStore()
	usage := services.NewUsageService(txs, limits, time.UTC, nil)
	srv := NewServer(Options{Addr: ":0", MaxBodyBytes: 64 << 10, RateLimitPerMinute: 10000}, Deps{
		Ingestion: services.NewIngestionService(txs, nil, usage, nil, time.UTC),
		Limits:    services.NewLimitsService(limits, nil, usage, nil),
		Usage:     usage,
		Probe:     probe,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, target, body string) (int, envelope) {
	t.Helper()
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	} else {
		rdr = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, target, err, rr.Body.String())
		}
	}
	return rr.Code, env
}

func txJSON(id string, amount int) string {
	return fmt.Sprintf(`{"id":%q,"type":"transfer","amount":%d,"phoneNumber":"01012345678","date":"2024-03-09T10:00:00Z","balanceBefore":1000,"balanceAfter":%d}`,
		id, amount, 1000-amount)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, 10)
	for _, path := range []string{"/healthz", "/readyz"} {
		code, env := do(t, srv, http.MethodGet, path, "")
		if code != http.StatusOK || !env.Success {
			t.Fatalf("%s status=%d", path, code)
		}
	}

	failing := newTestServerWithProbe(t, 10, func(context.Context) error { return errors.New("db down") })
	code, env := do(t, failing, http.MethodGet, "/readyz", "")
	if code != http.StatusServiceUnavailable || env.Success {
		t.Fatalf("expected 503 from failing probe, got %d", code)
	}
}

func TestPostSingleTransaction(t *testing.T) {
	srv := newTestServer(t, 10)

	code, env := do(t, srv, http.MethodPost, "/transactions", txJSON("t1", 100))
	if code != http.StatusOK || env.Message != "Transaction received successfully" || env.TransactionCount != 1 {
		t.Fatalf("unexpected %d %+v", code, env)
	}

	code, env = do(t, srv, http.MethodPost, "/transactions", txJSON("t1", 150))
	if code != http.StatusOK || env.TransactionCount != 1 {
		t.Fatalf("same id should replace, got %d %+v", code, env)
	}

	code, env = do(t, srv, http.MethodGet, "/transactions", "")
	if code != http.StatusOK || env.Count != 1 || len(env.Transactions) != 1 {
		t.Fatalf("unexpected list %d %+v", code, env)
	}
	if !strings.Contains(string(env.Transactions[0]), `"amount":150`) {
		t.Fatalf("expected replaced record, got %s", env.Transactions[0])
	}
}

func TestPostTransactionValidation(t *testing.T) {
	srv := newTestServer(t, 10)
	tests := []struct {
		name    string
		body    string
		code    int
		message string
	}{
		{"null body", `null`, http.StatusBadRequest, "Invalid request body"},
		{"scalar body", `42`, http.StatusBadRequest, "Invalid request body"},
		{"missing id", `{"type":"transfer"}`, http.StatusBadRequest, "Transaction ID is required and must be a string"},
		{"bad type", `{"id":"x","type":"other"}`, http.StatusBadRequest, `Transaction type must be either "transfer" or "received"`},
		{"malformed json", `{"id":`, http.StatusInternalServerError, "Failed to process transaction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, srv, http.MethodPost, "/transactions", tt.body)
			if code != tt.code || env.Error != tt.message || env.Success {
				t.Fatalf("got %d %q, want %d %q", code, env.Error, tt.code, tt.message)
			}
		})
	}

	_, env := do(t, srv, http.MethodGet, "/transactions", "")
	if env.Count != 0 {
		t.Fatalf("failed submissions must not mutate, count=%d", env.Count)
	}
}

func TestPostTransactionArray(t *testing.T) {
	srv := newTestServer(t, 10)

	body := "[" + txJSON("a", 1) + "," + txJSON("b", 2) + "]"
	code, env := do(t, srv, http.MethodPost, "/transactions", body)
	if code != http.StatusOK || env.Message != "Successfully processed 2 transactions" || env.TransactionCount != 2 {
		t.Fatalf("unexpected %d %+v", code, env)
	}

	body = "[" + txJSON("c", 1) + `,{"id":"d","type":"transfer","amount":-1}]`
	code, env = do(t, srv, http.MethodPost, "/transactions", body)
	if code != http.StatusBadRequest || env.Error != "Amount must be a positive number" {
		t.Fatalf("expected first failure message, got %d %+v", code, env)
	}
	if len(env.Details) != 1 || env.Details[0].Index != 1 {
		t.Fatalf("expected details for index 1, got %+v", env.Details)
	}
	_, env = do(t, srv, http.MethodGet, "/transactions", "")
	if env.Count != 2 {
		t.Fatalf("invalid array must not mutate, count=%d", env.Count)
	}
}

func TestBulkUpload(t *testing.T) {
	srv := newTestServer(t, 10)
	do(t, srv, http.MethodPost, "/transactions", txJSON("a", 1))

	code, env := do(t, srv, http.MethodPost, "/transactions/bulk", "["+txJSON("a", 5)+","+txJSON("b", 5)+","+txJSON("c", 5)+"]")
	if code != http.StatusOK || env.Message != "Bulk upload completed successfully" {
		t.Fatalf("unexpected %d %+v", code, env)
	}
	want := struct{ p, a, u, t int }{3, 2, 1, 3}
	got := env.Summary
	if got.TotalProcessed != want.p || got.Added != want.a || got.Updated != want.u || got.TotalTransactions != want.t {
		t.Fatalf("unexpected summary %+v", got)
	}

	tests := []struct {
		name, body, message string
	}{
		{"object", txJSON("x", 1), "Bulk upload requires an array of transactions"},
		{"empty", `[]`, "No transactions provided"},
		{"invalid element", `[{}]`, "Validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, srv, http.MethodPost, "/transactions/bulk", tt.body)
			if code != http.StatusBadRequest || env.Error != tt.message {
				t.Fatalf("got %d %q, want %q", code, env.Error, tt.message)
			}
		})
	}
}

func TestBulkTrimsToCapacity(t *testing.T) {
	srv := newTestServer(t, 3)
	parts := make([]string, 5)
	for i := range parts {
		parts[i] = txJSON(fmt.Sprintf("t%d", i), 1)
	}
	_, env := do(t, srv, http.MethodPost, "/transactions/bulk", "["+strings.Join(parts, ",")+"]")
	if env.Summary.Added != 5 || env.Summary.TotalTransactions != 3 {
		t.Fatalf("unexpected summary %+v", env.Summary)
	}
}

func TestClearTransactions(t *testing.T) {
	srv := newTestServer(t, 10)
	do(t, srv, http.MethodPost, "/transactions", txJSON("a", 1))

	code, env := do(t, srv, http.MethodDelete, "/transactions", "")
	if code != http.StatusOK || env.Message != "All transactions cleared" {
		t.Fatalf("unexpected %d %+v", code, env)
	}
	_, env = do(t, srv, http.MethodGet, "/transactions", "")
	if env.Count != 0 || env.Transactions == nil {
		t.Fatalf("expected empty list after clear, got %+v", env)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, 10)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPut, "/transactions"},
		{http.MethodGet, "/transactions/bulk"},
		{http.MethodDelete, "/limits"},
	} {
		code, env := do(t, srv, tc.method, tc.path, "")
		if code != http.StatusMethodNotAllowed || env.Error != "Method not allowed" {
			t.Fatalf("%s %s: got %d %q", tc.method, tc.path, code, env.Error)
		}
	}
}

func TestLimitsEndpoint(t *testing.T) {
	srv := newTestServer(t, 10)

	code, env := do(t, srv, http.MethodGet, "/limits", "")
	if code != http.StatusOK || env.Limits["dailyTransferLimit"] != 5000 || env.Limits["monthlyReceiveLimit"] != 100000 {
		t.Fatalf("unexpected defaults %d %+v", code, env.Limits)
	}

	valid := `{"dailyTransferLimit":100,"monthlyTransferLimit":1000,"dailyReceiveLimit":200,"monthlyReceiveLimit":2000}`
	for _, method := range []string{http.MethodPost, http.MethodPut} {
		code, env = do(t, srv, method, "/limits", valid)
		if code != http.StatusOK || env.Message != "Limits updated successfully" || env.Limits["dailyTransferLimit"] != 100 {
			t.Fatalf("%s: unexpected %d %+v", method, code, env)
		}
	}

	code, env = do(t, srv, http.MethodPost, "/limits", `{"dailyTransferLimit":20000000,"monthlyTransferLimit":1000,"dailyReceiveLimit":200,"monthlyReceiveLimit":2000}`)
	if code != http.StatusBadRequest || env.Error != "dailyTransferLimit seems unreasonably high" {
		t.Fatalf("unexpected %d %q", code, env.Error)
	}
	_, env = do(t, srv, http.MethodGet, "/limits", "")
	if env.Limits["dailyTransferLimit"] != 100 {
		t.Fatalf("failed update must not change limits, got %+v", env.Limits)
	}

	code, env = do(t, srv, http.MethodPut, "/limits", `[]`)
	if code != http.StatusBadRequest || env.Error != "Missing required field: dailyTransferLimit" {
		t.Fatalf("unexpected %d %q", code, env.Error)
	}

	code, env = do(t, srv, http.MethodPut, "/limits", `null`)
	if code != http.StatusBadRequest || env.Error != "Invalid limits data" {
		t.Fatalf("unexpected %d %q", code, env.Error)
	}
}

func TestUsageEndpoint(t *testing.T) {
	srv := newTestServer(t, 10)
	do(t, srv, http.MethodPost, "/transactions", txJSON("a", 300))

	code, env := do(t, srv, http.MethodGet, "/limits/usage?date=2024-03-09", "")
	if code != http.StatusOK || env.Usage.Date != "2024-03-09" {
		t.Fatalf("unexpected %d %+v", code, env)
	}
	if env.Usage.DailyTransfer.Used != 300 || env.Usage.DailyTransfer.Remaining != 4700 {
		t.Fatalf("unexpected window %+v", env.Usage.DailyTransfer)
	}

	code, env = do(t, srv, http.MethodGet, "/limits/usage?date=yesterday", "")
	if code != http.StatusBadRequest || env.Error != "Invalid date parameter" {
		t.Fatalf("unexpected %d %q", code, env.Error)
	}
}

func TestSMSEndpoint(t *testing.T) {
	srv := newTestServer(t, 10)

	msg := "EGP 50 has been transferred to number 01012345678. Service fees are 1 EGP. Your current Vodafone Cash account balance is 949"
	body, _ := json.Marshal(map[string]any{"message": msg, "receivedAt": "2024-03-09T08:00:00Z"})
	code, env := do(t, srv, http.MethodPost, "/transactions/sms", string(body))
	if code != http.StatusOK || env.TransactionCount != 1 {
		t.Fatalf("unexpected %d %+v", code, env)
	}
	if env.Transaction["type"] != "transfer" || env.Transaction["balanceBefore"] != float64(1000) {
		t.Fatalf("unexpected transaction %+v", env.Transaction)
	}

	tests := []struct{ name, body, message string }{
		{"not vf cash", `{"message":"hello there"}`, "Not a VF-Cash message"},
		{"missing message", `{}`, "Message is required and must be a string"},
		{"bad receivedAt", `{"message":"x","receivedAt":"soon"}`, "Invalid receivedAt"},
		{"array body", `[]`, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, srv, http.MethodPost, "/transactions/sms", tt.body)
			if code != http.StatusBadRequest || env.Error != tt.message {
				t.Fatalf("got %d %q, want %q", code, env.Error, tt.message)
			}
		})
	}
}

func TestOversizedBodyIs500(t *testing.T) {
	srv := newTestServer(t, 10)
	big := `{"id":"` + strings.Repeat("x", 70<<10) + `"}`
	code, env := do(t, srv, http.MethodPost, "/transactions", big)
	if code != http.StatusInternalServerError || env.Error != "Failed to process transaction" {
		t.Fatalf("unexpected %d %q", code, env.Error)
	}
}

func TestMetricsAndRequestID(t *testing.T) {
	srv := newTestServer(t, 10)
	do(t, srv, http.MethodPost, "/transactions", txJSON("a", 1))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("request id not echoed")
	}
	body := rr.Body.String()
	for _, want := range []string{"http_requests_total 1", "vfcash_transactions_stored_total 1", "# TYPE rate_limit_hits_total counter"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestRateLimitOnMutatingRequests(t *testing.T) {
	txs := memory.NewTransactionStore(10)
	limits := memory.NewLimitsStore()
	usage := services.NewUsageService(txs, limits, time.UTC, nil)
	srv := NewServer(Options{RateLimitPerMinute: 1}, Deps{
		Ingestion: services.NewIngestionService(txs, nil, usage, nil, nil),
		Limits:    services.NewLimitsService(limits, nil, usage, nil),
		Usage:     usage,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	do(t, srv, http.MethodPost, "/transactions", txJSON("a", 1))
	code, env := do(t, srv, http.MethodPost, "/transactions", txJSON("b", 1))
	if code != http.StatusTooManyRequests || env.Success {
		t.Fatalf("expected 429, got %d", code)
	}
	if code, _ := do(t, srv, http.MethodGet, "/transactions", ""); code != http.StatusOK {
		t.Fatalf("reads are not limited, got %d", code)
	}
}
