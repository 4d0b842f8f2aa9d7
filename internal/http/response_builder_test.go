package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"vfcash/internal/core"
)

func TestJSONResponseBuilder_Success(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Message("ok").Field("count", 2).Header("X-Test", "1").Write(w)

	if w.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") != "application/json" || w.Header().Get("X-Test") != "1" {
		t.Errorf("unexpected headers %v", w.Header())
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["success"] != true || got["message"] != "ok" || got["count"] != float64(2) {
		t.Errorf("unexpected body %v", got)
	}
}

func TestJSONResponseBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		builder *JSONResponseBuilder
		code    int
		message string
	}{
		{"bad request", BadRequestError("nope"), http.StatusBadRequest, "nope"},
		{"internal", InternalServerError("boom"), http.StatusInternalServerError, "boom"},
		{"not found", NotFoundError("Not found"), http.StatusNotFound, "Not found"},
		{"method", MethodNotAllowedError(), http.StatusMethodNotAllowed, "Method not allowed"},
		{"rate", TooManyRequestsError(), http.StatusTooManyRequests, "Rate limit exceeded. Please try again later."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)
			var got map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &got)
			if w.Code != tt.code || got["success"] != false || got["error"] != tt.message {
				t.Errorf("got %d %v", w.Code, got)
			}
		})
	}
}

func TestJSONResponseBuilder_Details(t *testing.T) {
	w := httptest.NewRecorder()
	BadRequestError("Validation failed").Details([]core.IndexedError{{Index: 2, Error: "Date is required"}}).Write(w)

	var got struct {
		Details []core.IndexedError `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Details) != 1 || got.Details[0].Index != 2 || got.Details[0].Error != "Date is required" {
		t.Errorf("unexpected details %+v", got.Details)
	}
}
