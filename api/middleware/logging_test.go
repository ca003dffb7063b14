package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
)

func TestLoggingCapturesExplicitStatus(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "middleware-test", Output: &buf})

	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/orders", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if got := completedStatus(t, buf.Bytes()); got != http.StatusAccepted {
		t.Fatalf("logged status = %d, want %d", got, http.StatusAccepted)
	}
}

func TestLoggingDefaultsToOKWhenHandlerOnlyWrites(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "middleware-test", Output: &buf})

	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`{"ok":true}`)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/carts", nil))

	if got := completedStatus(t, buf.Bytes()); got != http.StatusOK {
		t.Fatalf("logged status = %d, want %d", got, http.StatusOK)
	}
}

func TestLoggingNilLoggerPassesThrough(t *testing.T) {
	handler := Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/carts/abc", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

// completedStatus pulls the status field from the request.complete line.
func completedStatus(t *testing.T, raw []byte) int {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		var entry map[string]any
		if err := dec.Decode(&entry); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("decode log line: %v", err)
		}
		if entry["message"] != "request.complete" {
			continue
		}
		status, ok := entry["status"].(float64)
		if !ok {
			t.Fatalf("request.complete missing status field: %v", entry)
		}
		return int(status)
	}
	t.Fatal("request.complete log line not found")
	return 0
}
