package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONCode(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSONCode(w, http.StatusAccepted, map[string]string{"status": "ok"})

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
}

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSONError(w, `bad "input"`, http.StatusBadRequest)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "error" || body["error"] != `bad "input"` {
		t.Errorf("body = %v", body)
	}
}

func TestWriteJSONStatus(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSONStatus(w, "ready")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ready"`) {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSON(w, make(chan int))
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    []string
		wantErr bool
	}{
		{"empty body", "", nil, false},
		{"ids", `{"ids":["a","b"]}`, []string{"a", "b"}, false},
		{"malformed", `{"ids":`, nil, true},
		{"wrong type", `{"ids":"a"}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var req idsRequest
			err := decodeJSON(r, &req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if strings.Join(req.IDs, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", req.IDs, tt.want)
			}
		})
	}
}

func TestBatchStatus(t *testing.T) {
	t.Parallel()

	if got := batchStatus(0); got != statusSuccess {
		t.Errorf("batchStatus(0) = %q", got)
	}
	if got := batchStatus(2); got != statusPartialSuccess {
		t.Errorf("batchStatus(2) = %q", got)
	}
}
