package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/record"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   []byte
}

func newTestServer(t *testing.T, status int, reply string) (*httptest.Server, *recordedRequest) {
	t.Helper()

	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		rec.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestApplyCreate(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusCreated, `{}`)
	c := NewClient(srv.URL, "secret-token", 5*time.Second)

	payload, _ := json.Marshal(map[string]string{"id": "s1", "status": "completed"})
	if err := c.Apply(context.Background(), record.Sales, queue.OpCreate, payload); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if rec.method != http.MethodPost {
		t.Errorf("Expected POST, got %s", rec.method)
	}
	if rec.path != "/v1/sales" {
		t.Errorf("Expected /v1/sales, got %s", rec.path)
	}
	if rec.auth != "Bearer secret-token" {
		t.Errorf("Expected bearer auth, got %q", rec.auth)
	}
	if string(rec.body) != string(payload) {
		t.Errorf("Payload not forwarded verbatim: %s", rec.body)
	}
}

func TestApplyUpdate(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{}`)
	c := NewClient(srv.URL, "", 5*time.Second)

	payload, _ := json.Marshal(map[string]string{"id": "p9", "name": "Pen"})
	if err := c.Apply(context.Background(), record.Products, queue.OpUpdate, payload); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if rec.method != http.MethodPut {
		t.Errorf("Expected PUT, got %s", rec.method)
	}
	if rec.path != "/v1/products/p9" {
		t.Errorf("Expected /v1/products/p9, got %s", rec.path)
	}
	if rec.auth != "" {
		t.Errorf("Expected no auth header without a token, got %q", rec.auth)
	}
}

func TestApplyDelete(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusNoContent, "")
	c := NewClient(srv.URL, "", 5*time.Second)

	payload, _ := json.Marshal(map[string]string{"id": "c3"})
	if err := c.Apply(context.Background(), record.Customers, queue.OpDelete, payload); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if rec.method != http.MethodDelete {
		t.Errorf("Expected DELETE, got %s", rec.method)
	}
	if rec.path != "/v1/customers/c3" {
		t.Errorf("Expected /v1/customers/c3, got %s", rec.path)
	}
	if len(rec.body) != 0 {
		t.Errorf("Delete must not carry a body, got %s", rec.body)
	}
}

func TestApplyReturnsAPIError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusConflict, `{"error":"duplicate"}`)
	c := NewClient(srv.URL, "", 5*time.Second)

	payload, _ := json.Marshal(map[string]string{"id": "s1"})
	err := c.Apply(context.Background(), record.Sales, queue.OpCreate, payload)
	if err == nil {
		t.Fatal("Expected error for 409 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", apiErr.StatusCode)
	}
	if apiErr.Body == "" {
		t.Error("Expected response body captured in the error")
	}
}

func TestApplyRejectsPayloadWithoutID(t *testing.T) {
	c := NewClient("http://localhost:0", "", 5*time.Second)

	if err := c.Apply(context.Background(), record.Sales, queue.OpUpdate, []byte(`{"name":"x"}`)); err == nil {
		t.Error("Expected error for update payload without id")
	}
	if err := c.Apply(context.Background(), record.Sales, queue.OpDelete, []byte(`not json`)); err == nil {
		t.Error("Expected error for unparseable payload")
	}
}

func TestApplyUnknownOperation(t *testing.T) {
	c := NewClient("http://localhost:0", "", 5*time.Second)
	if err := c.Apply(context.Background(), record.Sales, "merge", nil); err == nil {
		t.Error("Expected error for unknown operation")
	}
}
