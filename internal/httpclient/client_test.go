package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/formbricks/webhook-engine/internal/engine"
)

func TestClient_Post_SendsHeadersAndBody(t *testing.T) {
	var gotBody string
	var gotHeader string
	var gotDeliveryID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotHeader = r.Header.Get("X-Custom")
		gotDeliveryID = r.Header.Get("X-Webhook-Delivery-Id")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(2 * time.Second)
	resp, err := client.Post(context.Background(), engine.HTTPRequest{
		URL:     server.URL,
		Body:    "hello",
		Headers: []engine.Header{{Name: "X-Custom", Value: "value"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if gotBody != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", gotBody)
	}
	if gotHeader != "value" {
		t.Fatalf("expected custom header to be forwarded, got %q", gotHeader)
	}
	if gotDeliveryID == "" {
		t.Fatal("expected a delivery id header to be set")
	}
}

func TestClient_Post_NonOKStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(time.Second)
	resp, err := client.Post(context.Background(), engine.HTTPRequest{URL: server.URL, Body: "x"})
	if err != nil {
		t.Fatalf("a non-2xx status should not be a transport error: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestClient_Post_TransportFailureIsAnError(t *testing.T) {
	client := New(50 * time.Millisecond)
	_, err := client.Post(context.Background(), engine.HTTPRequest{URL: "http://127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected a transport error for an unreachable address")
	}
}
