package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"idlechain/services/settlementd/models"
)

func testBlock(number uint64) models.Block {
	return models.Block{
		Number:            number,
		Hash:              "abc123",
		TotalReward:       1000,
		DistributedReward: 999,
		ParticipantCount:  3,
		SettledAt:         time.Date(2026, 4, 1, 0, 5, 0, 0, time.UTC),
	}
}

func TestDispatcherSignsBlockSettled(t *testing.T) {
	secret := []byte("secret")
	var (
		mu        sync.Mutex
		body      []byte
		signature string
		event     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		body, signature, event = data, r.Header.Get(SignatureHeader), r.Header.Get(EventHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, secret)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	if err := dispatcher.BlockSettled(context.Background(), testBlock(42)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if event != string(EventBlockSettled) {
		t.Fatalf("unexpected event header %q", event)
	}
	if !Verify(secret, body, signature) {
		t.Fatalf("signature %q does not verify", signature)
	}
	var payload BlockSettledPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Number != 42 || payload.ParticipantCount != 3 || payload.DeliveryID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, 10*time.Millisecond, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	if err := dispatcher.BlockSettled(context.Background(), testBlock(1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(2, time.Millisecond, time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	_ = dispatcher.BlockSettled(context.Background(), testBlock(1))
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	dispatcher, err := NewDispatcher("http://127.0.0.1:1", []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := dispatcher.BlockSettled(context.Background(), testBlock(1)); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("s")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://example.invalid", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}
