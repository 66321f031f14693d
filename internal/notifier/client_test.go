package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSend_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/notifications" {
			t.Fatalf("path = %s, want /api/notifications", r.URL.Path)
		}

		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Kind != KindContact || msg.Email != "maria@example.com" {
			t.Fatalf("unexpected message: %+v", msg)
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Send(ctx, Message{
		Kind:  KindContact,
		Name:  "María",
		Email: "maria@example.com",
		Body:  "hola",
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
}

func TestSend_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Send(ctx, Message{Kind: KindPaymentReceipt, Body: "x"}); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestSend_NotConfigured(t *testing.T) {
	var client *Client
	if err := client.Send(context.Background(), Message{}); err == nil {
		t.Fatalf("expected error for nil client")
	}

	empty := NewClient("")
	if err := empty.Send(context.Background(), Message{}); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}
