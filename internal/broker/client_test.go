package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tradecore/pkg/types"
)

func TestSubmitOrderSucceedsOnOK(t *testing.T) {
	t.Parallel()
	var received OrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") == "" {
			t.Error("expected X-API-KEY header to be set")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	secret := base64.URLEncoding.EncodeToString([]byte("supersecret"))
	c := NewClient(srv.URL, NewAuth("key1", secret))

	err := c.Submit(context.Background(), "ord1", "AAPL", types.Buy, 10, types.OrderTypeMarket, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if received.OrderID != "ord1" || received.Symbol != "AAPL" {
		t.Errorf("received request = %+v, want order_id=ord1 symbol=AAPL", received)
	}
}

func TestSubmitOrderFailsOnNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad symbol"))
	}))
	defer srv.Close()

	secret := base64.URLEncoding.EncodeToString([]byte("supersecret"))
	c := NewClient(srv.URL, NewAuth("key1", secret))
	// Disable retries so the 4xx test doesn't pay the retry backoff.
	c.http.SetRetryCount(0)

	err := c.Submit(context.Background(), "ord2", "AAPL", types.Buy, 10, types.OrderTypeMarket, 0)
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
}
