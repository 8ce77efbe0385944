package broker

import (
	"encoding/base64"
	"testing"
)

func TestHeadersIncludesExpectedKeys(t *testing.T) {
	t.Parallel()
	secret := base64.URLEncoding.EncodeToString([]byte("supersecret"))
	a := NewAuth("key1", secret)

	headers, err := a.Headers("POST", "/orders", `{"symbol":"AAPL"}`)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if headers["X-API-KEY"] != "key1" {
		t.Errorf("X-API-KEY = %q, want key1", headers["X-API-KEY"])
	}
	if headers["X-SIGNATURE"] == "" {
		t.Error("expected a non-empty signature")
	}
	if headers["X-TIMESTAMP"] == "" {
		t.Error("expected a non-empty timestamp")
	}
}

func TestHeadersSignatureIsDeterministicForSameSecondAndBody(t *testing.T) {
	t.Parallel()
	secret := base64.URLEncoding.EncodeToString([]byte("supersecret"))
	a := NewAuth("key1", secret)

	sig1, err := a.sign("1234567890", "POST", "/orders", "body")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig2, err := a.sign("1234567890", "POST", "/orders", "body")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig1 != sig2 {
		t.Error("expected identical signatures for identical inputs")
	}

	sig3, err := a.sign("1234567890", "POST", "/orders", "different body")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig1 == sig3 {
		t.Error("expected different signatures for different bodies")
	}
}

func TestHeadersRejectsUndecodableSecret(t *testing.T) {
	t.Parallel()
	a := NewAuth("key1", "not base64 at all !!!")

	if _, err := a.Headers("POST", "/orders", "body"); err == nil {
		t.Error("expected an error for an undecodable secret")
	}
}
