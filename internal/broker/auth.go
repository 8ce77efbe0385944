package broker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Auth signs outgoing requests with HMAC-SHA256 over
// timestamp+method+path[+body], replacing the teacher's EIP-712 wallet
// signature with a vendor-agnostic API-key/secret signer — this module has
// no on-chain counterparty to authenticate against.
type Auth struct {
	apiKey    string
	secret    string // base64-encoded signing secret
}

// NewAuth creates an Auth from an API key and base64 secret.
func NewAuth(apiKey, secret string) *Auth {
	return &Auth{apiKey: apiKey, secret: secret}
}

// Headers computes the signed headers for one request.
func (a *Auth) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.sign(timestamp, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"X-API-KEY":   a.apiKey,
		"X-SIGNATURE": sig,
		"X-TIMESTAMP": timestamp,
	}, nil
}

func (a *Auth) sign(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", err
	}

	message := timestamp + method + path + body
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
