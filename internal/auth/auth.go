// Package auth provides venue API authentication using HMAC-SHA256
// request signing.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Credentials holds the API key and secret for signing venue requests.
// Public market-data endpoints need no credentials; historical endpoints
// on some venues do.
type Credentials struct {
	APIKey    string
	APISecret string
}

// NewCredentials builds credentials, requiring both halves or neither.
func NewCredentials(apiKey, apiSecret string) (*Credentials, error) {
	if (apiKey == "") != (apiSecret == "") {
		return nil, fmt.Errorf("api key and secret must be set together")
	}
	return &Credentials{APIKey: apiKey, APISecret: apiSecret}, nil
}

// Empty reports whether no credentials are configured.
func (c *Credentials) Empty() bool {
	return c == nil || c.APIKey == ""
}

// SignQuery appends a millisecond timestamp and an HMAC-SHA256 signature
// of the encoded query, the scheme used by Binance-style REST APIs.
func (c *Credentials) SignQuery(query url.Values) (url.Values, error) {
	if c.Empty() {
		return nil, fmt.Errorf("no credentials configured")
	}

	signed := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			signed.Add(k, v)
		}
	}
	signed.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	mac := hmac.New(sha256.New, []byte(c.APISecret))
	mac.Write([]byte(signed.Encode()))
	signed.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	return signed, nil
}

// Headers returns the authentication headers for a signed request.
func (c *Credentials) Headers() map[string]string {
	if c.Empty() {
		return nil
	}
	return map[string]string{"X-MBX-APIKEY": c.APIKey}
}
