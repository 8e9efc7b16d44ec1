package api

import "net/http"

// Transport is an http.RoundTripper that injects the StateSet API key as
// a bearer token on every outbound request.
//
// Usage:
//
//	client := &http.Client{
//	    Transport: api.NewTransport("sk-...", nil),
//	}
type Transport struct {
	apiKey string
	base   http.RoundTripper
}

// NewTransport creates a Transport wrapping base. If base is nil,
// http.DefaultTransport is used.
func NewTransport(apiKey string, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{apiKey: apiKey, base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone before mutating; RoundTrippers must not modify the original.
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.apiKey)
	if clone.Header.Get("Content-Type") == "" {
		clone.Header.Set("Content-Type", "application/json")
	}
	return t.base.RoundTrip(clone)
}
