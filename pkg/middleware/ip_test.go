package middleware

import (
	"testing"

	"github.com/Suhaibinator/SDispatch/pkg/common"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		config     *IPConfig
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "x-forwarded-for first address",
			config:     DefaultIPConfig(),
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"},
			remoteAddr: "10.0.0.2:5000",
			want:       "203.0.113.5",
		},
		{
			name:       "x-forwarded-for missing falls back",
			config:     DefaultIPConfig(),
			remoteAddr: "10.0.0.2:5000",
			want:       "10.0.0.2",
		},
		{
			name:       "x-real-ip",
			config:     &IPConfig{Source: IPSourceXRealIP, TrustProxy: true},
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			remoteAddr: "10.0.0.2:5000",
			want:       "203.0.113.9",
		},
		{
			name:       "custom header",
			config:     &IPConfig{Source: IPSourceCustomHeader, CustomHeader: "CF-Connecting-IP", TrustProxy: true},
			headers:    map[string]string{"CF-Connecting-IP": "198.51.100.7"},
			remoteAddr: "10.0.0.2:5000",
			want:       "198.51.100.7",
		},
		{
			name:       "untrusted proxy ignores headers",
			config:     &IPConfig{Source: IPSourceXForwardedFor, TrustProxy: false},
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			remoteAddr: "10.0.0.2:5000",
			want:       "10.0.0.2",
		},
		{
			name:       "ipv6 with port",
			config:     &IPConfig{Source: IPSourceRemoteAddr},
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "bare ipv6",
			config:     &IPConfig{Source: IPSourceXRealIP, TrustProxy: true},
			headers:    map[string]string{"X-Real-IP": "2001:db8::2"},
			remoteAddr: "10.0.0.2:5000",
			want:       "2001:db8::2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, "GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := extractClientIP(req, tt.config); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	var seen string
	h := Chain(ClientIPMiddleware(nil)).Build(func(r *common.Request) *common.Response {
		seen = ClientIP(r)
		return okHandler(r)
	})

	req := newRequest(t, "GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	h(req)
	if seen != "203.0.113.5" {
		t.Errorf("Expected client IP 203.0.113.5, got %q", seen)
	}

	if got := ClientIP(newRequest(t, "GET", "/", nil)); got != "" {
		t.Errorf("Expected empty client IP without the layer, got %q", got)
	}
}
