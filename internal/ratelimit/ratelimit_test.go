package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIdentity(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		ip     string
		want   string
	}{
		{"prefers user id", "u1", "10.0.0.1", "u1"},
		{"falls back to ip", "", "10.0.0.1", "10.0.0.1"},
		{"falls back to anonymous", "", "", "anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Identity(tt.userID, tt.ip); got != tt.want {
				t.Errorf("Identity(%q, %q) = %q, want %q", tt.userID, tt.ip, got, tt.want)
			}
		})
	}
}

func TestClientIP_HeaderPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "cf-connecting-ip wins",
			headers: map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Real-IP": "2.2.2.2", "X-Forwarded-For": "3.3.3.3"},
			want:    "1.1.1.1",
		},
		{
			name:    "x-real-ip next",
			headers: map[string]string{"X-Real-IP": "2.2.2.2", "X-Forwarded-For": "3.3.3.3"},
			want:    "2.2.2.2",
		},
		{
			name:    "x-forwarded-for takes first entry",
			headers: map[string]string{"X-Forwarded-For": "3.3.3.3, 4.4.4.4"},
			want:    "3.3.3.3",
		},
		{
			name:    "no headers",
			headers: map[string]string{},
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheck_UnknownRouteAlwaysAllowed(t *testing.T) {
	l := NewLimiter(nil, map[string]Policy{}, nil)

	result, err := l.Check(nil, "/api/unconfigured", "u1", true, false)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Allowed = false, want true for a route with no configured policy")
	}
}
