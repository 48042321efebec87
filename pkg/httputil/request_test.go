package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "X-Forwarded-For single entry",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.1"},
			want:    "203.0.113.1",
		},
		{
			name:    "X-Forwarded-For chain takes first",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1, 10.0.0.2"},
			want:    "203.0.113.1",
		},
		{
			name: "X-Forwarded-For wins over X-Real-IP",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.195",
				"X-Real-IP":       "198.51.100.1",
			},
			want: "203.0.113.195",
		},
		{
			name:    "X-Real-IP fallback",
			headers: map[string]string{"X-Real-IP": "198.51.100.42"},
			want:    "198.51.100.42",
		},
		{
			name:    "CF-Connecting-IP fallback",
			headers: map[string]string{"CF-Connecting-IP": "198.51.100.7"},
			want:    "198.51.100.7",
		},
		{
			name:    "X-Client-IP fallback",
			headers: map[string]string{"X-Client-IP": "198.51.100.9"},
			want:    "198.51.100.9",
		},
		{
			name:   "remote addr when no headers",
			remote: "192.0.2.4:51234",
			want:   "192.0.2.4",
		},
		{
			name:    "empty X-Forwarded-For falls back",
			headers: map[string]string{"X-Forwarded-For": "", "X-Real-IP": "198.51.100.42"},
			want:    "198.51.100.42",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.remote != "" {
				req.RemoteAddr = tt.remote
			}
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25", nil)

	val, err := ParseQueryInt(req, "limit", 50)
	assert.NoError(t, err)
	assert.Equal(t, 25, val)

	val, err = ParseQueryInt(req, "offset", 10)
	assert.NoError(t, err)
	assert.Equal(t, 10, val)

	req = httptest.NewRequest(http.MethodGet, "/?limit=abc", nil)
	_, err = ParseQueryInt(req, "limit", 50)
	assert.Error(t, err)
}
