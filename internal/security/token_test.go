package security

import (
	"net/http/httptest"
	"testing"
)

func TestTokenGuardDisabledAllowsAll(t *testing.T) {
	guard := TokenGuard{Enabled: false}
	req := httptest.NewRequest("GET", "/v1/state", nil)
	if !guard.Allow(req) {
		t.Error("disabled guard should allow requests without a token")
	}
}

func TestTokenGuardEnabled(t *testing.T) {
	guard := TokenGuard{Enabled: true, Token: "s3cret"}

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"no header", "", false},
		{"wrong scheme", "Basic s3cret", false},
		{"wrong token", "Bearer nope", false},
		{"length mismatch", "Bearer s3cret-extra", false},
		{"exact", "Bearer s3cret", true},
		{"padded", "Bearer   s3cret  ", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/state", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if got := guard.Allow(req); got != tc.want {
				t.Errorf("Allow = %v, want %v", got, tc.want)
			}
		})
	}
}
