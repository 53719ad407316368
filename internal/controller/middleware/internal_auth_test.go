package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"execplane/pkg/api"
)

func TestRequireInternalAuth(t *testing.T) {
	const secret = "agent-shared-secret"

	tests := []struct {
		name       string
		secret     string
		header     string
		wantStatus int
	}{
		{"valid secret", secret, "Bearer " + secret, http.StatusOK},
		{"missing header", secret, "", http.StatusUnauthorized},
		{"basic scheme", secret, "Basic " + secret, http.StatusUnauthorized},
		{"bare bearer", secret, "Bearer", http.StatusUnauthorized},
		{"no scheme", secret, secret, http.StatusUnauthorized},
		{"double space", secret, "Bearer  " + secret, http.StatusUnauthorized},
		{"wrong secret", secret, "Bearer not-the-secret", http.StatusUnauthorized},
		{"secret prefix", secret, "Bearer agent-shared", http.StatusUnauthorized},
		{"unconfigured secret", "", "Bearer ", http.StatusUnauthorized},
		{"unconfigured secret with token", "", "Bearer anything", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := RequireInternalAuth(tt.secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPut, "/internal/executions/7c1e/ack", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d", rr.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("next handler called = %v", called)
			}
			if tt.wantStatus == http.StatusOK {
				return
			}

			var body api.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("expected JSON error body: %v", err)
			}
			if body.Code != "unauthorized" {
				t.Errorf("got code %q, want unauthorized", body.Code)
			}
		})
	}
}
