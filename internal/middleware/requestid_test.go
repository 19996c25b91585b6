package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "missing", incoming: "", keep: false},
		{name: "client id", incoming: "req-42.abc", keep: true},
		{name: "too long", incoming: strings.Repeat("a", maxRequestIDLength+1), keep: false},
		{name: "whitespace", incoming: "req 42", keep: false},
		{name: "control bytes", incoming: "req\x01", keep: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			})
			req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
			if tc.incoming != "" {
				req.Header.Set(RequestIDHeader, tc.incoming)
			}
			rec := httptest.NewRecorder()
			RequestID(next).ServeHTTP(rec, req)

			echoed := rec.Header().Get(RequestIDHeader)
			if echoed != seen {
				t.Fatalf("response id %q differs from context id %q", echoed, seen)
			}
			if tc.keep {
				if seen != tc.incoming {
					t.Fatalf("id = %q, want client id %q", seen, tc.incoming)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("expected generated uuid, got %q", seen)
			}
		})
	}
}
