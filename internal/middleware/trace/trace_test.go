package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareAssignsRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "none", incoming: ""},
		{name: "valid incoming", incoming: "abc-123_X", keep: true},
		{name: "invalid incoming", incoming: "bad id\n"},
		{name: "too long", incoming: strings.Repeat("a", 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = FromRequest(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" || rec.Header().Get(HeaderRequestID) != seen {
				t.Fatalf("request id %q, header %q", seen, rec.Header().Get(HeaderRequestID))
			}
			if tt.keep != (seen == tt.incoming) {
				t.Fatalf("keep=%v but got %q for incoming %q", tt.keep, seen, tt.incoming)
			}
		})
	}
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	if a == b || !strings.HasPrefix(a, "req_") || len(a) != 20 {
		t.Fatalf("ids %q %q", a, b)
	}
	if GetRequestID(context.Background()) != "" {
		t.Fatal("empty context should have no id")
	}
}
