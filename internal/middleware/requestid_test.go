package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
)

var uuidV4 = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func serveWithRequestID(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var fromCtx string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = GetRequestID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, fromCtx
}

func TestRequestID_MintsUUIDv4(t *testing.T) {
	rec, fromCtx := serveWithRequestID(t, httptest.NewRequest("GET", "/v1/recommendations/fp-1", nil))

	if !uuidV4.MatchString(fromCtx) {
		t.Fatalf("context ID %q is not a v4 UUID", fromCtx)
	}
	if got := rec.Header().Get("X-Request-ID"); got != fromCtx {
		t.Errorf("response header = %q, context ID = %q", got, fromCtx)
	}
}

func TestRequestID_ClientIDPassesThrough(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/recommendations/fp-1", nil)
	req.Header.Set("X-Request-ID", "client-chosen-id")

	rec, fromCtx := serveWithRequestID(t, req)

	if fromCtx != "client-chosen-id" {
		t.Errorf("context ID = %q, want client-chosen-id", fromCtx)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "client-chosen-id" {
		t.Errorf("response header = %q, want client-chosen-id", got)
	}
}

func TestRequestID_MintedIDWrittenToRequestHeader(t *testing.T) {
	var onRequest string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		onRequest = r.Header.Get("X-Request-ID")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if onRequest == "" {
		t.Fatal("minted ID was not written back to the request header")
	}
	if got := rec.Header().Get("X-Request-ID"); got != onRequest {
		t.Errorf("response header = %q, request header = %q", got, onRequest)
	}
}

func TestRequestID_DistinctAcrossRequests(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		id := rec.Header().Get("X-Request-ID")
		if _, dup := seen[id]; dup {
			t.Fatalf("ID %q issued twice", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGetRequestID_BareContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("GetRequestID on a bare context = %q, want empty", id)
	}
}
