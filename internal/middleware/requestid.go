package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

// headerRequestID is the header carrying the request correlation ID.
const headerRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestID assigns a correlation ID to every request. A client-supplied
// X-Request-ID passes through unchanged; otherwise a fresh UUIDv4 is minted
// and written back onto the request header so upstream fetches carry it.
// The ID is mirrored onto the response and retrievable via GetRequestID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = newRequestID()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the correlation ID stored by RequestID, or the empty
// string when the request never passed through the middleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// uuidGroups is the byte width of each dash-separated UUID segment.
var uuidGroups = [...]int{4, 2, 2, 2, 6}

// newRequestID mints a random UUIDv4.
func newRequestID() string {
	var raw [16]byte
	_, _ = rand.Read(raw[:])
	raw[6] = raw[6]&0x0f | 0x40
	raw[8] = raw[8]&0x3f | 0x80

	out := make([]byte, 0, 36)
	off := 0
	for i, n := range uuidGroups {
		if i > 0 {
			out = append(out, '-')
		}
		out = append(out, hex.EncodeToString(raw[off:off+n])...)
		off += n
	}
	return string(out)
}
