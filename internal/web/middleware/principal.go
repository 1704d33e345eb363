// Package middleware provides HTTP middleware for the web server.
package middleware

import (
	"context"
	"net/http"
)

type ctxKey int

const principalKey ctxKey = iota

// Principal extracts the submitting principal from the X-User-ID header
// and stores it in the request context. Authentication itself happens
// upstream (gateway or session layer); this service only needs the
// resulting identity to stamp ownership on new uploads and to filter
// listings. Requests without the header proceed as anonymous.
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-User-ID"); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), principalKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFrom returns the principal stored by Principal, or the empty
// string for anonymous requests.
func PrincipalFrom(ctx context.Context) string {
	id, _ := ctx.Value(principalKey).(string)
	return id
}
