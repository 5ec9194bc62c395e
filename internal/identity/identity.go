// Package identity carries the pre-authenticated caller through a request.
// Authentication happens upstream; the headers are trusted as given.
package identity

import (
	"context"
	"net/http"
	"strings"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"
)

const (
	RolePatient   = "patient"
	RoleAssistant = "assistant"
	RoleDoctor    = "doctor"
	RoleAdmin     = "admin"
)

type contextKey string

const callerKey contextKey = "caller"

type Caller struct {
	UserID string
	Role   string
}

// IsStaff reports whether the caller may run the queue and manage blocks.
func (c Caller) IsStaff() bool {
	switch c.Role {
	case RoleAssistant, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

func FromRequest(r *http.Request) Caller {
	return Caller{
		UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role:   strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole))),
	}
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// FromContext returns the caller stored by WithCaller, or an anonymous one.
func FromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey).(Caller); ok {
		return c
	}
	return Caller{}
}

// Middleware stores the caller from the trusted headers on the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), FromRequest(r))))
	})
}
