package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareStoresCaller(t *testing.T) {
	var got Caller
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, " u-42 ")
	req.Header.Set(HeaderRole, "Doctor")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.UserID != "u-42" || got.Role != RoleDoctor {
		t.Fatalf("unexpected caller: %+v", got)
	}
	if !got.IsStaff() {
		t.Fatal("doctor should be staff")
	}
}

func TestIsStaff(t *testing.T) {
	tests := []struct {
		role string
		want bool
	}{
		{RoleAssistant, true},
		{RoleDoctor, true},
		{RoleAdmin, true},
		{RolePatient, false},
		{"", false},
		{"janitor", false},
	}
	for _, tt := range tests {
		if got := (Caller{Role: tt.role}).IsStaff(); got != tt.want {
			t.Errorf("role %q: got %t, want %t", tt.role, got, tt.want)
		}
	}
}

func TestFromContextAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if c := FromContext(req.Context()); c.UserID != "" || c.IsStaff() {
		t.Fatalf("expected anonymous caller, got %+v", c)
	}
}
