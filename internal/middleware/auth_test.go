package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOperatorAuth_WithValidCookie(t *testing.T) {
	m := NewOperatorAuth("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetOperatorIDFromContext(r.Context())
		if !ok {
			t.Fatalf("operator id not in context")
		}
		if id != "op-42" {
			t.Fatalf("operator id from context = %q, want op-42", id)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/swap/resolve", nil)

	m.SetOperatorCookie(w, "op-42")
	resCookies := w.Result().Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetOperatorCookie")
	}
	r.AddCookie(resCookies[0])

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestOperatorAuth_WithHeader(t *testing.T) {
	m := NewOperatorAuth("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	r := httptest.NewRequest(http.MethodGet, "/api/swap/resolve", nil)
	r.Header.Set(OperatorHeader, m.Sign("station-7"))

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestOperatorAuth_Rejects(t *testing.T) {
	m := NewOperatorAuth("test-secret")
	other := NewOperatorAuth("other-secret")

	tests := []struct {
		name  string
		token string
	}{
		{name: "no token", token: ""},
		{name: "foreign secret", token: other.Sign("op-1")},
		{name: "tampered id", token: "op-2" + m.Sign("op-1")[len("op-1"):]},
		{name: "no signature", token: "op-1."},
		{name: "garbage", token: "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/swap/resolve", nil)
			if tt.token != "" {
				r.Header.Set(OperatorHeader, tt.token)
			}

			m.Middleware(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}
