package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func protected(secret string) http.Handler {
	return WebhookAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := GetClaims(r); c != nil {
			w.Header().Set("X-Source", c.Source)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestWebhookAuth(t *testing.T) {
	good, err := Sign("s3cret", "make", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Source:           "make",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	staleStr, _ := stale.SignedString([]byte("s3cret"))
	forged, _ := Sign("other", "make", time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Source: "make"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"valid header", "Bearer " + good, "", http.StatusOK},
		{"valid query", "", good, http.StatusOK},
		{"expired", "Bearer " + staleStr, "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, "", http.StatusUnauthorized},
		{"alg none", "Bearer " + none, "", http.StatusUnauthorized},
	}
	h := protected("s3cret")
	for _, c := range cases {
		target := "/hook"
		if c.query != "" {
			target += "?token=" + c.query
		}
		r := httptest.NewRequest(http.MethodPost, target, nil)
		if c.header != "" {
			r.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != c.want {
			t.Fatalf("%s: expected %d, got %d", c.name, c.want, rec.Code)
		}
		if c.want == http.StatusOK && rec.Header().Get("X-Source") != "make" {
			t.Fatalf("%s: expected claims in context", c.name)
		}
	}
}

func TestWebhookAuth_DisabledWithoutSecret(t *testing.T) {
	rec := httptest.NewRecorder()
	protected("").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hook", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected passthrough, got %d", rec.Code)
	}
}
