package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
	}
	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		assert.Equal(t, tt.token, token, tt.header)
		assert.Equal(t, tt.wantErr, errMsg != "", tt.header)
	}
}

func TestMiddleware(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	viewer, err := verifier.Generate("ops-bob", RoleViewer, time.Hour)
	require.NoError(t, err)
	admin, err := verifier.Generate("ops-alice", RoleAdmin, time.Hour)
	require.NoError(t, err)

	var seen *Operator
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	read := Middleware(verifier)(ok)
	write := Middleware(verifier)(RequireAdmin(ok))

	do := func(h http.Handler, token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/0xABC", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(read, ""))
	assert.Equal(t, http.StatusUnauthorized, do(read, "garbage"))

	assert.Equal(t, http.StatusNoContent, do(read, viewer))
	assert.Equal(t, &Operator{Name: "ops-bob", Role: RoleViewer}, seen)

	assert.Equal(t, http.StatusForbidden, do(write, viewer))
	assert.Equal(t, http.StatusNoContent, do(write, admin))
	assert.True(t, seen.IsAdmin())
}

func TestFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, FromContext(req.Context()))
	assert.False(t, FromContext(req.Context()).IsAdmin())
}
