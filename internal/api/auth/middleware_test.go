package auth

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordAuth(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[status]++
}

func (r *countingRecorder) get(status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[status]
}

func newTokenService(t *testing.T, token string) *TokenService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := NewTokenService(string(hash))
	require.NoError(t, err)
	return svc
}

func TestTokenService(t *testing.T) {
	t.Parallel()

	svc := newTokenService(t, "s3cret")
	assert.True(t, svc.IsAuthRequired())
	require.NoError(t, svc.ValidateToken("s3cret"))
	require.NoError(t, svc.ValidateToken("s3cret"), "cached token still validates")
	require.ErrorIs(t, svc.ValidateToken("wrong"), ErrInvalidToken)
	require.ErrorIs(t, svc.ValidateToken(""), ErrInvalidToken)

	disabled, err := NewTokenService("")
	require.NoError(t, err)
	assert.False(t, disabled.IsAuthRequired())
	assert.NoError(t, disabled.ValidateToken(""))

	_, err = NewTokenService("not-a-hash")
	assert.Error(t, err)
}

func TestMiddleware_Authenticate(t *testing.T) {
	t.Parallel()

	svc := newTokenService(t, "s3cret")

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantLabel  string
	}{
		{name: "valid", header: "Bearer s3cret", wantStatus: http.StatusOK, wantLabel: StatusSuccess},
		{name: "case_insensitive_scheme", header: "bearer s3cret", wantStatus: http.StatusOK, wantLabel: StatusSuccess},
		{name: "missing", header: "", wantStatus: http.StatusUnauthorized, wantLabel: StatusMissing},
		{name: "wrong_scheme", header: "Basic czNjcmV0", wantStatus: http.StatusUnauthorized, wantLabel: StatusInvalid},
		{name: "wrong_token", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantLabel: StatusInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recorder := &countingRecorder{}
			mw := NewMiddleware(svc, recorder)

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", http.NoBody)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := mw.Authenticate(func(c echo.Context) error {
				assert.Equal(t, true, c.Get(CtxKeyIsAuthenticated))
				assert.Equal(t, AuthMethodToken, c.Get(CtxKeyAuthMethod))
				return c.NoContent(http.StatusOK)
			})(c)

			if tt.wantStatus == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, rec.Code)
			} else {
				var he *echo.HTTPError
				require.ErrorAs(t, err, &he)
				assert.Equal(t, tt.wantStatus, he.Code)
				assert.Contains(t, rec.Header().Get(echo.HeaderWWWAuthenticate), "Bearer")
			}
			assert.Equal(t, 1, recorder.get(tt.wantLabel))
		})
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	svc, err := NewTokenService("")
	require.NoError(t, err)
	recorder := &countingRecorder{}
	mw := NewMiddleware(svc, recorder)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", http.NoBody), rec)

	called := false
	require.NoError(t, mw.Authenticate(func(c echo.Context) error {
		called = true
		assert.Equal(t, AuthMethodNone, c.Get(CtxKeyAuthMethod))
		return nil
	})(c))
	assert.True(t, called)
	assert.Zero(t, recorder.get(StatusSuccess))
}
