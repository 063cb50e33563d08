package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kisan-backend/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPasswords(t *testing.T) {
	_, err := HashPassword("short")
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = HashPassword(strings.Repeat("k", MaxPasswordLength+1))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = HashPassword(strings.Repeat("k", MaxPasswordLength))
	require.NoError(t, err)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
}

func TestIssueAndParse(t *testing.T) {
	iss := NewIssuer("test-secret", time.Hour)
	user := domain.User{ID: 42, Name: "Ramesh", Role: domain.RoleExpert}

	tok, exp, err := iss.Issue(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := iss.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID())
	assert.Equal(t, domain.RoleExpert, claims.Role)
	assert.Equal(t, domain.Actor{ID: 42, Role: domain.RoleExpert}, claims.Actor())
	assert.NotEmpty(t, claims.ID)
}

func TestParse_Rejects(t *testing.T) {
	iss := NewIssuer("test-secret", time.Hour)
	tok, _, err := iss.Issue(domain.User{ID: 1, Role: domain.RoleFarmer})
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewIssuer("other", time.Hour).Parse(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewIssuer("test-secret", time.Hour)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Parse(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("alg none", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
			Role:             domain.RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{Subject: "1"},
		})
		s, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = iss.Parse(s)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := iss.Parse("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestMiddleware(t *testing.T) {
	iss := NewIssuer("test-secret", time.Hour)
	farmerTok, _, _ := iss.Issue(domain.User{ID: 7, Role: domain.RoleFarmer})

	protected := iss.Middleware(RequireRole("admin", "expert")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	open := iss.Middleware(Required(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := FromContext(r.Context())
		assert.Equal(t, int64(7), c.UserID())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name    string
		handler http.Handler
		header  string
		want    int
	}{
		{"anonymous to authenticated route", open, "", http.StatusUnauthorized},
		{"valid token", open, "Bearer " + farmerTok, http.StatusNoContent},
		{"lowercase scheme", open, "bearer " + farmerTok, http.StatusNoContent},
		{"bad token", open, "Bearer nope", http.StatusUnauthorized},
		{"wrong role", protected, "Bearer " + farmerTok, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
