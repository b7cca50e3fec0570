package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperbridge/dmabridge/pkg/session"
)

func testMinter(t *testing.T) *session.Minter {
	t.Helper()
	m, err := session.NewMinter(session.Config{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)
	return m
}

func TestJWTAuthRejectsMissingHeader(t *testing.T) {
	minter := testMinter(t)
	handler := JWTAuth(minter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a token")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	minter := testMinter(t)
	ref, err := minter.Mint(5)
	require.NoError(t, err)

	var gotClaims *session.Claims
	handler := JWTAuth(minter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+ref.Token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, gotClaims)
	assert.Equal(t, uint32(5), gotClaims.OwnerVM)
}

func TestJWTAuthRejectsMalformedToken(t *testing.T) {
	minter := testMinter(t)
	handler := JWTAuth(minter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for a bad token")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequirePeerVMRejectsMismatch(t *testing.T) {
	minter := testMinter(t)
	ref, err := minter.Mint(5)
	require.NoError(t, err)

	chain := JWTAuth(minter)(RequirePeerVM(func(r *http.Request) (uint32, bool) {
		return 9, true
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for a mismatched VM")
	})))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+ref.Token)
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
