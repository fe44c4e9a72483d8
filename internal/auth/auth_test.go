package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tandem-social/tandem/internal/auth"
)

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	verifier, err := auth.NewVerifier("secret", "tandem-identity")
	require.NoError(t, err)

	userID := uuid.New()
	token, err := verifier.Issue(userID, time.Minute)
	require.NoError(t, err)

	got, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()

	verifier, err := auth.NewVerifier("secret", "tandem-identity")
	require.NoError(t, err)

	sign := func(claims jwt.RegisteredClaims, method jwt.SigningMethod, key any) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}

	valid := jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		Issuer:    "tandem-identity",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := valid
	noExpiry.ExpiresAt = nil

	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"

	badSubject := valid
	badSubject.Subject = "alice"

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", sign(valid, jwt.SigningMethodHS256, []byte("other"))},
		{"wrong algorithm", sign(valid, jwt.SigningMethodHS512, []byte("secret"))},
		{"expired", sign(expired, jwt.SigningMethodHS256, []byte("secret"))},
		{"no expiry", sign(noExpiry, jwt.SigningMethodHS256, []byte("secret"))},
		{"wrong issuer", sign(wrongIssuer, jwt.SigningMethodHS256, []byte("secret"))},
		{"subject not a uuid", sign(badSubject, jwt.SigningMethodHS256, []byte("secret"))},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := verifier.Verify(tt.token)
			require.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	token, err := auth.BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", token)

	token, err = auth.BearerToken("bearer   xyz ")
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer  "} {
		_, err := auth.BearerToken(header)
		require.ErrorIs(t, err, auth.ErrMissingToken, header)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := auth.NewVerifier("", "")
	require.ErrorIs(t, err, auth.ErrNoSecret)
}
