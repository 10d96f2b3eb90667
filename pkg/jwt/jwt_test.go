package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duvallglobal/theportal-sub000/pkg/errcode"
)

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestInspect(t *testing.T) {
	signed := signToken(t, &Claims{
		UserId:     "alice",
		PlatformId: 5,
		RegisteredClaims: gojwt.RegisteredClaims{
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := Inspect(signed)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserId)
	assert.Equal(t, 5, claims.PlatformId)
	assert.NoError(t, CheckNotExpired(claims, time.Now()))
}

func TestInspectMissingToken(t *testing.T) {
	_, err := Inspect("")
	assert.True(t, errcode.ErrTokenMissing.Is(err))
}

func TestInspectMalformedToken(t *testing.T) {
	_, err := Inspect("not.a.token")
	require.Error(t, err)
	assert.True(t, errcode.ErrTokenInvalid.Is(err))
}

func TestCheckNotExpired(t *testing.T) {
	now := time.Now()

	expired := &Claims{RegisteredClaims: gojwt.RegisteredClaims{
		ExpiresAt: gojwt.NewNumericDate(now.Add(-time.Minute)),
	}}
	assert.True(t, errcode.ErrTokenExpired.Is(CheckNotExpired(expired, now)))

	// Tokens without an expiry are accepted; the server decides.
	assert.NoError(t, CheckNotExpired(&Claims{}, now))
}
