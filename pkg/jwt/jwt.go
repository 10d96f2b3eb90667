package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/duvallglobal/theportal-sub000/pkg/errcode"
)

// Claims represents the session token claims issued by the portal API
type Claims struct {
	UserId     string `json:"user_id"`
	PlatformId int    `json:"platform_id"`
	jwt.RegisteredClaims
}

// Inspect parses a session token without verifying its signature.
// The client does not hold the signing secret; the server remains the
// authority. Inspect only extracts the claims so the engine can learn
// its own user id and reject an obviously expired credential before
// dialing.
func Inspect(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errcode.ErrTokenMissing
	}

	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}

	return &claims, nil
}

// CheckNotExpired returns ErrTokenExpired when the token carries an
// expiry in the past.
func CheckNotExpired(claims *Claims, now time.Time) error {
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(now) {
		return errcode.ErrTokenExpired
	}
	return nil
}
