// Package tokencodec reads the access token payload on the client side.
//
// Signature is never verified here: that is the identity service's job.
// The client only needs expiry and subject to decide when to refresh.
package tokencodec

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nkiryanov/authsession/internal/models"
)

// Access token is renewed this long before its real expiry,
// so a request started just before expiry does not observe it expired mid-flight
const DefaultSkew = 30 * time.Second

var ErrDecode = errors.New("access token decode failed")

type accessClaims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"userId"`
}

var parser = jwt.NewParser()

// Decode extracts expiry and subject from the token payload
// Any malformed segment, base64 or JSON yields an error wrapping ErrDecode
func Decode(token string) (models.AccessClaims, error) {
	claims := &accessClaims{}

	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return models.AccessClaims{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if claims.ExpiresAt == nil {
		return models.AccessClaims{}, fmt.Errorf("%w: exp claim is missing", ErrDecode)
	}

	return models.AccessClaims{
		ExpiresAt: claims.ExpiresAt.Time,
		UserID:    claims.UserID,
	}, nil
}

// IsExpired reports true if the token can't be decoded or expires within DefaultSkew
func IsExpired(token string, now time.Time) bool {
	return IsExpiredWithSkew(token, now, DefaultSkew)
}

func IsExpiredWithSkew(token string, now time.Time, skew time.Duration) bool {
	claims, err := Decode(token)
	if err != nil {
		return true
	}

	return claims.ExpiresAt.Before(now.Add(skew))
}
