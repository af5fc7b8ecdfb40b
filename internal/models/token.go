package models

import (
	"time"
)

// Token pair issued by the identity service on login or verification
// Both halves are required: a pair with one half missing is no pair at all
type TokenPair struct {
	Access  string `json:"accessToken"`
	Refresh string `json:"refreshToken"`
}

// Complete reports whether both halves are present and non-empty
func (p TokenPair) Complete() bool {
	return p.Access != "" && p.Refresh != ""
}

// Decoded access token payload. Signature is not verified on the client
type AccessClaims struct {
	ExpiresAt time.Time
	UserID    int64
}
