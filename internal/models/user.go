package models

// Profile of the authenticated user as returned by the identity service
type UserProfile struct {
	ID               int64  `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	FullName         string `json:"fullName"`
	EmailVerified    bool   `json:"emailVerified"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

// Fields submitted at registration
// Kept in memory only, so the verification code resend may replay the registration call
type PendingRegistration struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required"`
	FullName string `json:"fullName" validate:"required"`
	Password string `json:"password" validate:"required"`
}
