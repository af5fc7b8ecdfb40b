package models

type ChallengeKind string

const (
	ChallengeNone      ChallengeKind = "NONE"
	ChallengeEmailCode ChallengeKind = "EMAIL_CODE"
	ChallengeApp2FA    ChallengeKind = "APP_2FA"
)

// Server issued requirement for additional verification before a session is granted
// Lives only between credential submission and its resolution, never persisted
type Challenge struct {
	Kind   ChallengeKind `json:"kind"`
	UserID int64         `json:"userId"`
}

// Required reports whether the challenge asks for any verification at all
func (c Challenge) Required() bool {
	return c.Kind == ChallengeEmailCode || c.Kind == ChallengeApp2FA
}
