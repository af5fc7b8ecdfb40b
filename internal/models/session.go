package models

type SessionState string

const (
	StateAnonymous           SessionState = "ANONYMOUS"
	StatePendingVerification SessionState = "PENDING_VERIFICATION"
	StateAuthenticated       SessionState = "AUTHENTICATED"
)

// Session is derived from the stored token pair and the fetched profile, never stored itself
type Session struct {
	Authenticated bool
	User          *UserProfile
}

// Kind of token store change broadcast to other client instances
type ChangeKind string

const (
	ChangeSaved     ChangeKind = "saved"
	ChangeRefreshed ChangeKind = "refreshed"
	ChangeCleared   ChangeKind = "cleared"
)
