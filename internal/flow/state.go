package flow

import (
	"fmt"
	"math"
	"time"

	"github.com/nkiryanov/authsession/internal/apperrors"
)

type State string

const (
	StateCredentialsEntry  State = "CREDENTIALS_ENTRY"
	StateRegistrationEntry State = "REGISTRATION_ENTRY"
	StateAwaitEmailCode    State = "AWAIT_EMAIL_CODE"
	StateAwaitAppCode      State = "AWAIT_APP_CODE"
	StateTokenFromLink     State = "TOKEN_FROM_LINK"
	StateValidate          State = "VALIDATE"
	StateResetForm         State = "RESET_FORM"
	StateErrorTerminal     State = "ERROR_TERMINAL"
	StateDone              State = "DONE"
)

// Action the user may take next
type Action string

const (
	ActionLogin    Action = "login"
	ActionRegister Action = "register"
	ActionSubmit   Action = "submit"
	ActionRetry    Action = "retry"
	ActionResend   Action = "resend"
	ActionRestart  Action = "restart"
)

// Every state except DONE offers a way forward
var stateActions = map[State][]Action{
	StateCredentialsEntry:  {ActionLogin, ActionRegister},
	StateRegistrationEntry: {ActionRegister, ActionRestart},
	StateAwaitEmailCode:    {ActionSubmit, ActionRestart},
	StateAwaitAppCode:      {ActionSubmit, ActionRestart},
	StateTokenFromLink:     {ActionRetry, ActionRestart},
	StateValidate:          {ActionRetry, ActionRestart},
	StateResetForm:         {ActionSubmit, ActionRestart},
	StateErrorTerminal:     {ActionRestart},
	StateDone:              nil,
}

type path int

const (
	pathLogin path = iota
	pathRegistration
	pathReset
)

// CooldownError rejects resend issued too early, nothing was sent
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("code was sent recently, try again in %d seconds", e.Seconds())
}

// Seconds left, rounded up
func (e *CooldownError) Seconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

func (e *CooldownError) Unwrap() error {
	return apperrors.ErrCooldown
}
