package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/authsession/internal/crosstab"
	"github.com/nkiryanov/authsession/internal/flow"
	"github.com/nkiryanov/authsession/internal/models"
)

var errAborted = errors.New("aborted")

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *App, args []string) error
}

var commands = []command{
	{"login", "Log in, answering verification challenge if asked", login},
	{"register", "Create account and confirm email", register},
	{"verify", "Confirm email with code received earlier", verify},
	{"whoami", "Show logged in user", whoami},
	{"balance", "Show account balances", balance},
	{"refresh", "Renew access token", refresh},
	{"logout", "Log out and forget tokens", logout},
	{"forgot", "Request password reset link", forgot},
	{"reset", "Set new password with reset link token", reset},
	{"watch", "Follow session changes made by other clients", watch},
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() string {
	var b strings.Builder
	b.WriteString("usage: authctl [global flags] <command> [command flags]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-10s %s\n", c.name, c.usage)
	}
	return b.String()
}

func flagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	return nil
}

// Ask for value when flag is empty
func orAsk(a *App, value string, label string) (string, error) {
	if value != "" {
		return value, nil
	}
	return a.Prompt.Line(label)
}

func login(ctx context.Context, a *App, args []string) error {
	fs := flagSet("login")
	email := fs.StringP("email", "u", "", "Account email")
	remember := fs.Bool("remember", false, "Keep tokens after this process exits")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	e, err := orAsk(a, *email, "Email")
	if err != nil {
		return err
	}
	password, err := a.Prompt.Secret("Password")
	if err != nil {
		return err
	}

	state, err := a.Flow.Login(ctx, e, password, *remember)
	if err != nil {
		return err
	}
	return completeCode(ctx, a, state)
}

func register(ctx context.Context, a *App, args []string) error {
	fs := flagSet("register")
	username := fs.String("username", "", "Username")
	email := fs.String("email", "", "Email")
	fullName := fs.String("full-name", "", "Full name")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var reg models.PendingRegistration
	var err error
	if reg.Username, err = orAsk(a, *username, "Username"); err != nil {
		return err
	}
	if reg.Email, err = orAsk(a, *email, "Email"); err != nil {
		return err
	}
	if reg.FullName, err = orAsk(a, *fullName, "Full name"); err != nil {
		return err
	}
	if reg.Password, err = a.Prompt.Secret("Password"); err != nil {
		return err
	}

	state, err := a.Flow.Register(ctx, reg)
	if err != nil {
		return err
	}
	a.Prompt.Printf("Verification code sent to %s\n", reg.Email)
	return completeCode(ctx, a, state)
}

// Reads codes till the challenge is resolved. 'resend' asks for a new email code, 'cancel' gives up
func completeCode(ctx context.Context, a *App, state flow.State) error {
	for state == flow.StateAwaitEmailCode || state == flow.StateAwaitAppCode {
		label := "Code from email"
		if state == flow.StateAwaitAppCode {
			label = "Code from authenticator app"
		}
		if a.Flow.CooldownRemaining() == 0 && canResend(a.Flow) {
			label += " (or 'resend')"
		}

		input, err := a.Prompt.Line(label)
		if err != nil {
			a.Flow.Abandon()
			return err
		}

		switch input {
		case "cancel":
			a.Flow.Abandon()
			return errAborted
		case "resend":
			if err := a.Flow.ResendCode(ctx); err != nil {
				a.Prompt.Printf("%s\n", userMessage(err))
				continue
			}
			a.Prompt.Printf("New code sent\n")
			continue
		}

		state, err = a.Flow.SubmitCode(ctx, input)
		if err != nil {
			a.Prompt.Printf("%s\n", userMessage(err))
		}
	}

	switch state {
	case flow.StateDone:
		a.Prompt.Printf("Logged in\n")
	case flow.StateCredentialsEntry:
		a.Prompt.Printf("Email verified, log in with 'authctl login'\n")
	}
	return nil
}

func canResend(c *flow.Controller) bool {
	return slices.Contains(c.Actions(), flow.ActionResend)
}

func verify(ctx context.Context, a *App, args []string) error {
	fs := flagSet("verify")
	email := fs.String("email", "", "Email the code was sent to")
	code := fs.String("code", "", "Code from email")
	remember := fs.Bool("remember", false, "Keep tokens after this process exits")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	e, err := orAsk(a, *email, "Email")
	if err != nil {
		return err
	}
	cd, err := orAsk(a, *code, "Code from email")
	if err != nil {
		return err
	}

	state, err := a.Flow.VerifyEmail(ctx, e, cd, *remember)
	if err != nil {
		return err
	}

	if state == flow.StateDone {
		a.Prompt.Printf("Email verified, logged in\n")
		return nil
	}
	a.Prompt.Printf("Email verified, log in with 'authctl login'\n")
	return nil
}

func whoami(ctx context.Context, a *App, _ []string) error {
	s, err := a.Session.Current(ctx)
	if err != nil {
		return err
	}

	if !s.Authenticated {
		a.Prompt.Printf("Not logged in\n")
		return nil
	}

	scope, _ := a.Store.Scope(ctx)
	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Username:\t%s\n", s.User.Username)
	fmt.Fprintf(w, "Email:\t%s\n", s.User.Email)
	fmt.Fprintf(w, "Full name:\t%s\n", s.User.FullName)
	fmt.Fprintf(w, "Email verified:\t%t\n", s.User.EmailVerified)
	fmt.Fprintf(w, "Two-factor:\t%t\n", s.User.TwoFactorEnabled)
	fmt.Fprintf(w, "Tokens kept in:\t%s\n", scope)
	return w.Flush()
}

func balance(ctx context.Context, a *App, _ []string) error {
	balances, err := a.Account.Balances(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "CURRENCY\tAVAILABLE\tLOCKED\tTOTAL\t")
	for _, b := range balances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", b.Currency, b.Available, b.Locked, b.Total())
	}
	return w.Flush()
}

func refresh(ctx context.Context, a *App, _ []string) error {
	if _, err := a.Session.Refresh(ctx); err != nil {
		return err
	}
	a.Prompt.Printf("Access token refreshed\n")
	return nil
}

func logout(ctx context.Context, a *App, _ []string) error {
	if err := a.Session.Logout(ctx); err != nil {
		return err
	}
	a.Prompt.Printf("Logged out\n")
	return nil
}

func forgot(ctx context.Context, a *App, args []string) error {
	fs := flagSet("forgot")
	email := fs.String("email", "", "Account email")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	e, err := orAsk(a, *email, "Email")
	if err != nil {
		return err
	}
	if err := a.Gateway.ForgotPassword(ctx, e); err != nil {
		return err
	}
	a.Prompt.Printf("If the email is registered, a reset link has been sent\n")
	return nil
}

func reset(ctx context.Context, a *App, args []string) error {
	fs := flagSet("reset")
	token := fs.String("token", "", "Token from reset link")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	t, err := orAsk(a, *token, "Reset token")
	if err != nil {
		return err
	}

	state, err := a.Flow.OpenResetLink(ctx, t)
	if err != nil {
		return err
	}

	for state == flow.StateResetForm {
		password, err := a.Prompt.Secret("New password")
		if err != nil {
			return err
		}

		state, err = a.Flow.ResetPassword(ctx, password)
		switch {
		case err != nil && state == flow.StateErrorTerminal:
			return err
		case err != nil:
			a.Prompt.Printf("%s\n", userMessage(err))
		}
	}

	a.Prompt.Printf("Password changed, log in with the new one\n")
	return nil
}

func watch(ctx context.Context, a *App, _ []string) error {
	a.Prompt.Printf("Session: %s\n", a.Session.State())
	a.Session.OnChange(func(s models.SessionState) {
		a.Prompt.Printf("Session: %s\n", s)
	})

	return crosstab.Watch(ctx, a.Bus, a.Session, a.Logger)
}
