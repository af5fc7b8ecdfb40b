package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/flow"
	"github.com/nkiryanov/authsession/internal/gateway"
)

var errUsage = errors.New("usage")

func main() {
	// Initialize context that cancelled on SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Getenv, os.Getwd, os.Args[1:], os.Stdin, os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		if err != errUsage {
			fmt.Fprintln(os.Stderr, err)
		}
		fmt.Fprint(os.Stderr, usage())
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, userMessage(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string, in io.Reader, out io.Writer) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return err
	}
	rest, err := c.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	if len(rest) == 0 {
		return errUsage
	}
	cmd, ok := findCommand(rest[0])
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}

	app, err := NewApp(ctx, c, in, out)
	if err != nil {
		return err
	}
	defer app.Close()

	err = cmd.run(ctx, app, rest[1:])
	if err != nil && userMessage(err) == gateway.GenericMessage {
		app.Logger.Error("Command failed", "command", cmd.name, "error", err)
	}
	return err
}

// userMessage turns error into text for the user, internals stay in logs
func userMessage(err error) string {
	var gwErr *gateway.Error
	var inErr *gateway.InputError
	var cdErr *flow.CooldownError

	switch {
	case errors.As(err, &gwErr), errors.As(err, &inErr):
		return gateway.UserMessage(err)
	case errors.As(err, &cdErr):
		return fmt.Sprintf("Please wait %d seconds before requesting a new code", cdErr.Seconds())
	case errors.Is(err, apperrors.ErrNoSession), errors.Is(err, apperrors.ErrUnauthorized), errors.Is(err, apperrors.ErrSessionExpired):
		return "You are not logged in, run 'authctl login'"
	case errors.Is(err, errAborted):
		return "Aborted"
	case errors.Is(err, apperrors.ErrInvalidState):
		return "This step is not available now, start over"
	default:
		return gateway.GenericMessage
	}
}
