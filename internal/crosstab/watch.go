package crosstab

import (
	"context"

	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/models"
)

type Resyncer interface {
	Resync(ctx context.Context) models.SessionState
}

// Watch re-evaluates session on every foreign change till ctx is done
func Watch(ctx context.Context, bus *Bus, r Resyncer, l logger.Logger) error {
	events, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	for ev := range events {
		state := r.Resync(ctx)
		l.Info("Session changed by another client", "kind", ev.Kind, "from", ev.Origin, "state", state)
	}

	return nil
}
