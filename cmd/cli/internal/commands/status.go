package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/lessongate/internal/attendance"
	"github.com/wolfeidau/lessongate/internal/clock"
	"github.com/wolfeidau/lessongate/internal/session"
)

type StatusCmd struct {
	Refresh bool `help:"re-read expiry and attendance from the directory before checking"`
}

func (c *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Refresh {
		if _, err := a.session.Reconcile(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to refresh session from the directory")
			a.printf("Could not refresh from the directory, showing local state.\n")
		}
	}

	access, err := a.checkAccess(ctx)
	if err != nil {
		return err
	}

	a.printf("Access active, expires in %s\n", clock.FormatRemaining(access.ExpiresAt.Sub(a.clock.Now())))

	status, err := a.attendance.Status()
	if err != nil {
		return err
	}
	a.printAttendance(status)

	return nil
}

// checkAccess guards protected content: denied access is reported with its login redirect and
// returned as errAccessDenied.
func (a *app) checkAccess(ctx context.Context) (session.Access, error) {
	access, err := a.session.ValidateAccess(ctx)
	if err != nil {
		return access, err
	}
	if access.Allowed {
		return access, nil
	}

	switch access.Reason {
	case session.ReasonExpired:
		a.printf("Your access has expired.\n")
	default:
		a.printf("You are not logged in.\n")
	}
	a.redirect(access.Reason)

	return access, fmt.Errorf("%w: %s", errAccessDenied, access.Reason)
}

func (a *app) printAttendance(status attendance.Status) {
	switch status.State {
	case attendance.AlreadyMarkedToday:
		a.printf("Attendance for %s already recorded, next in %s\n", status.Date, clock.FormatRemaining(status.UntilMidnight))
	default:
		a.printf("Attendance for %s not yet recorded\n", status.Date)
	}
}
