package commands

import (
	"context"
	"time"

	"github.com/wolfeidau/lessongate/internal/clock"
	"github.com/wolfeidau/lessongate/internal/session"
)

type LoginCmd struct {
	Token    string `arg:"" help:"access token"`
	Identity string `arg:"" help:"identity number (CPF), with or without punctuation"`
}

func (c *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	a.printf("Checking access...\n")

	grant, err := a.session.GrantOrRenew(ctx, c.Identity, c.Token)
	if err != nil {
		return describe(err)
	}

	if grant.Renewed {
		a.printf("Access renewed for %d hours. Welcome, %s!\n", int(session.DefaultWindow/time.Hour), grant.DisplayName)
	} else {
		a.printf("Access already active. Welcome back, %s!\n", grant.DisplayName)
	}
	a.printf("Access expires in %s (%s)\n",
		clock.FormatRemaining(grant.ExpiresAt.Sub(a.clock.Now())),
		clock.Timestamp(grant.ExpiresAt))

	return nil
}
