package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/lessongate/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		commands.Globals

		Login   commands.LoginCmd  `cmd:"" help:"Log in, opening or renewing the 24 hour access window"`
		Logout  commands.LogoutCmd `cmd:"" help:"End the session on this device"`
		Status  commands.StatusCmd `cmd:"" help:"Show access and attendance status"`
		Attend  commands.AttendCmd `cmd:"" help:"Record today's attendance"`
		Watch   commands.WatchCmd  `cmd:"" help:"Show live access and attendance countdowns"`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("lessongate"),
		kong.Description("Access window and daily attendance for recorded lessons."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	cli.Globals.Version = version
	err := cmd.Run(&cli.Globals)
	cmd.FatalIfErrorf(err)
}
