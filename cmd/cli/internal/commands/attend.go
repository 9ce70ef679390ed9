package commands

import (
	"context"
)

type AttendCmd struct{}

func (c *AttendCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := newApp(ctx, globals, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.checkAccess(ctx); err != nil {
		return err
	}

	a.printf("Recording attendance...\n")

	result, err := a.attendance.Mark(ctx)
	if err != nil {
		return describe(err)
	}

	if result.AlreadyMarked {
		a.printAttendance(result.Status)
		return nil
	}

	a.printf("Attendance recorded successfully! %s\n", result.Timestamp)
	a.printAttendance(result.Status)
	return nil
}
