package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"qencode/internal/services"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes runs that can be resumed from hard failures.
func exitCode(err error) int {
	switch services.Outcome(err) {
	case services.OutcomeCancelled:
		return 130
	case services.OutcomeIncomplete:
		return 2
	default:
		return 1
	}
}
