// Command chestmigrate moves the contents of labeled chests from one or more
// source worlds into the chests of a destination world.
//
//	chestmigrate --from OLD_WORLD [MORE_WORLDS...]
//	chestmigrate --to NEW_WORLD
//	chestmigrate --print-remaining
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errNoMode) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}
