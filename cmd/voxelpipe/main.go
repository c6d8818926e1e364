package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitCodeError ends the process with code and prints nothing. run-job uses
// it to tell the runner that the job was killed.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	os.Exit(execute(newRootCommand()))
}

// execute runs cmd and maps its result to a process exit code. serve returns
// nil on SIGINT and SIGTERM, so an interrupted server exits 0.
func execute(cmd *cobra.Command) int {
	err := cmd.Execute()
	var exit exitCodeError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		return exit.code
	case errors.Is(err, context.Canceled):
		return 1
	default:
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return 1
	}
}
