// Command fluxfill inpaints the transparent regions of workspace layers with
// a remote Flux Fill model, one request per layer, several at a time.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"fluxfill/core"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is normal; anything else is worth a warning.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and maps the result onto a process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return exitCodeFor(cmd.Execute(), stderr)
}

// exitError carries an exit code out of a command. A nil err means the
// command already reported what happened.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return core.ExitCodeName(e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error, stderr io.Writer) int {
	if err == nil {
		return core.ExitCodeSuccess
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.err)
		}
		return exitErr.code
	}
	if errors.Is(err, context.Canceled) {
		return core.ExitCodeSIGINT
	}
	if configErr, ok := core.IsConfigError(err); ok {
		fmt.Fprintln(stderr, "Error:", configErr.Message)
		if configErr.Action != "" {
			fmt.Fprintln(stderr, "  ->", configErr.Action)
		}
		return core.ExitCodeError
	}
	fmt.Fprintln(stderr, "Error:", err)
	return core.ExitCodeError
}
