package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	appLog "passroster/internal/log"
)

const usage = `usage: passroster <command> [flags]

commands:
  validate  check a rule and print "valid" or the diagnostic
  expand    print the occurrences of a rule inside a window
  ics       expand every event of a local .ics file inside a window
  serve     run the HTTP API
`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLog.Warn("failed to load .env", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "validate":
		err = runValidate(args[1:], stdin, stdout)
	case "expand":
		err = runExpand(args[1:], stdout)
	case "ics":
		err = runICS(args[1:], stdout)
	case "serve":
		err = runServe(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	var exit exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		fmt.Fprintln(stderr, exit.msg)
		return exit.code
	default:
		fmt.Fprintln(stderr, "passroster:", err)
		return 1
	}
}

// exitError ends a command with a specific code and message.
type exitError struct {
	code int
	msg  string
}

func (e exitError) Error() string { return e.msg }
