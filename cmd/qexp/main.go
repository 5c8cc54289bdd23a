// Command qexp compiles object query expressions into SQL.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/qexp/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// Commands report their own failures; what is left are flag and
	// argument errors from cobra.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
