// Command tabx loads, cleans, filters and summarizes tabular data.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/eunmann/tabx/internal/cli"
)

func main() {
	err := cli.Run(os.Args[1:])
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
