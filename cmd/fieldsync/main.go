// Command fieldsync captures inspection records offline and syncs them to the
// remote entity service when the device is reachable.
package main

import (
	"fmt"
	"os"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
