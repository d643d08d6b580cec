package main

import (
	"os"

	"grandfinale/api/cmd/finale/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are printed by the printer package before Execute returns.
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
