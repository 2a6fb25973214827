package main

import (
	"os"

	"github.com/moolen/poddiag/cmd/poddiag/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
