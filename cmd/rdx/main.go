package main

import (
	"os"

	"github.com/relayport/rdx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
