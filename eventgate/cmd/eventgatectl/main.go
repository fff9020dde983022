package main

import (
	"os"

	"github.com/telhawk-systems/eventgate/eventgate/internal/ctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
