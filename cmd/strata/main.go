package main

import (
	"os"

	"github.com/strata-dev/strata/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
