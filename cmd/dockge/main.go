package main

import (
	"os"

	"github.com/griffithind/dockge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
