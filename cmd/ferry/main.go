package main

import (
	"os"

	"github.com/ferrybot/ferry/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
