package main

import (
	"os"

	"github.com/workaholi/focusroom/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
