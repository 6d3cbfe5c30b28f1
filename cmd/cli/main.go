package main

import (
	"os"

	"github.com/taskdesk/taskdesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
