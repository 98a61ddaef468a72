package main

import (
	"os"

	"github.com/nudgebot-dev/nudgebot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
