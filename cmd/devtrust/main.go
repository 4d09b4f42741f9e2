package main

import (
	"os"

	"devtrust/cmd/devtrust/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
