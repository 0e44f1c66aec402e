package main

import (
	"os"

	"smartlocker/cmd/lockerctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
