package main

import (
	"os"

	"github.com/amigadave/kdbus/cmd"
)

func main() {
	// Execute the root command
	cmd.Execute()

	// Ensure clean exit
	os.Exit(0)
}
