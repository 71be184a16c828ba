package main

import (
	"os"

	"livecap/cmd"
)

func main() {
	// cobra already printed the error
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
