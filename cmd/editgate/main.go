package main

import (
	"os"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/editgate/cmd/editgate/cmd"
)

func main() {
	err := cmd.Execute()
	// Wipe enclaves holding the credential and session keys before exit.
	memguard.Purge()
	if err != nil {
		os.Exit(1)
	}
}
