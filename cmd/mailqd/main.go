// Package main boots the mailqd service.
package main

import (
	"fmt"
	"os"

	"github.com/odiseohq/mailqd/cmd/mailqd/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
