package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/dmsync/internal/command"
)

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	if err := command.NewRootCmd(Version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
