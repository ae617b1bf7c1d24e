package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/dmsync/internal/daemon"
	"github.com/matheus3301/dmsync/internal/session"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	recipient := flag.String("with", "", "username of the conversation to sync")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *recipient == "" {
		fmt.Fprintln(os.Stderr, "usage: dmsyncd [--profile <name>] --with <username>")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile, Recipient: *recipient}),
	)

	app.Run()
}
