package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/daemon"
	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/session"
	intsync "github.com/matheus3301/dmsync/internal/sync"
	"github.com/matheus3301/dmsync/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	startTimeout = 15 * time.Second
	stopTimeout  = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	recipient := flag.String("with", "", "username to chat with")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		return err
	}
	if *recipient == "" {
		return errors.New("usage: dmsync [--profile <name>] --with <username>")
	}

	app := tui.NewApp(profile, *recipient)

	var (
		ctrl   *intsync.Controller
		b      *bus.Bus
		logger *zap.Logger
	)
	fxApp := fx.New(
		daemon.Module(daemon.Params{
			Profile:   profile,
			Recipient: *recipient,
			Owner:     "dmsync",
			Quiet:     true,
			Renderer:  app.Renderer(),
		}),
		fx.Populate(&ctrl, &b, &logger),
		fx.NopLogger,
	)
	if err := fxApp.Err(); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			return fmt.Errorf("profile %q is in use by %s (PID %d); stop it or use dmsyncctl", profile, held.Owner, held.PID)
		}
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}
	app.Bind(ctrl, b, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return app.Run(gCtx)
	})
	g.Go(func() error {
		<-gCtx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return fxApp.Stop(stopCtx)
	})
	return g.Wait()
}
