// Command demo wires a handful of interdependent services into a
// Container and drives them through their lifecycle, in the spirit of
// the teacher's composition root (app.NewApplication +
// cmd/root.go's Execute) but stripped of the OAuth/MCP/Kubernetes
// bootstrapping none of this module implements.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"svccontainer/pkg/logging"
	"svccontainer/svc"
)

// namedService is a minimal Service that logs its own lifecycle and
// optionally provides a single value under its own name.
type namedService struct {
	label   string
	provide *svc.Name
	value   interface{}
}

func (s *namedService) Start(ctx *svc.StartContext) error {
	logging.Info("Demo", "starting %s", s.label)
	if s.provide != nil {
		if err := ctx.Provide(*s.provide, s.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *namedService) Stop(ctx *svc.StopContext) error {
	logging.Info("Demo", "stopping %s", s.label)
	return nil
}

func main() {
	logging.InitForCLI(logging.LevelInfo, os.Stdout)

	container := svc.NewContainer(svc.Config{Workers: 4})

	events := container.SubscribeControllerEvents()
	go func() {
		for ev := range events {
			logging.Info("Demo", "controller event: %v %s", ev.Provides, ev.Kind)
		}
	}()

	dbName := svc.NewName("storage", "db")
	apiName := svc.NewName("api", "http")

	if _, err := container.NewBuilder().
		Provides(dbName).
		Mode(svc.ModeActive).
		Instance(&namedService{label: "db", provide: &dbName, value: "connection-string"}).
		Install(); err != nil {
		fmt.Fprintln(os.Stderr, "install db:", err)
		os.Exit(1)
	}

	apiController, err := container.NewBuilder().
		Provides(apiName).
		Requires(dbName).
		Mode(svc.ModeActive).
		Instance(&namedService{label: "api", provide: &apiName, value: "listening"}).
		Install()
	if err != nil {
		fmt.Fprintln(os.Stderr, "install api:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := container.AwaitStability(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "await stability:", err)
		os.Exit(1)
	}

	snap := apiController.Snapshot()
	logging.Info("Demo", "api state=%s missing=%v reason=%v", snap.State, snap.Missing, snap.Reason)

	container.Shutdown()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := container.AwaitTermination(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, "await termination:", err)
		os.Exit(1)
	}
	logging.Info("Demo", "shutdown complete")
}
