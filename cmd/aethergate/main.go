package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aethergate/aethergate/internal/app"

	log "github.com/sirupsen/logrus"
)

func main() {
	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveConfig := serveCmd.String("config", "", "path to config file")

	migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)
	migrateConfig := migrateCmd.String("config", "", "path to config file")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "serve":
		_ = serveCmd.Parse(os.Args[2:])
		if err := app.RunServer(ctx, *serveConfig); err != nil {
			log.WithError(err).Fatal("server exited")
		}
	case "migrate":
		_ = migrateCmd.Parse(os.Args[2:])
		if err := app.Migrate(ctx, *migrateConfig); err != nil {
			log.WithError(err).Fatal("migrate failed")
		}
		log.Info("migrations applied")
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <serve|migrate> [-config path]\n", os.Args[0])
}
