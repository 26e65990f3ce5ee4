package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/strandhq/strand/internal/cmd/migrate"
	"github.com/strandhq/strand/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "strand",
		Usage: "Personal knowledge store with background enrichment",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
