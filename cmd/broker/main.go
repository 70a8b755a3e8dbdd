// Command broker runs the admission-control scheduler as a standalone
// daemon, grounded on the original implementation's broker/broker.py
// being its own deployable process, and on the teacher's (and
// _examples/cuemby-warren's) cobra-based main.go shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecmwf/reqbroker/bootstrap"
	"github.com/ecmwf/reqbroker/broker"
	"github.com/ecmwf/reqbroker/config"
	"github.com/ecmwf/reqbroker/sql"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "broker:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFiles []string
	var dev bool

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the reqbroker admission-control scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFiles, dev)
		},
	}
	cmd.Flags().StringArrayVarP(&configFiles, "config", "f", nil,
		"YAML configuration file, may be specified multiple times (later files override earlier ones)")
	cmd.Flags().BoolVar(&dev, "dev", false, "use a human-readable development logger")
	return cmd
}

func run(configFiles []string, dev bool) error {
	log, err := bootstrap.NewLogger(dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(configFiles...)
	if err != nil {
		return err
	}

	db, err := bootstrap.OpenDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.InitDB(ctx, db); err != nil {
		return err
	}

	collections, err := cfg.BuildCollections()
	if err != nil {
		return err
	}

	store := sql.NewRequestStore(db)
	q := sql.NewQueue(db)

	b := broker.New(q, store, collections, cfg.Broker, log)
	if err := b.Start(ctx); err != nil {
		return err
	}

	log.Infow("broker started")
	<-ctx.Done()
	log.Infow("broker shutting down")
	return b.Stop(10 * time.Second)
}
