// Command worker runs the single-in-flight request executor as a
// standalone daemon, grounded on the original implementation's
// worker/worker.py being its own deployable process.
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
	"github.com/ecmwf/reqbroker/config"
	"github.com/ecmwf/reqbroker/sql"
	"github.com/ecmwf/reqbroker/worker"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFiles []string
	var dev bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a reqbroker request executor",
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

	stg, err := bootstrap.BuildStaging(cfg, log)
	if err != nil {
		return err
	}

	store := sql.NewRequestStore(db)
	q := sql.NewQueue(db)

	w := worker.New(q, store, collections, stg, cfg.Worker, log)
	if err := w.Start(ctx); err != nil {
		return err
	}

	log.Infow("worker started")
	<-ctx.Done()
	log.Infow("worker shutting down")
	return w.Stop(10 * time.Second)
}
