// Command frontend runs the HTTP API as a standalone daemon, grounded
// on the original implementation's frontend/frontend.py being its own
// deployable process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecmwf/reqbroker/bootstrap"
	"github.com/ecmwf/reqbroker/config"
	"github.com/ecmwf/reqbroker/httpapi"
	"github.com/ecmwf/reqbroker/sql"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "frontend:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFiles []string
	var dev bool

	cmd := &cobra.Command{
		Use:   "frontend",
		Short: "Run the reqbroker HTTP API",
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

	authenticators, err := bootstrap.BuildAuthenticators(cfg)
	if err != nil {
		return err
	}

	store := sql.NewRequestStore(db)
	api := httpapi.New(store, stg, collections, authenticators, log)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8000"
	}
	httpServer := &http.Server{Addr: addr, Handler: api}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("frontend listening", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Infow("frontend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
