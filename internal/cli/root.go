// Package cli implements the sparkle command-line client.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sparkleshare/sparkleshare-go/internal/config"
	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/internal/store"
	"github.com/sparkleshare/sparkleshare-go/pkg/client"
	"github.com/sparkleshare/sparkleshare-go/pkg/recent"
)

// Version is set by the main package at build time.
var Version = "v0.1.0-dev"

// app holds everything a command needs once the root pre-run has opened it.
type app struct {
	cfgFile string
	verbose bool

	cfg    *config.Config
	store  store.Store
	conn   *client.Connection
	recent *recent.Manager
}

// newRootCmd creates the root command with every subcommand attached.
// The caller closes a after the command ran.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sparkle",
		Short:         "Browse and edit SparkleShare projects from the terminal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/sparkleshare/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newLinkCmd(a))
	rootCmd.AddCommand(newUnlinkCmd(a))
	rootCmd.AddCommand(newStatusCmd(a))
	rootCmd.AddCommand(newLsCmd(a))
	rootCmd.AddCommand(newCatCmd(a))
	rootCmd.AddCommand(newSaveCmd(a))
	rootCmd.AddCommand(newRecentCmd(a))

	return rootCmd
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) open() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.LoggingOptions()); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if a.verbose {
		logging.SetLevel("debug")
	}

	st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	a.cfg = cfg
	a.store = st
	a.conn = client.NewFromStore(cfg.ClientOptions(), st)
	a.recent = recent.NewManager(st, recent.WithMaxEntries(cfg.Client.MaxRecentFiles))
	logging.Debug("client ready",
		logging.String("store", cfg.Store.Backend),
		logging.String("address", a.conn.Address()))
	return nil
}

// close releases what open acquired. It is safe to call more than once.
func (a *app) close() error {
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	logging.Sync()
	return err
}

// requireLinked fails commands that need credentials on an unlinked device.
func (a *app) requireLinked() error {
	if !a.conn.IsLinked() {
		return client.ErrNotLinked
	}
	return nil
}
