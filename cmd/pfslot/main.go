// Command pfslot plays a provably-fair slot session against the seed ledger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MJE43/pf-slot-go/internal/api"
)

type globalFlags struct {
	configPath string
	wallet     string
	dbPath     string
	logLevel   string
	simulate   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "pfslot",
		Short:         "Provably-fair slot client",
		Long:          "pfslot spins a three-reel slot whose outcomes are derived from ledger-issued seeds, keeps the wallet's session locally and claims the score back on the ledger.",
		Version:       api.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", os.Getenv("PFSLOT_CONFIG"), "YAML config file")
	pf.StringVarP(&flags.wallet, "wallet", "w", "", "wallet address (overrides config)")
	pf.StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides config)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.simulate, "simulate", false, "use the in-memory simulated ledger")

	rootCmd.AddCommand(
		serveCmd(flags),
		sessionCmd(flags),
		spinCmd(flags),
		verifyCmd(flags),
		syncCmd(flags),
		freeCmd(flags),
		buyCmd(flags),
		bundlesCmd(flags),
		claimCmd(flags),
		autoplayCmd(flags),
		auditCmd(flags),
		historyCmd(flags),
		authCmd(flags),
	)
	return rootCmd
}

// withSession runs fn against a fully wired app and closes it afterwards.
func withSession(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(flags)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.open(cmd.Context()); err != nil {
		return err
	}
	return fn(cmd.Context(), a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
