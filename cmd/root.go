package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudflare/cfssl/log"
	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/w3sale/internal/config"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/Mohsinsiddi/w3sale/internal/ui"
)

// Version is the current release. Overridable via build ldflags:
//
//	go build -ldflags "-X github.com/Mohsinsiddi/w3sale/cmd.Version=1.2.3" .
var Version = "0.3.0"

var (
	cfgDir  string
	cfg     *config.Config
	verbose bool
)

// rootCmd is the top-level command.
var rootCmd = &cobra.Command{
	Use:   "w3sale",
	Short: "Whitelisted token sale with custody",
	Long: `w3sale runs a whitelisted token sale.

  Whitelisted participants contribute funds and are credited tokens at a
  fixed rate, bounded by an individual cap and a maximum raise. The
  administrator can pause the sale and withdraw the funds held in custody
  once it has ended.

Sale state, the call journal and (in local mode) token balances are kept
in a bbolt file in the config directory. Run 'w3sale serve' to expose the
sale over HTTP.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load config (skip for commands that don't need it).
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgDir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		if verbose {
			level = log.LevelDebug
		}
		log.Level = level
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

// describe renders err for the terminal, leading with the rejection kind
// when the sale refused the call.
func describe(err error) string {
	if kind, ok := sale.KindOf(err); ok {
		return ui.Err(kind.String()) + "  " + ui.Meta(err.Error())
	}
	if errors.Is(err, sale.ErrNotDeployed) {
		return ui.Err(err.Error()) + "\n" + ui.Hint("Deploy a sale first: w3sale deploy --help")
	}
	return ui.Err(err.Error())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "config directory (default: $"+config.DirEnv+" or ~/.w3sale)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	// Register all sub-commands.
	rootCmd.AddCommand(
		deployCmd,
		buyCmd,
		whitelistCmd,
		adminCmd,
		pauseCmd,
		unpauseCmd,
		withdrawCmd,
		statusCmd,
		contributionCmd,
		balanceCmd,
		faucetCmd,
		journalCmd,
		metadataCmd,
		walletCmd,
		configCmd,
		serveCmd,
	)
}
