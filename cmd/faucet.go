package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/w3sale/internal/config"
	"github.com/Mohsinsiddi/w3sale/internal/ledger"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/Mohsinsiddi/w3sale/internal/ui"
)

var faucetAmount string

var faucetCmd = &cobra.Command{
	Use:   "faucet <address-or-wallet>",
	Short: "Fund an address with native units on the local ledger",
	Long: `Mint native units to an address on the local ledger, so it can pay
for contributions.

With the evm ledger, contributors pay on chain; use a testnet faucet
for the configured network instead.

Examples:
  w3sale faucet alice --amount 1000
  w3sale faucet 0xA... --amount 42000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if faucetAmount == "" {
			return fmt.Errorf("--amount is required")
		}
		amount, err := sale.ParseAmount(faucetAmount)
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		addr, err := resolveAddress(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()
		if sess.collab.local == nil {
			return fmt.Errorf("the faucet only serves the local ledger (ledger is %q)", config.LedgerEVM)
		}

		k := ledger.NativeKey(addr)
		if err := sess.collab.local.Mint(ctx, k, amount); err != nil {
			return err
		}
		bal, err := sess.collab.local.BalanceOf(ctx, k)
		if err != nil {
			return err
		}
		fmt.Println(ui.Success("Funded " + ui.Addr(addr.Hex())))
		fmt.Println(ui.KeyValueBlock("", [][2]string{
			{"Minted", ui.Val(amount.Dec())},
			{"Balance", ui.Val(bal.Dec())},
		}))
		return nil
	},
}

func init() {
	faucetCmd.Flags().StringVar(&faucetAmount, "amount", "", "native units to mint, in base units")
}
