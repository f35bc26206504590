package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/Mohsinsiddi/w3sale/internal/ui"
)

// Every entry point accepts the caller, the attached amount and the
// transaction that paid it.
var (
	callAs      string
	callAmount  string
	callPayment string
	withdrawYes bool
)

type invokeFunc func(ctx context.Context, c *sale.Contract, call sale.Call) error

// invoke opens the sale and runs fn against it. report, when set, prints
// details after a successful call.
func invoke(cmd *cobra.Command, done string, fn invokeFunc, report func(c *sale.Contract, call sale.Call)) error {
	ctx := cmd.Context()
	call, err := callFrom(callAs, callAmount, callPayment)
	if err != nil {
		return err
	}
	c, sess, err := openContract(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	spin := ui.NewSpinner("Invoking as " + ui.TruncateAddr(call.Caller.Hex()) + "...")
	spin.Start()
	err = fn(ctx, c, call)
	spin.Stop()
	if err != nil {
		return err
	}
	fmt.Println(ui.Success(done))
	if report != nil {
		report(c, call)
	}
	return nil
}

var buyCmd = &cobra.Command{
	Use:   "buy",
	Short: "Contribute to the sale (buyTokens)",
	Long: `Contribute --amount to the sale as --as.

The caller must be whitelisted. Tokens are credited at the sale rate.
The amount is taken from the caller's native balance. With the evm
ledger, first send the amount to the operator wallet and pass that
transaction with --payment.

Examples:
  w3sale buy --as alice --amount 500
  w3sale buy --as alice --amount 500 --payment 0x5c50...e1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, "Contribution accepted.", func(ctx context.Context, c *sale.Contract, call sale.Call) error {
			return c.BuyTokens(ctx, call)
		}, func(c *sale.Contract, call sale.Call) {
			st := c.Status()
			fmt.Println(ui.KeyValueBlock("", [][2]string{
				{"Contributed", ui.Val(c.Contribution(call.Caller).Dec())},
				{"Amount raised", st.AmountRaised + ui.Meta(" / "+st.MaximumRaise)},
			}))
		})
	},
}

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Manage the whitelist",
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add <address-or-wallet>...",
	Short: "Whitelist one or more participants (admin)",
	Long: `Whitelist participants. One argument invokes addToWhitelist; several
invoke addMultipleWhitelist, which is all-or-nothing.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addrs := make([]common.Address, 0, len(args))
		for _, a := range args {
			addr, err := resolveAddress(cmd.Context(), a)
			if err != nil {
				return err
			}
			addrs = append(addrs, addr)
		}
		done := fmt.Sprintf("%d address(es) whitelisted.", len(addrs))
		return invoke(cmd, done, func(ctx context.Context, c *sale.Contract, call sale.Call) error {
			if len(addrs) == 1 {
				return c.AddToWhitelist(ctx, call, addrs[0])
			}
			return c.AddMultipleWhitelist(ctx, call, addrs)
		}, nil)
	},
}

var whitelistCheckCmd = &cobra.Command{
	Use:   "check <address-or-wallet>",
	Short: "Report whether an address is whitelisted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := resolveAddress(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		c, sess, err := openContract(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()
		fmt.Printf("%s  %s\n", ui.Addr(addr.Hex()), ui.Flag(c.IsWhitelisted(addr)))
		return nil
	},
}

var whitelistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List whitelisted addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, sess, err := openContract(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()

		list := c.Whitelist()
		if len(list) == 0 {
			fmt.Println(ui.Info("The whitelist is empty."))
			return nil
		}
		t := ui.NewTable([]ui.Column{
			{Title: "Address", Width: 44},
			{Title: "Contributed", Width: 20},
		})
		for _, a := range list {
			t.AddRow(ui.Row{ui.Addr(a.Hex()), c.Contribution(a).Dec()})
		}
		fmt.Println(t.Render())
		fmt.Println(ui.Meta(fmt.Sprintf("%d address(es)", len(list))))
		return nil
	},
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrator operations",
}

var adminChangeCmd = &cobra.Command{
	Use:   "change <new-admin>",
	Short: "Hand the sale to a new administrator (changeAdmin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		next, err := resolveAddress(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return invoke(cmd, "Administrator changed to "+ui.Addr(next.Hex()), func(ctx context.Context, c *sale.Contract, call sale.Call) error {
			return c.ChangeAdmin(ctx, call, next)
		}, nil)
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause contributions (admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, "Sale paused.", func(ctx context.Context, c *sale.Contract, call sale.Call) error {
			return c.PauseSale(ctx, call)
		}, nil)
	},
}

var unpauseCmd = &cobra.Command{
	Use:   "unpause",
	Short: "Resume contributions (admin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(cmd, "Sale resumed.", func(ctx context.Context, c *sale.Contract, call sale.Call) error {
			return c.UnpauseSale(ctx, call)
		}, nil)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Release custody funds to the administrator (withdrawFunds)",
	Long: `Release the whole custody balance to the administrator.

Allowed once the sale has ended or its end time has passed. May be
repeated; each call drains whatever the sale holds at that time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !withdrawYes && !ui.ConfirmDanger("Withdraw all custody funds to the administrator?") {
			fmt.Println(ui.Meta("Cancelled."))
			return nil
		}
		var paid string
		return invoke(cmd, "Funds withdrawn.", func(ctx context.Context, c *sale.Contract, call sale.Call) error {
			paid = c.Status().Balance
			return c.WithdrawFunds(ctx, call)
		}, func(c *sale.Contract, _ sale.Call) {
			fmt.Println(ui.KeyValueBlock("", [][2]string{
				{"Paid out", ui.Val(paid)},
				{"To", ui.Addr(c.Status().Administrator.Hex())},
			}))
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{buyCmd, whitelistAddCmd, adminChangeCmd, pauseCmd, unpauseCmd, withdrawCmd} {
		c.Flags().StringVar(&callAs, "as", "", "calling wallet; must hold a key (default wallet when empty)")
		c.Flags().StringVar(&callAmount, "amount", "", "amount attached to the call, in base units")
		c.Flags().StringVar(&callPayment, "payment", "", "transaction that paid --amount to the operator wallet (evm ledger)")
	}
	withdrawCmd.Flags().BoolVarP(&withdrawYes, "yes", "y", false, "skip confirmation")

	whitelistCmd.AddCommand(whitelistAddCmd, whitelistCheckCmd, whitelistListCmd)
	adminCmd.AddCommand(adminChangeCmd)
}
