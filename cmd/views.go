package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/w3sale/internal/ledger"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/Mohsinsiddi/w3sale/internal/store"
	"github.com/Mohsinsiddi/w3sale/internal/ui"
)

var (
	statusWatch   bool
	statusJSON    bool
	balanceNative bool
	journalLimit  int
	journalVerify bool
	journalJSON   bool
)

// dashboardRecent is how many journal entries the live dashboard shows.
const dashboardRecent = 15

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sale",
	Long: `Show the sale parameters, lifecycle flags and progress.

With --watch, opens a live dashboard that refreshes every watch_interval
seconds and lists the most recent calls.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusWatch {
			p := ui.NewDashboard(cfg.Watch(), func() (ui.DashboardData, error) {
				return fetchDashboard(context.Background())
			})
			_, err := p.Run()
			return err
		}

		st, err := loadStatus(cmd.Context())
		if err != nil {
			return err
		}
		if statusJSON {
			return printJSON(st)
		}
		fmt.Println(statusBlock(st))
		return nil
	},
}

// loadStatus reads the sale without building ledger collaborators, so it
// works offline in evm mode too.
func loadStatus(ctx context.Context) (sale.Status, error) {
	db, err := store.OpenBolt(cfg.DataPath())
	if err != nil {
		return sale.Status{}, err
	}
	defer db.Close()
	state, err := db.Load(ctx)
	if err != nil {
		return sale.Status{}, err
	}
	return sale.New(state).Status(), nil
}

// fetchDashboard reopens the store on every refresh so the file lock is
// only held briefly.
func fetchDashboard(ctx context.Context) (ui.DashboardData, error) {
	db, err := store.OpenBolt(cfg.DataPath())
	if err != nil {
		return ui.DashboardData{}, err
	}
	defer db.Close()

	state, err := db.Load(ctx)
	if err != nil {
		return ui.DashboardData{}, err
	}
	recs, err := db.Entries(dashboardRecent)
	if err != nil {
		return ui.DashboardData{}, err
	}
	return ui.DashboardData{Status: sale.New(state).Status(), Recent: newestFirst(recs)}, nil
}

func newestFirst(recs []store.Record) []sale.Entry {
	out := make([]sale.Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Entry)
	}
	slices.Reverse(out)
	return out
}

func statusBlock(st sale.Status) string {
	raised, _ := uint256.FromDecimal(st.AmountRaised)
	ceiling, _ := uint256.FromDecimal(st.MaximumRaise)

	block := ui.KeyValueBlock("Sale "+ui.TruncateAddr(st.Address.Hex()), [][2]string{
		{"Address", st.Address.Hex()},
		{"Administrator", st.Administrator.Hex()},
		{"Phase", ui.Phase(st)},
		{"Token ledger", fmt.Sprintf("%s #%d", st.Token.Ledger.Hex(), st.Token.TokenID)},
		{"Rate", fmt.Sprint(st.Rate)},
		{"Individual cap", st.IndividualCap},
		{"Maximum raise", st.MaximumRaise},
		{"Amount raised", st.AmountRaised},
		{"Balance", st.Balance},
		{"Whitelisted", fmt.Sprint(st.Whitelisted)},
		{"Contributors", fmt.Sprint(st.Contributors)},
		{"Starts", st.StartTime.Format(time.RFC3339)},
		{"Ends", st.EndTime.Format(time.RFC3339)},
		{"Paused", ui.Flag(st.Paused)},
		{"Withdrawable", ui.Flag(st.Withdrawable)},
	})
	return block + "\n  " + ui.ProgressBar(raised, ceiling, 40)
}

var contributionCmd = &cobra.Command{
	Use:   "contribution <address-or-wallet>",
	Short: "Show the cumulative contribution of a participant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := resolveAddress(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		db, err := store.OpenBolt(cfg.DataPath())
		if err != nil {
			return err
		}
		defer db.Close()
		state, err := db.Load(cmd.Context())
		if err != nil {
			return err
		}
		c := sale.New(state)
		fmt.Println(ui.KeyValueBlock("", [][2]string{
			{"Participant", addr.Hex()},
			{"Whitelisted", ui.Flag(c.IsWhitelisted(addr))},
			{"Contributed", c.Contribution(addr).Dec()},
			{"Individual cap", c.Status().IndividualCap},
		}))
		return nil
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance <address-or-wallet>",
	Short: "Show the sale-token (or native) balance of an address",
	Long: `Show a balance on the configured ledger.

By default reads the sale token (ledger address and token id of the sale).
--native reads the balance of the native asset the sale collects.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := resolveAddress(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		c, sess, err := openContract(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		k := ledger.NativeKey(addr)
		label := "native"
		if !balanceNative {
			st := c.Status()
			k = ledger.Key{Ledger: st.Token.Ledger, TokenID: st.Token.TokenID, Owner: addr}
			label = fmt.Sprintf("token #%d", st.Token.TokenID)
		}
		bal, err := sess.collab.balances.BalanceOf(ctx, k)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s %s\n", ui.Addr(addr.Hex()), ui.Val(bal.Dec()), ui.Meta(label))
		return nil
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the call journal",
	Long: `Show the most recent calls, newest first.

Every call is journaled whether it was applied, rejected or reverted.
Records are hash-chained; --verify checks the whole chain.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.OpenBolt(cfg.DataPath())
		if err != nil {
			return err
		}
		defer db.Close()

		if journalVerify {
			n, err := db.VerifyJournal()
			if err != nil {
				return err
			}
			fmt.Println(ui.Success(fmt.Sprintf("Journal intact: %d record(s) verified.", n)))
			return nil
		}

		recs, err := db.Entries(journalLimit)
		if err != nil {
			return err
		}
		if journalJSON {
			return printJSON(recs)
		}
		if len(recs) == 0 {
			fmt.Println(ui.Info("No calls journaled yet."))
			return nil
		}
		fmt.Println(ui.EntryTable(newestFirst(recs)).Render())
		last := recs[len(recs)-1]
		fmt.Println(ui.Meta(fmt.Sprintf("head #%d %s", last.Seq, last.Hash.Hex())))
		return nil
	},
}

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Print the sale metadata document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.OpenBolt(cfg.DataPath())
		if err != nil {
			return err
		}
		defer db.Close()
		state, err := db.Load(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(state.Metadata)
	},
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "live dashboard")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
	balanceCmd.Flags().BoolVar(&balanceNative, "native", false, "read the native balance")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "number of records (0 for all)")
	journalCmd.Flags().BoolVar(&journalVerify, "verify", false, "verify the hash chain")
	journalCmd.Flags().BoolVar(&journalJSON, "json", false, "print records as JSON")
}
