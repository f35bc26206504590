package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/w3sale/internal/ledger"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/Mohsinsiddi/w3sale/internal/ui"
)

var (
	deployAdmin       string
	deployAddress     string
	deployToken       string
	deployTokenID     uint64
	deployRate        uint64
	deployCap         string
	deployMaxRaise    string
	deployStart       string
	deployEnd         string
	deployDuration    time.Duration
	deployName        string
	deployDescription string
	deployHomepage    string
	deployAuthors     []string
	deploySupply      string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Create the sale",
	Long: `Create the sale with its immutable parameters.

The sale address defaults to the CREATE address of the administrator at
nonce 0. With the local ledger, --supply credits that many tokens to the
sale address so contributions can be served; on the evm ledger the sale
address must already hold its tokens and the operator wallet must be
approved to move them.

Examples:
  w3sale deploy --admin alice --token 0xT0k3n... --rate 2 \
      --cap 1000 --max-raise 10000 --duration 720h --supply 20000
  w3sale deploy --admin 0xA... --token 0xT... --token-id 1 --rate 1 \
      --cap 5 --max-raise 50 --end 2026-12-31T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := deployParams(ctx)
		if err != nil {
			return err
		}

		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		c, err := sale.DeployTo(ctx, sess.db, p, sess.options()...)
		if err != nil {
			return err
		}
		st := c.Status()

		if deploySupply != "" {
			if sess.collab.local == nil {
				fmt.Println(ui.Warn("--supply only applies to the local ledger; skipped."))
			} else {
				supply, err := sale.ParseAmount(deploySupply)
				if err != nil {
					return fmt.Errorf("invalid supply: %w", err)
				}
				k := ledger.Key{Ledger: st.Token.Ledger, TokenID: st.Token.TokenID, Owner: st.Address}
				if err := sess.collab.local.Mint(ctx, k, supply); err != nil {
					return err
				}
			}
		}

		fmt.Println(ui.Success("Sale deployed at " + ui.Addr(st.Address.Hex())))
		fmt.Println(statusBlock(st))
		return nil
	},
}

func deployParams(ctx context.Context) (sale.Params, error) {
	var p sale.Params
	if deployAdmin == "" {
		return p, fmt.Errorf("--admin is required")
	}
	admin, err := resolveAddress(ctx, deployAdmin)
	if err != nil {
		return p, err
	}
	if !common.IsHexAddress(deployToken) {
		return p, fmt.Errorf("--token must be the token ledger address")
	}
	if deployAddress != "" {
		if !common.IsHexAddress(deployAddress) {
			return p, fmt.Errorf("invalid --address %q", deployAddress)
		}
		p.Address = common.HexToAddress(deployAddress)
	}
	if p.IndividualCap, err = sale.ParseAmount(deployCap); err != nil {
		return p, fmt.Errorf("invalid --cap: %w", err)
	}
	if p.MaximumRaise, err = sale.ParseAmount(deployMaxRaise); err != nil {
		return p, fmt.Errorf("invalid --max-raise: %w", err)
	}

	p.StartTime = time.Now().UTC()
	if deployStart != "" {
		if p.StartTime, err = time.Parse(time.RFC3339, deployStart); err != nil {
			return p, fmt.Errorf("invalid --start: %w", err)
		}
	}
	switch {
	case deployEnd != "":
		if p.EndTime, err = time.Parse(time.RFC3339, deployEnd); err != nil {
			return p, fmt.Errorf("invalid --end: %w", err)
		}
	case deployDuration > 0:
		p.EndTime = p.StartTime.Add(deployDuration)
	default:
		return p, fmt.Errorf("one of --end or --duration is required")
	}

	p.Administrator = admin
	p.Token = sale.TokenTarget{Ledger: common.HexToAddress(deployToken), TokenID: deployTokenID}
	p.Rate = deployRate

	meta := sale.DefaultMetadata()
	if deployName != "" {
		meta.Name = deployName
	}
	if deployDescription != "" {
		meta.Description = deployDescription
	}
	meta.Homepage = deployHomepage
	meta.Authors = deployAuthors
	p.Metadata = &meta
	return p, nil
}

func init() {
	f := deployCmd.Flags()
	f.StringVar(&deployAdmin, "admin", "", "administrator (address, ENS name or wallet name)")
	f.StringVar(&deployAddress, "address", "", "sale address (default: derived from the administrator)")
	f.StringVar(&deployToken, "token", "", "token ledger address")
	f.Uint64Var(&deployTokenID, "token-id", 0, "token id credited to contributors")
	f.Uint64Var(&deployRate, "rate", 1, "tokens credited per unit contributed")
	f.StringVar(&deployCap, "cap", "", "individual cap, in base units")
	f.StringVar(&deployMaxRaise, "max-raise", "", "maximum raise, in base units")
	f.StringVar(&deployStart, "start", "", "start time, RFC3339 (default: now)")
	f.StringVar(&deployEnd, "end", "", "end time, RFC3339")
	f.DurationVar(&deployDuration, "duration", 0, "sale length from the start time, e.g. 720h")
	f.StringVar(&deployName, "name", "", "metadata name")
	f.StringVar(&deployDescription, "description", "", "metadata description")
	f.StringVar(&deployHomepage, "homepage", "", "metadata homepage")
	f.StringSliceVar(&deployAuthors, "author", nil, "metadata author (repeatable)")
	f.StringVar(&deploySupply, "supply", "", "tokens credited to the sale address (local ledger only)")
}
