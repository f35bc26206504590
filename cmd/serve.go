package cmd

import (
	"errors"
	"net/http"

	"github.com/cloudflare/cfssl/log"
	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/w3sale/internal/api"
	"github.com/Mohsinsiddi/w3sale/internal/metrics"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sale over HTTP",
	Long: `Serve the sale over HTTP until interrupted.

Mutating routes (POST /v1/...) take a JSON body signed with the caller's
key (EIP-191 personal message) in the X-Sale-Signature header. The body
must carry issued_at within signature_ttl seconds of the server clock.
Reads are unauthenticated. Prometheus metrics are served on /metrics.

The gateway holds the sale database open, so other w3sale commands wait
for it to stop.

Examples:
  w3sale serve --listen 127.0.0.1:8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := serveAddr
		if addr == "" {
			addr = cfg.ListenAddr
		}
		if !verbose && log.Level > log.LevelInfo {
			log.Level = log.LevelInfo
		}

		rec := metrics.New()
		ctx := cmd.Context()
		c, sess, err := openContract(ctx, sale.WithObserver(rec))
		if err != nil {
			return err
		}
		defer sess.Close()
		rec.Sync(c.Snapshot())

		srv := api.New(c,
			api.WithMetrics(rec.Handler()),
			api.WithSignatureTTL(cfg.SignatureWindow()),
		)
		st := c.Status()
		log.Infof("serving sale %s (ledger %s) on %s", st.Address.Hex(), cfg.Ledger, addr)
		if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		log.Info("gateway stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "listen address (default: listen_addr from config)")
}
