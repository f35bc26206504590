package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/cloudflare/cfssl/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/w3sale/internal/chain"
	"github.com/Mohsinsiddi/w3sale/internal/config"
	"github.com/Mohsinsiddi/w3sale/internal/ens"
	"github.com/Mohsinsiddi/w3sale/internal/ledger"
	"github.com/Mohsinsiddi/w3sale/internal/rpc"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/Mohsinsiddi/w3sale/internal/store"
	"github.com/Mohsinsiddi/w3sale/internal/wallet"
)

// balanceReader is the read side shared by the local and EVM ledgers.
type balanceReader interface {
	BalanceOf(ctx context.Context, k ledger.Key) (*uint256.Int, error)
}

// collaborators are the outbound sides of a sale for the configured ledger.
type collaborators struct {
	tokens   sale.TokenLedger
	treasury sale.Treasury
	balances balanceReader
	local    *store.BoltLedger // nil in evm mode
}

// session is an open sale database plus its collaborators.
type session struct {
	db     *store.Bolt
	collab collaborators
}

func (s *session) Close() {
	if err := s.db.Close(); err != nil {
		log.Warningf("closing %s: %v", s.db.Path(), err)
	}
}

// options returns the sale options wiring the journal and collaborators.
func (s *session) options(extra ...sale.Option) []sale.Option {
	opts := []sale.Option{
		sale.WithJournal(s.db),
		sale.WithTokenLedger(s.collab.tokens),
		sale.WithTreasury(s.collab.treasury),
	}
	return append(opts, extra...)
}

// openSession opens the sale database and builds the configured ledger.
func openSession(ctx context.Context) (*session, error) {
	db, err := store.OpenBolt(cfg.DataPath())
	if err != nil {
		return nil, err
	}
	collab, err := buildCollaborators(ctx, db)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &session{db: db, collab: collab}, nil
}

func buildCollaborators(ctx context.Context, db *store.Bolt) (collaborators, error) {
	if cfg.Ledger != config.LedgerEVM {
		l := db.Ledger()
		return collaborators{tokens: l, treasury: l, balances: l, local: l}, nil
	}

	if cfg.OperatorWallet == "" {
		return collaborators{}, fmt.Errorf("ledger %q needs operator_wallet (w3sale config set operator_wallet <name>)", config.LedgerEVM)
	}
	signer, err := newWalletManager().Signer(cfg.OperatorWallet)
	if err != nil {
		return collaborators{}, fmt.Errorf("operator wallet: %w", err)
	}
	url, err := rpc.Select(ctx, cfg.RPCURLs(), rpc.Strategy(cfg.RPCStrategy))
	if err != nil {
		return collaborators{}, err
	}
	client := chain.NewEVMClient(url)
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			return collaborators{}, fmt.Errorf("querying chain id from %s: %w", url, err)
		}
	}
	log.Debugf("dispatching through %s (chain %s) as %s", url, chainID, signer.Address().Hex())
	evm := ledger.NewEVM(client, signer, chainID,
		ledger.WithReceiptPolling(config.ReceiptPollInterval, config.TxConfirmTimeout))
	return collaborators{tokens: evm, treasury: evm, balances: evm}, nil
}

// openContract opens the deployed sale.
func openContract(ctx context.Context, extra ...sale.Option) (*sale.Contract, *session, error) {
	sess, err := openSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	c, err := sale.Open(ctx, sess.db, sess.options(extra...)...)
	if err != nil {
		sess.Close()
		return nil, nil, err
	}
	return c, sess, nil
}

func newWalletManager() *wallet.Manager {
	return wallet.NewManager(wallet.WithStore(wallet.NewJSONStore(cfg.WalletsPath())))
}

// resolveAddress accepts a hex address, an ENS name (when an rpc_url is
// configured) or the name of a configured wallet.
func resolveAddress(ctx context.Context, s string) (common.Address, error) {
	if common.IsHexAddress(s) {
		return common.HexToAddress(s), nil
	}
	if ens.IsName(s) {
		return resolveENS(ctx, s)
	}
	w, err := newWalletManager().Get(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%q is neither an address nor a wallet: %w", s, err)
	}
	return w.Address, nil
}

func resolveENS(ctx context.Context, name string) (common.Address, error) {
	if cfg.RPCURL == "" {
		return common.Address{}, fmt.Errorf("resolving %q needs an rpc_url (w3sale config set rpc_url <url>)", name)
	}
	url, err := rpc.Select(ctx, cfg.RPCURLs(), rpc.Strategy(cfg.RPCStrategy))
	if err != nil {
		return common.Address{}, err
	}
	addr, err := ens.Resolve(ctx, chain.NewEVMClient(url), name)
	if err != nil {
		return common.Address{}, err
	}
	log.Debugf("%s resolved to %s", name, addr.Hex())
	return addr, nil
}

// resolveCaller resolves --as to a wallet whose key is in the keystore,
// falling back to the default wallet. Entry points act with the caller's
// authority, so a bare address, an ENS name or a watch-only wallet is
// refused.
func resolveCaller(as string) (common.Address, error) {
	if common.IsHexAddress(as) || ens.IsName(as) {
		return common.Address{}, fmt.Errorf("--as takes the name of a wallet holding a key, not %q (w3sale wallet add <name> --key <hex>)", as)
	}
	signer, err := newWalletManager().Signer(as)
	switch {
	case err == nil:
	case as == "" && errors.Is(err, wallet.ErrWalletNotFound):
		return common.Address{}, fmt.Errorf("--as is required (no default wallet)")
	case errors.Is(err, wallet.ErrWatchOnly):
		return common.Address{}, fmt.Errorf("%w: add it with --key to call as it", err)
	default:
		return common.Address{}, err
	}
	if err := signer.Unlock(); err != nil {
		return common.Address{}, fmt.Errorf("caller key: %w", err)
	}
	return signer.Address(), nil
}

// callFrom builds the invocation context of a CLI call. payment names the
// transaction that paid amount, for the evm ledger.
func callFrom(as, amount, payment string) (sale.Call, error) {
	caller, err := resolveCaller(as)
	if err != nil {
		return sale.Call{}, err
	}
	call := sale.Call{Caller: caller}
	if amount != "" {
		if call.Amount, err = sale.ParseAmount(amount); err != nil {
			return sale.Call{}, fmt.Errorf("invalid amount: %w", err)
		}
	}
	if payment != "" {
		b, err := hexutil.Decode(payment)
		if err != nil || len(b) != common.HashLength {
			return sale.Call{}, fmt.Errorf("invalid payment %q: want a 32-byte transaction hash", payment)
		}
		call.Payment = common.BytesToHash(b)
	}
	return call, nil
}
