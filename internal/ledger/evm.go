package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Mohsinsiddi/w3sale/internal/chain"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/cloudflare/cfssl/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Errors raised when attached value cannot be matched to a payment on chain.
var (
	ErrPaymentRequired = errors.New("ledger: attached value needs a payment transaction")
	ErrPaymentMismatch = errors.New("ledger: payment does not back the call")
)

// TxSigner signs EVM transactions on behalf of the operator wallet.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) ([]byte, error)
}

// EVM dispatches token credits and payouts as transactions sent by the
// operator wallet. It implements sale.TokenLedger and sale.Treasury; on
// chain the operator wallet is the custody account.
type EVM struct {
	client       *chain.EVMClient
	signer       TxSigner
	chainID      *big.Int
	pollInterval time.Duration
	timeout      time.Duration
}

// EVMOption configures an EVM dispatcher.
type EVMOption func(*EVM)

// WithReceiptPolling sets how often and how long to wait for receipts.
func WithReceiptPolling(interval, timeout time.Duration) EVMOption {
	return func(e *EVM) {
		e.pollInterval = interval
		e.timeout = timeout
	}
}

// NewEVM creates a dispatcher sending through client.
func NewEVM(client *chain.EVMClient, signer TxSigner, chainID *big.Int, opts ...EVMOption) *EVM {
	e := &EVM{
		client:       client,
		signer:       signer,
		chainID:      chainID,
		pollInterval: 2 * time.Second,
		timeout:      2 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer implements sale.TokenLedger by calling transfer on the ledger
// contract and waiting for the transaction to be mined.
func (e *EVM) Transfer(ctx context.Context, ledger, from common.Address, txs []sale.TransferTx) error {
	if len(txs) == 0 {
		return ErrEmptyBatch
	}
	data, err := PackTransfer(from, txs)
	if err != nil {
		return fmt.Errorf("encoding transfer: %w", err)
	}
	_, err = e.send(ctx, ledger, data, nil)
	return err
}

// Collect implements sale.Treasury. Value cannot be pulled from a
// contributor, so it must already have been sent to the operator wallet:
// Collect checks that in.Payment is that transfer and that it was mined.
func (e *EVM) Collect(ctx context.Context, in sale.Collection) error {
	if in.Payment == (common.Hash{}) {
		return ErrPaymentRequired
	}
	t, err := e.client.TransactionByHash(ctx, in.Payment)
	if err != nil {
		return fmt.Errorf("fetching payment %s: %w", in.Payment.Hex(), err)
	}
	if t == nil {
		return fmt.Errorf("%w: %s is unknown to the node", ErrPaymentMismatch, in.Payment.Hex())
	}

	custody := e.signer.Address()
	switch {
	case t.From != in.From:
		return fmt.Errorf("%w: sent by %s, caller is %s", ErrPaymentMismatch, t.From.Hex(), in.From.Hex())
	case t.To == nil || *t.To != custody:
		return fmt.Errorf("%w: not sent to the operator wallet %s", ErrPaymentMismatch, custody.Hex())
	case t.Value.Cmp(in.Amount.ToBig()) != 0:
		return fmt.Errorf("%w: carries %s, call attaches %s", ErrPaymentMismatch, t.Value, in.Amount.Dec())
	}

	r, err := e.client.TransactionReceipt(ctx, in.Payment)
	if err != nil {
		return fmt.Errorf("fetching payment receipt: %w", err)
	}
	if r == nil {
		return fmt.Errorf("%w: %s is not mined yet", ErrPaymentMismatch, in.Payment.Hex())
	}
	if r.Status != 1 {
		return fmt.Errorf("%w: %s reverted", ErrPaymentMismatch, in.Payment.Hex())
	}
	log.Infof("payment %s of %s from %s accepted", in.Payment.Hex(), in.Amount.Dec(), in.From.Hex())
	return nil
}

// Release implements sale.Treasury. The payment stays with the operator
// wallet; the call it backed did not commit, so it is unspent and can back
// a retry.
func (e *EVM) Release(_ context.Context, in sale.Collection) error {
	log.Infof("payment %s from %s left unspent", in.Payment.Hex(), in.From.Hex())
	return nil
}

// Pay implements sale.Treasury with a plain value transfer from the
// operator wallet.
func (e *EVM) Pay(ctx context.Context, _, to common.Address, amount *uint256.Int) error {
	_, err := e.send(ctx, to, nil, amount.ToBig())
	return err
}

// BalanceOf reads a token balance from the ledger contract, or the native
// balance when k.Ledger is Native.
func (e *EVM) BalanceOf(ctx context.Context, k Key) (*uint256.Int, error) {
	if k.Ledger == Native {
		wei, err := e.client.BalanceAt(ctx, k.Owner)
		if err != nil {
			return nil, err
		}
		v, _ := uint256.FromBig(wei)
		return v, nil
	}
	data, err := PackBalanceOf(k.Owner, k.TokenID)
	if err != nil {
		return nil, err
	}
	out, err := e.client.CallContract(ctx, k.Ledger, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	res, err := fa2ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("decoding balanceOf: %w", err)
	}
	v, _ := uint256.FromBig(res[0].(*big.Int))
	return v, nil
}

func (e *EVM) send(ctx context.Context, to common.Address, data []byte, value *big.Int) (*chain.TxReceipt, error) {
	from := e.signer.Address()

	gas, err := e.client.EstimateGas(ctx, chain.CallMsg{From: from, To: to, Data: data, Value: value})
	if err != nil {
		log.Debugf("estimating gas for %s failed, using fallback: %v", to.Hex(), err)
		gas = 100000
	}

	gasPrice, err := e.client.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting gas price: %w", err)
	}

	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("getting nonce: %w", err)
	}

	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: gasPrice,
		GasFeeCap: new(big.Int).Mul(gasPrice, big.NewInt(2)),
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	raw, err := e.signer.SignTx(tx, e.chainID)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	hash, err := e.client.SendRawTransaction(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("broadcasting transaction: %w", err)
	}
	log.Infof("sent %s to %s, waiting for receipt", hash.Hex(), to.Hex())

	waitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.client.WaitForReceipt(waitCtx, hash, e.pollInterval)
}
