package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Mohsinsiddi/w3sale/internal/chain"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type keySigner struct{ key *ecdsa.PrivateKey }

func newKeySigner(t *testing.T) *keySigner {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &keySigner{key: k}
}

func (s *keySigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

func (s *keySigner) SignTx(tx *types.Transaction, chainID *big.Int) ([]byte, error) {
	signed, err := types.SignTx(tx, types.NewLondonSigner(chainID), s.key)
	if err != nil {
		return nil, err
	}
	return signed.MarshalBinary()
}

// node is a fake JSON-RPC endpoint recording broadcast transactions.
type node struct {
	mu      sync.Mutex
	sent    []*types.Transaction
	status  string
	callOut string
	txs     map[common.Hash]map[string]any // eth_getTransactionByHash answers
}

func (n *node) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     int64             `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "eth_estimateGas":
			result = "0x186a0"
		case "eth_gasPrice":
			result = "0x3b9aca00"
		case "eth_getTransactionCount":
			result = "0x7"
		case "eth_getBalance":
			result = "0x2a"
		case "eth_call":
			result = n.callOut
		case "eth_sendRawTransaction":
			var rawHex string
			require.NoError(t, json.Unmarshal(req.Params[0], &rawHex))
			var tx types.Transaction
			require.NoError(t, tx.UnmarshalBinary(hexutil.MustDecode(rawHex)))
			n.mu.Lock()
			n.sent = append(n.sent, &tx)
			n.mu.Unlock()
			result = tx.Hash().Hex()
		case "eth_getTransactionReceipt":
			result = map[string]any{"status": n.status, "blockNumber": "0x10", "gasUsed": "0x5208"}
		case "eth_getTransactionByHash":
			var h common.Hash
			require.NoError(t, json.Unmarshal(req.Params[0], &h))
			if found, ok := n.txs[h]; ok {
				result = found
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result}) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEVM(t *testing.T, n *node) (*EVM, *keySigner) {
	t.Helper()
	srv := n.serve(t)
	signer := newKeySigner(t)
	return NewEVM(chain.NewEVMClient(srv.URL), signer, big.NewInt(31337),
		WithReceiptPolling(time.Millisecond, time.Second)), signer
}

// ---------------------------------------------------------------------------
// ABI
// ---------------------------------------------------------------------------

func TestPackTransferRoundTrip(t *testing.T) {
	data, err := PackTransfer(saleAddr, []sale.TransferTx{tx(alice, 0, 42000), tx(bob, 3, 1)})
	require.NoError(t, err)
	assert.Equal(t, fa2ABI.Methods["transfer"].ID, data[:4])

	batches, err := unpackTransfer(data)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, saleAddr, batches[0].From)
	require.Len(t, batches[0].Txs, 2)
	assert.Equal(t, alice, batches[0].Txs[0].To)
	assert.Equal(t, "42000", batches[0].Txs[0].Amount.String())
	assert.Equal(t, int64(3), batches[0].Txs[1].TokenId.Int64())
}

// ---------------------------------------------------------------------------
// EVM dispatch
// ---------------------------------------------------------------------------

func TestEVMTransferSendsCalldata(t *testing.T) {
	n := &node{status: "0x1"}
	e, _ := newTestEVM(t, n)

	err := e.Transfer(context.Background(), tokenAddr, saleAddr, []sale.TransferTx{tx(alice, 0, 500)})
	require.NoError(t, err)

	require.Len(t, n.sent, 1)
	sent := n.sent[0]
	assert.Equal(t, tokenAddr, *sent.To())
	assert.Equal(t, uint64(7), sent.Nonce())
	assert.Equal(t, uint64(100000), sent.Gas())
	assert.Equal(t, int64(31337), sent.ChainId().Int64())

	batches, err := unpackTransfer(sent.Data())
	require.NoError(t, err)
	assert.Equal(t, alice, batches[0].Txs[0].To)
}

func TestEVMTransferReverted(t *testing.T) {
	n := &node{status: "0x0"}
	e, _ := newTestEVM(t, n)

	err := e.Transfer(context.Background(), tokenAddr, saleAddr, []sale.TransferTx{tx(alice, 0, 1)})
	assert.ErrorIs(t, err, chain.ErrReverted)
}

func TestEVMPaySendsValue(t *testing.T) {
	n := &node{status: "0x1"}
	e, signer := newTestEVM(t, n)

	require.NoError(t, e.Pay(context.Background(), saleAddr, alice, uint256.NewInt(84000)))

	require.Len(t, n.sent, 1)
	sent := n.sent[0]
	assert.Equal(t, alice, *sent.To())
	assert.Equal(t, "84000", sent.Value().String())
	assert.Empty(t, sent.Data())

	from, err := types.Sender(types.NewLondonSigner(big.NewInt(31337)), sent)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
}

func TestEVMCollectChecksPayment(t *testing.T) {
	paid := common.HexToHash("0xfeed")
	n := &node{status: "0x1"}
	e, signer := newTestEVM(t, n)
	operator := signer.Address()
	in := sale.Collection{From: alice, To: saleAddr, Amount: *uint256.NewInt(500), Payment: paid}
	payment := func(from, to common.Address, value string) map[common.Hash]map[string]any {
		return map[common.Hash]map[string]any{paid: {"from": from.Hex(), "to": to.Hex(), "value": value}}
	}
	ctx := context.Background()

	t.Run("accepted", func(t *testing.T) {
		n.txs = payment(alice, operator, "0x1f4")
		n.status = "0x1"
		assert.NoError(t, e.Collect(ctx, in))
		assert.Empty(t, n.sent, "collecting sends nothing")
	})

	t.Run("no payment", func(t *testing.T) {
		noRef := in
		noRef.Payment = common.Hash{}
		assert.ErrorIs(t, e.Collect(ctx, noRef), ErrPaymentRequired)
	})

	tests := map[string]struct {
		txs    map[common.Hash]map[string]any
		status string
	}{
		"unknown":       {txs: nil, status: "0x1"},
		"other sender":  {txs: payment(bob, operator, "0x1f4"), status: "0x1"},
		"other payee":   {txs: payment(alice, saleAddr, "0x1f4"), status: "0x1"},
		"short payment": {txs: payment(alice, operator, "0x1f3"), status: "0x1"},
		"reverted":      {txs: payment(alice, operator, "0x1f4"), status: "0x0"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			n.txs = tc.txs
			n.status = tc.status
			assert.ErrorIs(t, e.Collect(ctx, in), ErrPaymentMismatch)
		})
	}

	require.NoError(t, e.Release(ctx, in))
	assert.Empty(t, n.sent, "releasing sends nothing")
}

func TestEVMBalanceOf(t *testing.T) {
	n := &node{callOut: "0x" + common.Bytes2Hex(common.LeftPadBytes([]byte{0x01, 0x00}, 32))}
	e, _ := newTestEVM(t, n)

	v, err := e.BalanceOf(context.Background(), Key{Ledger: tokenAddr, Owner: alice})
	require.NoError(t, err)
	assert.Equal(t, "256", v.Dec())

	v, err = e.BalanceOf(context.Background(), NativeKey(alice))
	require.NoError(t, err)
	assert.Equal(t, "42", v.Dec())
}
