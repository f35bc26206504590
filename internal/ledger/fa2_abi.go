package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// fa2ABIJSON is the batch transfer entry point of a multi-token ledger.
//
// Function selectors:
//
//	transfer((address,(address,uint256,uint256)[])[])
//	balanceOf(address,uint256)
const fa2ABIJSON = `[
  {
    "type": "function",
    "name": "transfer",
    "stateMutability": "nonpayable",
    "inputs": [{
      "name": "batches",
      "type": "tuple[]",
      "components": [
        {"name": "from", "type": "address"},
        {"name": "txs", "type": "tuple[]", "components": [
          {"name": "to", "type": "address"},
          {"name": "tokenId", "type": "uint256"},
          {"name": "amount", "type": "uint256"}
        ]}
      ]
    }],
    "outputs": []
  },
  {
    "type": "function",
    "name": "balanceOf",
    "stateMutability": "view",
    "inputs": [
      {"name": "owner", "type": "address"},
      {"name": "tokenId", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`

var fa2ABI = mustParseABI(fa2ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("ledger: invalid built-in ABI: %v", err))
	}
	return parsed
}

// fa2Tx and fa2Batch mirror the tuple components above. Field names follow
// the ABI argument names in CamelCase.
type fa2Tx struct {
	To      common.Address
	TokenId *big.Int //nolint:revive
	Amount  *big.Int
}

type fa2Batch struct {
	From common.Address
	Txs  []fa2Tx
}

// PackTransfer encodes a single-sender transfer batch as calldata.
func PackTransfer(from common.Address, txs []sale.TransferTx) ([]byte, error) {
	batch := fa2Batch{From: from, Txs: make([]fa2Tx, len(txs))}
	for i, tx := range txs {
		batch.Txs[i] = fa2Tx{
			To:      tx.To,
			TokenId: new(big.Int).SetUint64(tx.TokenID),
			Amount:  tx.Amount.ToBig(),
		}
	}
	return fa2ABI.Pack("transfer", []fa2Batch{batch})
}

// unpackTransfer decodes calldata produced by PackTransfer.
func unpackTransfer(data []byte) ([]fa2Batch, error) {
	method, err := fa2ABI.MethodById(data)
	if err != nil {
		return nil, err
	}
	if method.Name != "transfer" {
		return nil, fmt.Errorf("unexpected method %s", method.Name)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	out := *abi.ConvertType(args[0], new([]fa2Batch)).(*[]fa2Batch)
	return out, nil
}

// PackBalanceOf encodes a balanceOf(owner, tokenId) call.
func PackBalanceOf(owner common.Address, tokenID uint64) ([]byte, error) {
	return fa2ABI.Pack("balanceOf", owner, new(big.Int).SetUint64(tokenID))
}
