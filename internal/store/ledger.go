package store

import (
	"context"
	"encoding/binary"

	"github.com/Mohsinsiddi/w3sale/internal/ledger"
	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.etcd.io/bbolt"
)

// BoltLedger is a ledger.Ledger persisted in the balances bucket. Every
// operation runs in its own bbolt transaction, so a failed batch leaves no
// partial write.
type BoltLedger struct {
	db *bbolt.DB
}

var _ ledger.Ledger = (*BoltLedger)(nil)

// Ledger returns the local ledger kept in this database.
func (b *Bolt) Ledger() *BoltLedger { return &BoltLedger{db: b.db} }

// balanceKey encodes k as ledger(20) || tokenID(8) || owner(20).
func balanceKey(k ledger.Key) []byte {
	out := make([]byte, 0, 2*common.AddressLength+8)
	out = append(out, k.Ledger[:]...)
	out = binary.BigEndian.AppendUint64(out, k.TokenID)
	return append(out, k.Owner[:]...)
}

// txBalances adapts a balances bucket to ledger.Balances.
type txBalances struct{ bk *bbolt.Bucket }

func (t txBalances) Balance(k ledger.Key) (uint256.Int, error) {
	var v uint256.Int
	if data := t.bk.Get(balanceKey(k)); data != nil {
		v.SetBytes(data)
	}
	return v, nil
}

func (t txBalances) SetBalance(k ledger.Key, v uint256.Int) error {
	if v.IsZero() {
		return t.bk.Delete(balanceKey(k))
	}
	return t.bk.Put(balanceKey(k), v.Bytes())
}

func (l *BoltLedger) update(fn func(b ledger.Balances) error) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return fn(txBalances{bk: tx.Bucket(bucketBalances)})
	})
}

// Transfer implements sale.TokenLedger.
func (l *BoltLedger) Transfer(_ context.Context, ledgerAddr, from common.Address, txs []sale.TransferTx) error {
	return l.update(func(b ledger.Balances) error {
		return ledger.ApplyTransfer(b, ledgerAddr, from, txs)
	})
}

// Collect implements sale.Treasury by moving the attached value from the
// caller's native balance into custody.
func (l *BoltLedger) Collect(_ context.Context, in sale.Collection) error {
	return l.move(ledger.NativeKey(in.From), ledger.NativeKey(in.To), &in.Amount)
}

// Release implements sale.Treasury.
func (l *BoltLedger) Release(_ context.Context, in sale.Collection) error {
	return l.move(ledger.NativeKey(in.To), ledger.NativeKey(in.From), &in.Amount)
}

// Pay implements sale.Treasury.
func (l *BoltLedger) Pay(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	return l.move(ledger.NativeKey(from), ledger.NativeKey(to), amount)
}

func (l *BoltLedger) move(from, to ledger.Key, amount *uint256.Int) error {
	return l.update(func(b ledger.Balances) error {
		return ledger.ApplyMove(b, from, to, amount)
	})
}

// Mint credits amount at k.
func (l *BoltLedger) Mint(_ context.Context, k ledger.Key, amount *uint256.Int) error {
	return l.update(func(b ledger.Balances) error {
		return ledger.ApplyCredit(b, k, amount)
	})
}

// BalanceOf returns the balance at k.
func (l *BoltLedger) BalanceOf(_ context.Context, k ledger.Key) (*uint256.Int, error) {
	var v uint256.Int
	err := l.db.View(func(tx *bbolt.Tx) error {
		var err error
		v, err = txBalances{bk: tx.Bucket(bucketBalances)}.Balance(k)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}
