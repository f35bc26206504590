package ledger

import (
	"context"
	"sync"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/cloudflare/cfssl/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Book is an in-memory Ledger. It backs local simulations and tests.
type Book struct {
	mu       sync.Mutex
	balances map[Key]uint256.Int
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{balances: make(map[Key]uint256.Int)}
}

// Balance implements Balances. Callers must hold b.mu.
func (b *Book) Balance(k Key) (uint256.Int, error) {
	return b.balances[k], nil
}

// SetBalance implements Balances. Callers must hold b.mu.
func (b *Book) SetBalance(k Key, v uint256.Int) error {
	if v.IsZero() {
		delete(b.balances, k)
		return nil
	}
	b.balances[k] = v
	return nil
}

// Transfer implements sale.TokenLedger.
func (b *Book) Transfer(_ context.Context, ledger, from common.Address, txs []sale.TransferTx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ApplyTransfer(b, ledger, from, txs); err != nil {
		return err
	}
	log.Debugf("book: %d record(s) transferred from %s on %s", len(txs), from.Hex(), ledger.Hex())
	return nil
}

// Collect implements sale.Treasury by moving the attached value from the
// caller's native balance into custody.
func (b *Book) Collect(_ context.Context, in sale.Collection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ApplyMove(b, NativeKey(in.From), NativeKey(in.To), &in.Amount)
}

// Release implements sale.Treasury.
func (b *Book) Release(_ context.Context, in sale.Collection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ApplyMove(b, NativeKey(in.To), NativeKey(in.From), &in.Amount)
}

// Pay implements sale.Treasury.
func (b *Book) Pay(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ApplyMove(b, NativeKey(from), NativeKey(to), amount)
}

// Mint credits amount at k.
func (b *Book) Mint(_ context.Context, k Key, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ApplyCredit(b, k, amount)
}

// BalanceOf returns the balance at k.
func (b *Book) BalanceOf(_ context.Context, k Key) (*uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.balances[k]
	return &v, nil
}
