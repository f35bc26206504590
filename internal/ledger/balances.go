package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Errors.
var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrOverflow            = errors.New("ledger: balance overflow")
	ErrEmptyBatch          = errors.New("ledger: empty transfer batch")
)

// Native is the pseudo ledger address under which native currency balances
// are kept.
var Native = common.Address{}

// Key identifies one balance: an owner's holding of a token id on a ledger.
type Key struct {
	Ledger  common.Address
	TokenID uint64
	Owner   common.Address
}

// NativeKey returns the key of owner's native balance.
func NativeKey(owner common.Address) Key {
	return Key{Ledger: Native, Owner: owner}
}

func (k Key) String() string {
	if k.Ledger == Native {
		return "native/" + k.Owner.Hex()
	}
	return fmt.Sprintf("%s/%d/%s", k.Ledger.Hex(), k.TokenID, k.Owner.Hex())
}

// Balances is a balance table that transfers are applied against.
type Balances interface {
	Balance(k Key) (uint256.Int, error)
	SetBalance(k Key, v uint256.Int) error
}

// Ledger is a local token ledger that also keeps the native funds of the
// sale. Native value only ever moves between balances; Mint is the one way
// to create it.
type Ledger interface {
	sale.TokenLedger
	sale.Treasury
	Mint(ctx context.Context, k Key, amount *uint256.Int) error
	BalanceOf(ctx context.Context, k Key) (*uint256.Int, error)
}

// overlay buffers writes so a batch reaches the underlying table only once
// every record of it has applied.
type overlay struct {
	base   Balances
	writes map[Key]uint256.Int
	order  []Key
}

func newOverlay(base Balances) *overlay {
	return &overlay{base: base, writes: make(map[Key]uint256.Int)}
}

func (o *overlay) Balance(k Key) (uint256.Int, error) {
	if v, ok := o.writes[k]; ok {
		return v, nil
	}
	return o.base.Balance(k)
}

func (o *overlay) SetBalance(k Key, v uint256.Int) error {
	if _, ok := o.writes[k]; !ok {
		o.order = append(o.order, k)
	}
	o.writes[k] = v
	return nil
}

func (o *overlay) flush() error {
	for _, k := range o.order {
		if err := o.base.SetBalance(k, o.writes[k]); err != nil {
			return err
		}
	}
	return nil
}

func debit(b Balances, k Key, amount *uint256.Int) error {
	cur, err := b.Balance(k)
	if err != nil {
		return err
	}
	if cur.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, k, cur.Dec(), amount.Dec())
	}
	cur.Sub(&cur, amount)
	return b.SetBalance(k, cur)
}

func credit(b Balances, k Key, amount *uint256.Int) error {
	cur, err := b.Balance(k)
	if err != nil {
		return err
	}
	if _, overflow := cur.AddOverflow(&cur, amount); overflow {
		return fmt.Errorf("%w: %s", ErrOverflow, k)
	}
	return b.SetBalance(k, cur)
}

// ApplyTransfer moves every record of txs from `from` on ledger. Either the
// whole batch applies or b is left untouched.
func ApplyTransfer(b Balances, ledger, from common.Address, txs []sale.TransferTx) error {
	if len(txs) == 0 {
		return ErrEmptyBatch
	}
	o := newOverlay(b)
	for i := range txs {
		tx := &txs[i]
		if err := debit(o, Key{Ledger: ledger, TokenID: tx.TokenID, Owner: from}, &tx.Amount); err != nil {
			return err
		}
		if err := credit(o, Key{Ledger: ledger, TokenID: tx.TokenID, Owner: tx.To}, &tx.Amount); err != nil {
			return err
		}
	}
	return o.flush()
}

// ApplyMove moves amount from one balance to another. Either both sides
// change or neither does.
func ApplyMove(b Balances, from, to Key, amount *uint256.Int) error {
	o := newOverlay(b)
	if err := debit(o, from, amount); err != nil {
		return err
	}
	if err := credit(o, to, amount); err != nil {
		return err
	}
	return o.flush()
}

// ApplyCredit adds amount to the balance at k.
func ApplyCredit(b Balances, k Key, amount *uint256.Int) error {
	return credit(b, k, amount)
}
