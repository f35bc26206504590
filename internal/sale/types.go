package sale

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// TokenTarget is the ledger contract and token id credited on contributions.
type TokenTarget struct {
	Ledger  common.Address `json:"ledger"`
	TokenID uint64         `json:"token_id"`
}

// Params are the deployment parameters of a sale. They are immutable once
// the sale is deployed.
type Params struct {
	Administrator common.Address
	Address       common.Address // contract identity; derived from Administrator when zero
	Token         TokenTarget
	Rate          uint64
	IndividualCap *uint256.Int
	MaximumRaise  *uint256.Int
	StartTime     time.Time
	EndTime       time.Time
	Metadata      *Metadata // nil selects DefaultMetadata
}

// State is the persistent record of a sale.
type State struct {
	Administrator common.Address
	Address       common.Address
	Token         TokenTarget
	Rate          uint64
	IndividualCap uint256.Int
	MaximumRaise  uint256.Int
	AmountRaised  uint256.Int
	Balance       uint256.Int // funds held in custody
	StartTime     time.Time   // stored, never consulted for admission
	EndTime       time.Time
	Paused        bool
	Ended         bool // one-way latch
	Whitelist     map[common.Address]struct{}
	Contributions map[common.Address]uint256.Int
	Payments      map[common.Hash]struct{} // on-chain payments already attached to a call
	Metadata      Metadata
}

// Call carries the implicit context of an invocation: who invokes it, the
// value attached to it and the time it executes at.
type Call struct {
	Caller  common.Address
	Amount  *uint256.Int // nil means nothing attached
	Payment common.Hash  // transaction that paid Amount, for ledgers settling on chain
	Now     time.Time    // zero selects the contract clock
}

func (c Call) value() *uint256.Int {
	if c.Amount == nil {
		return new(uint256.Int)
	}
	return c.Amount
}

// TransferTx is one record of a token ledger transfer batch.
type TransferTx struct {
	To      common.Address
	TokenID uint64
	Amount  uint256.Int
}

// Effect is an outbound request produced by a committed transition.
type Effect interface {
	effect()
}

// Dispatch credits tokens through the token ledger at Ledger.
type Dispatch struct {
	Ledger common.Address
	From   common.Address
	Txs    []TransferTx
}

// Payout releases custody funds held at From to To.
type Payout struct {
	From   common.Address
	To     common.Address
	Amount uint256.Int
}

// Collection is the value attached to a call on its way into custody at To.
// Payment, when set, is the transaction that moved it.
type Collection struct {
	From    common.Address
	To      common.Address
	Amount  uint256.Int
	Payment common.Hash
}

func (Dispatch) effect() {}
func (Payout) effect()   {}

// EntryPoint names a public entry point of the contract.
type EntryPoint string

const (
	EntryBuyTokens            EntryPoint = "buyTokens"
	EntryAddToWhitelist       EntryPoint = "addToWhitelist"
	EntryAddMultipleWhitelist EntryPoint = "addMultipleWhitelist"
	EntryChangeAdmin          EntryPoint = "changeAdmin"
	EntryPauseSale            EntryPoint = "pauseSale"
	EntryUnpauseSale          EntryPoint = "unpauseSale"
	EntryWithdrawFunds        EntryPoint = "withdrawFunds"
)

// Outcome classifies how an invocation finished.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
	OutcomeReverted Outcome = "reverted" // effect failed, state rolled back
)

// Entry is the journal record of one invocation.
type Entry struct {
	ID         uuid.UUID
	EntryPoint EntryPoint
	Caller     common.Address
	Amount     uint256.Int
	Args       []string
	At         time.Time
	Outcome    Outcome
	Kind       Kind   // set when Outcome is OutcomeRejected
	Error      string // set unless Outcome is OutcomeApplied
}
