package sale

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status is a read-only snapshot of a sale.
type Status struct {
	Administrator common.Address `json:"administrator"`
	Address       common.Address `json:"address"`
	Token         TokenTarget    `json:"token"`
	Rate          uint64         `json:"rate"`
	IndividualCap string         `json:"individual_cap"`
	MaximumRaise  string         `json:"maximum_raise"`
	AmountRaised  string         `json:"amount_raised"`
	Balance       string         `json:"balance"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Paused        bool           `json:"paused"`
	Ended         bool           `json:"ended"`
	Whitelisted   int            `json:"whitelisted"`
	Contributors  int            `json:"contributors"`
	// Withdrawable reports whether withdrawFunds would pass its lifecycle
	// gate at the time the snapshot was taken.
	Withdrawable bool `json:"withdrawable"`
}

// Status returns a snapshot of the sale at the current time.
func (c *Contract) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.status(c.now())
}

func (s *State) status(now time.Time) Status {
	return Status{
		Administrator: s.Administrator,
		Address:       s.Address,
		Token:         s.Token,
		Rate:          s.Rate,
		IndividualCap: s.IndividualCap.Dec(),
		MaximumRaise:  s.MaximumRaise.Dec(),
		AmountRaised:  s.AmountRaised.Dec(),
		Balance:       s.Balance.Dec(),
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Paused:        s.Paused,
		Ended:         s.Ended,
		Whitelisted:   len(s.Whitelist),
		Contributors:  len(s.Contributions),
		Withdrawable:  s.Ended || !now.Before(s.EndTime),
	}
}

// Contribution returns the cumulative accepted amount of addr.
func (c *Contract) Contribution(addr common.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.state.Contributions[addr]
	return &v
}

// IsWhitelisted reports whether addr may contribute.
func (c *Contract) IsWhitelisted(addr common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.state.Whitelist[addr]
	return ok
}

// Whitelist returns the whitelisted addresses in ascending order.
func (c *Contract) Whitelist() []common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedAddrs(c.state.Whitelist)
}

// Metadata returns the descriptive document of the sale.
func (c *Contract) Metadata() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Metadata.clone()
}

// Snapshot returns a deep copy of the current state.
func (c *Contract) Snapshot() *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}
