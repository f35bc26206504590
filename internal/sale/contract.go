package sale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudflare/cfssl/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// TokenLedger is the external token ledger credited on contributions. It
// mirrors an FA2-style transfer: one sender, a batch of records.
type TokenLedger interface {
	Transfer(ctx context.Context, ledger, from common.Address, txs []TransferTx) error
}

// Treasury holds the funds in custody of the sale.
//
// Collect takes the value attached to a call into custody and fails when
// the caller did not pay it. Release hands a collection back when the call
// it came with does not commit. Pay moves custody funds out.
type Treasury interface {
	Collect(ctx context.Context, in Collection) error
	Release(ctx context.Context, in Collection) error
	Pay(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// Store persists the sale state between invocations.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
}

// Journal records every invocation, successful or not.
type Journal interface {
	Record(ctx context.Context, e Entry) error
}

// Observer is notified after every invocation with the resulting state.
type Observer interface {
	Observe(e Entry, s *State)
}

// Option configures a Contract.
type Option func(*Contract)

// WithStore persists every committed state to st.
func WithStore(st Store) Option {
	return func(c *Contract) { c.store = st }
}

// WithTokenLedger sets the ledger credited on contributions.
func WithTokenLedger(l TokenLedger) Option {
	return func(c *Contract) { c.tokens = l }
}

// WithTreasury sets the collaborator paying out withdrawals.
func WithTreasury(t Treasury) Option {
	return func(c *Contract) { c.treasury = t }
}

// WithJournal records invocations to j.
func WithJournal(j Journal) Option {
	return func(c *Contract) { c.journal = j }
}

// WithObserver reports invocations to o.
func WithObserver(o Observer) Option {
	return func(c *Contract) { c.observers = append(c.observers, o) }
}

// WithClock overrides the time source used when a Call carries no time.
func WithClock(now func() time.Time) Option {
	return func(c *Contract) { c.now = now }
}

// Contract is the execution environment of a sale. It owns the state,
// serializes entry points and makes each of them atomic: a call either
// commits its state change and its outbound effect, or leaves no trace.
//
// Collaborators receive a context marking the invocation in flight and must
// pass it along. A call arriving while a collaborator runs fails with
// ErrBusy instead of waiting behind it.
type Contract struct {
	mu        sync.Mutex
	outbound  atomic.Bool
	state     *State
	store     Store
	tokens    TokenLedger
	treasury  Treasury
	journal   Journal
	observers []Observer
	now       func() time.Time
}

// New wraps an existing state.
func New(state *State, opts ...Option) *Contract {
	c := &Contract{
		state: state,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open loads the state from st and wraps it. st is also used to persist
// every subsequent commit.
func Open(ctx context.Context, st Store, opts ...Option) (*Contract, error) {
	state, err := st.Load(ctx)
	if err != nil {
		return nil, err
	}
	return New(state, append([]Option{WithStore(st)}, opts...)...), nil
}

// DeployTo validates p, persists the initial state to st and returns the
// contract.
func DeployTo(ctx context.Context, st Store, p Params, opts ...Option) (*Contract, error) {
	if _, err := st.Load(ctx); err == nil {
		return nil, ErrAlreadyDeployed
	} else if !errors.Is(err, ErrNotDeployed) {
		return nil, err
	}
	state, err := Deploy(p)
	if err != nil {
		return nil, err
	}
	if err := st.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	log.Infof("sale deployed at %s by %s", state.Address.Hex(), state.Administrator.Hex())
	return New(state, append([]Option{WithStore(st)}, opts...)...), nil
}

type reentryKey struct{}

func inFlight(ctx context.Context) bool {
	v, _ := ctx.Value(reentryKey{}).(bool)
	return v
}

// invocation describes one entry point call for the runtime.
type invocation struct {
	entry EntryPoint
	call  Call
	args  []string
	apply func(s *State, call Call) (Effect, error)
}

func (c *Contract) invoke(ctx context.Context, inv invocation) error {
	if inFlight(ctx) {
		return fmt.Errorf("%w: %s", ErrReentrantCall, inv.entry)
	}

	if c.outbound.Load() {
		if !c.mu.TryLock() {
			return fmt.Errorf("%w: %s", ErrBusy, inv.entry)
		}
	} else {
		c.mu.Lock()
	}
	defer c.mu.Unlock()

	if inv.call.Now.IsZero() {
		inv.call.Now = c.now()
	}
	e := Entry{
		ID:         uuid.New(),
		EntryPoint: inv.entry,
		Caller:     inv.call.Caller,
		Amount:     *inv.call.value(),
		Args:       inv.args,
		At:         inv.call.Now.UTC(),
	}

	err := c.execute(ctx, inv)
	switch kind, rejected := KindOf(err); {
	case err == nil:
		e.Outcome = OutcomeApplied
	case rejected:
		e.Outcome = OutcomeRejected
		e.Kind = kind
		e.Error = err.Error()
		log.Debugf("%s from %s rejected: %v", inv.entry, inv.call.Caller.Hex(), err)
	case errors.Is(err, ErrDispatchFailed):
		e.Outcome = OutcomeReverted
		e.Error = err.Error()
	default:
		e.Outcome = OutcomeRejected
		e.Error = err.Error()
	}
	c.report(ctx, e)
	return err
}

func (c *Contract) execute(ctx context.Context, inv invocation) error {
	snapshot := c.state.Clone()
	effect, err := inv.apply(c.state, inv.call)
	if err != nil {
		c.state = snapshot
		return err
	}

	octx := context.WithValue(ctx, reentryKey{}, true)
	c.outbound.Store(true)
	defer c.outbound.Store(false)

	in, err := c.collect(octx, inv.call)
	if err != nil {
		c.state = snapshot
		return err
	}
	// undo restores the snapshot and hands back what was collected.
	undo := func() error {
		c.state = snapshot
		if in == nil {
			return nil
		}
		if rerr := c.treasury.Release(octx, *in); rerr != nil {
			log.Errorf("releasing %s collected from %s failed: %v", in.Amount.Dec(), in.From.Hex(), rerr)
			return fmt.Errorf("release: %w", rerr)
		}
		return nil
	}

	if c.store != nil {
		if err := c.store.Save(ctx, c.state); err != nil {
			return errors.Join(fmt.Errorf("%w: %w", ErrCommitFailed, err), undo())
		}
	}

	if err := c.dispatch(octx, effect); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrDispatchFailed, inv.entry, err)
		err = errors.Join(err, undo())
		if c.store != nil {
			if cerr := c.store.Save(ctx, snapshot); cerr != nil {
				log.Errorf("compensating %s failed, stored state is ahead of the ledger: %v", inv.entry, cerr)
				return errors.Join(err, fmt.Errorf("%w: %w", ErrCommitFailed, cerr))
			}
		}
		log.Errorf("%s from %s reverted: %v", inv.entry, inv.call.Caller.Hex(), err)
		return err
	}
	return nil
}

// collect takes the attached value into custody and records the payment
// backing it. Calls without value collect nothing.
func (c *Contract) collect(ctx context.Context, call Call) (*Collection, error) {
	v := call.value()
	if v.IsZero() {
		return nil, nil
	}
	if c.treasury == nil {
		return nil, fmt.Errorf("%w: no treasury configured", ErrCollectFailed)
	}
	if err := c.state.usePayment(call.Payment); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollectFailed, err)
	}
	in := &Collection{From: call.Caller, To: c.state.Address, Amount: *v, Payment: call.Payment}
	if err := c.treasury.Collect(ctx, *in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollectFailed, err)
	}
	return in, nil
}

func (c *Contract) dispatch(ctx context.Context, effect Effect) error {
	switch eff := effect.(type) {
	case nil:
		return nil
	case *Dispatch:
		if c.tokens == nil {
			return errors.New("no token ledger configured")
		}
		return c.tokens.Transfer(ctx, eff.Ledger, eff.From, eff.Txs)
	case *Payout:
		if c.treasury == nil {
			return errors.New("no treasury configured")
		}
		return c.treasury.Pay(ctx, eff.From, eff.To, &eff.Amount)
	default:
		return fmt.Errorf("unknown effect %T", effect)
	}
}

func (c *Contract) report(ctx context.Context, e Entry) {
	if c.journal != nil {
		if err := c.journal.Record(ctx, e); err != nil {
			log.Warningf("journal %s %s: %v", e.EntryPoint, e.ID, err)
		}
	}
	for _, o := range c.observers {
		o.Observe(e, c.state)
	}
}

// BuyTokens contributes call.Amount from call.Caller and credits
// call.Amount * rate tokens to the caller.
func (c *Contract) BuyTokens(ctx context.Context, call Call) error {
	return c.invoke(ctx, invocation{
		entry: EntryBuyTokens,
		call:  call,
		apply: func(s *State, call Call) (Effect, error) {
			d, err := s.BuyTokens(call)
			if err != nil {
				return nil, err
			}
			log.Infof("contribution of %s from %s accepted, raised %s/%s", call.value().Dec(), call.Caller.Hex(), s.AmountRaised.Dec(), s.MaximumRaise.Dec())
			return d, nil
		},
	})
}

// AddToWhitelist admits addr to the whitelist.
func (c *Contract) AddToWhitelist(ctx context.Context, call Call, addr common.Address) error {
	return c.invoke(ctx, invocation{
		entry: EntryAddToWhitelist,
		call:  call,
		args:  []string{addr.Hex()},
		apply: func(s *State, call Call) (Effect, error) {
			return nil, s.AddToWhitelist(call, addr)
		},
	})
}

// AddMultipleWhitelist admits every address in addrs.
func (c *Contract) AddMultipleWhitelist(ctx context.Context, call Call, addrs []common.Address) error {
	args := make([]string, len(addrs))
	for i, a := range addrs {
		args[i] = a.Hex()
	}
	return c.invoke(ctx, invocation{
		entry: EntryAddMultipleWhitelist,
		call:  call,
		args:  args,
		apply: func(s *State, call Call) (Effect, error) {
			return nil, s.AddMultipleWhitelist(call, addrs)
		},
	})
}

// ChangeAdmin transfers administration to newAdmin.
func (c *Contract) ChangeAdmin(ctx context.Context, call Call, newAdmin common.Address) error {
	return c.invoke(ctx, invocation{
		entry: EntryChangeAdmin,
		call:  call,
		args:  []string{newAdmin.Hex()},
		apply: func(s *State, call Call) (Effect, error) {
			if err := s.ChangeAdmin(call, newAdmin); err != nil {
				return nil, err
			}
			log.Infof("administrator changed from %s to %s", call.Caller.Hex(), newAdmin.Hex())
			return nil, nil
		},
	})
}

// PauseSale stops admission of contributions.
func (c *Contract) PauseSale(ctx context.Context, call Call) error {
	return c.invoke(ctx, invocation{
		entry: EntryPauseSale,
		call:  call,
		apply: func(s *State, call Call) (Effect, error) {
			return nil, s.PauseSale(call)
		},
	})
}

// UnpauseSale resumes admission of contributions.
func (c *Contract) UnpauseSale(ctx context.Context, call Call) error {
	return c.invoke(ctx, invocation{
		entry: EntryUnpauseSale,
		call:  call,
		apply: func(s *State, call Call) (Effect, error) {
			return nil, s.UnpauseSale(call)
		},
	})
}

// WithdrawFunds pays the whole custody balance to the administrator.
func (c *Contract) WithdrawFunds(ctx context.Context, call Call) error {
	return c.invoke(ctx, invocation{
		entry: EntryWithdrawFunds,
		call:  call,
		apply: func(s *State, call Call) (Effect, error) {
			p, err := s.WithdrawFunds(call)
			if err != nil {
				return nil, err
			}
			if p == nil {
				return nil, nil
			}
			log.Infof("withdrawing %s to %s", p.Amount.Dec(), p.To.Hex())
			return p, nil
		},
	})
}
