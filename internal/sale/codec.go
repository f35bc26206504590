package sale

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// stateJSON is the persisted form of State. Amounts are decimal strings.
type stateJSON struct {
	Administrator common.Address    `json:"administrator"`
	Address       common.Address    `json:"address"`
	TokenLedger   common.Address    `json:"token_address"`
	TokenID       uint64            `json:"token_id"`
	Rate          uint64            `json:"rate"`
	IndividualCap string            `json:"individual_cap"`
	MaximumRaise  string            `json:"maximum_raise"`
	AmountRaised  string            `json:"amount_raised"`
	Balance       string            `json:"balance"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	Paused        bool              `json:"paused"`
	Ended         bool              `json:"ended"`
	Whitelist     []common.Address  `json:"whitelist"`
	Contributions map[string]string `json:"contributions"`
	Payments      []common.Hash     `json:"payments,omitempty"`
	Metadata      Metadata          `json:"metadata"`
}

// MarshalJSON implements json.Marshaler.
func (s *State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		Administrator: s.Administrator,
		Address:       s.Address,
		TokenLedger:   s.Token.Ledger,
		TokenID:       s.Token.TokenID,
		Rate:          s.Rate,
		IndividualCap: s.IndividualCap.Dec(),
		MaximumRaise:  s.MaximumRaise.Dec(),
		AmountRaised:  s.AmountRaised.Dec(),
		Balance:       s.Balance.Dec(),
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Paused:        s.Paused,
		Ended:         s.Ended,
		Whitelist:     sortedAddrs(s.Whitelist),
		Contributions: make(map[string]string, len(s.Contributions)),
		Metadata:      s.Metadata,
	}
	for a, c := range s.Contributions {
		out.Contributions[a.Hex()] = c.Dec()
	}
	for h := range s.Payments {
		out.Payments = append(out.Payments, h)
	}
	slices.SortFunc(out.Payments, func(a, b common.Hash) int { return a.Cmp(b) })
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	st := State{
		Administrator: in.Administrator,
		Address:       in.Address,
		Token:         TokenTarget{Ledger: in.TokenLedger, TokenID: in.TokenID},
		Rate:          in.Rate,
		StartTime:     in.StartTime,
		EndTime:       in.EndTime,
		Paused:        in.Paused,
		Ended:         in.Ended,
		Whitelist:     make(map[common.Address]struct{}, len(in.Whitelist)),
		Contributions: make(map[common.Address]uint256.Int, len(in.Contributions)),
		Payments:      make(map[common.Hash]struct{}, len(in.Payments)),
		Metadata:      in.Metadata,
	}
	for _, h := range in.Payments {
		st.Payments[h] = struct{}{}
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *uint256.Int
	}{
		{"individual_cap", in.IndividualCap, &st.IndividualCap},
		{"maximum_raise", in.MaximumRaise, &st.MaximumRaise},
		{"amount_raised", in.AmountRaised, &st.AmountRaised},
		{"balance", in.Balance, &st.Balance},
	} {
		if err := setDecimal(f.dst, f.src); err != nil {
			return fmt.Errorf("decoding %s: %w", f.name, err)
		}
	}
	for _, a := range in.Whitelist {
		st.Whitelist[a] = struct{}{}
	}
	for hexAddr, dec := range in.Contributions {
		if !common.IsHexAddress(hexAddr) {
			return fmt.Errorf("decoding contributions: invalid address %q", hexAddr)
		}
		var v uint256.Int
		if err := setDecimal(&v, dec); err != nil {
			return fmt.Errorf("decoding contribution of %s: %w", hexAddr, err)
		}
		st.Contributions[common.HexToAddress(hexAddr)] = v
	}

	*s = st
	return nil
}

func setDecimal(dst *uint256.Int, dec string) error {
	if dec == "" {
		dst.Clear()
		return nil
	}
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		return err
	}
	dst.Set(v)
	return nil
}

// ParseAmount parses a decimal or 0x-prefixed hex amount.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		v, err := uint256.FromHex(s)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		return v, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

func sortedAddrs(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b common.Address) int { return a.Cmp(b) })
	return out
}

type entryJSON struct {
	ID         uuid.UUID      `json:"id"`
	EntryPoint EntryPoint     `json:"entry_point"`
	Caller     common.Address `json:"caller"`
	Amount     string         `json:"amount"`
	Args       []string       `json:"args,omitempty"`
	At         time.Time      `json:"at"`
	Outcome    Outcome        `json:"outcome"`
	Kind       string         `json:"kind,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		ID:         e.ID,
		EntryPoint: e.EntryPoint,
		Caller:     e.Caller,
		Amount:     e.Amount.Dec(),
		Args:       e.Args,
		At:         e.At,
		Outcome:    e.Outcome,
		Error:      e.Error,
	}
	if e.Kind != 0 {
		out.Kind = e.Kind.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := Entry{
		ID:         in.ID,
		EntryPoint: in.EntryPoint,
		Caller:     in.Caller,
		Args:       in.Args,
		At:         in.At,
		Outcome:    in.Outcome,
		Error:      in.Error,
	}
	if err := setDecimal(&out.Amount, in.Amount); err != nil {
		return fmt.Errorf("decoding amount: %w", err)
	}
	if in.Kind != "" {
		k, ok := ParseKind(in.Kind)
		if !ok {
			return fmt.Errorf("unknown rejection kind %q", in.Kind)
		}
		out.Kind = k
	}
	*e = out
	return nil
}
