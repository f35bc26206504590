// Package ens resolves ENS names so participants and administrators can be
// named by their .eth name on the evm ledger.
package ens

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Registry is the ENS registry, deployed at the same address on mainnet
// and the public testnets.
var Registry = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

var (
	selResolver = []byte{0x01, 0x78, 0xb8, 0xbf} // resolver(bytes32)
	selAddr     = []byte{0x3b, 0x3b, 0x57, 0xde} // addr(bytes32)
)

// ErrNoRecord is returned when a name has no resolver or no address.
var ErrNoRecord = errors.New("ens: no address record")

// Caller performs eth_call against a node.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// IsName reports whether s looks like an ENS name rather than an address
// or a wallet name.
func IsName(s string) bool {
	return strings.Contains(s, ".") && !strings.HasPrefix(s, "0x")
}

// Resolve looks up the resolver of name in the registry and asks it for
// the address record.
func Resolve(ctx context.Context, c Caller, name string) (common.Address, error) {
	node := Namehash(strings.ToLower(name))

	out, err := c.CallContract(ctx, Registry, append(append([]byte(nil), selResolver...), node[:]...))
	if err != nil {
		return common.Address{}, fmt.Errorf("ens: querying registry: %w", err)
	}
	resolver, ok := wordAddress(out)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: no resolver for %q", ErrNoRecord, name)
	}

	out, err = c.CallContract(ctx, resolver, append(append([]byte(nil), selAddr...), node[:]...))
	if err != nil {
		return common.Address{}, fmt.Errorf("ens: querying resolver: %w", err)
	}
	addr, ok := wordAddress(out)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %q", ErrNoRecord, name)
	}
	return addr, nil
}

// Namehash implements the EIP-137 namehash. Names must be normalised
// before hashing.
func Namehash(name string) common.Hash {
	var node common.Hash
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := keccak256([]byte(labels[i]))
		copy(node[:], keccak256(node[:], label))
	}
	return node
}

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// wordAddress reads an address from the first 32-byte return word. The
// zero address counts as absent.
func wordAddress(out []byte) (common.Address, bool) {
	if len(out) < 32 {
		return common.Address{}, false
	}
	addr := common.BytesToAddress(out[12:32])
	return addr, addr != (common.Address{})
}
