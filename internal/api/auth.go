package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Mohsinsiddi/w3sale/internal/wallet"
)

// SignatureHeader carries the hex EIP-191 signature of the raw request body.
const SignatureHeader = "X-Sale-Signature"

// Authentication failures. All of them answer 401.
var (
	ErrMissingSignature = errors.New("api: missing signature")
	ErrBadSignature     = errors.New("api: invalid signature")
	ErrStale            = errors.New("api: request outside signature window")
	ErrReplayed         = errors.New("api: request already used")
)

type envelope struct {
	IssuedAt time.Time `json:"issued_at"`
}

// authenticate recovers the caller of a signed body. The body must carry an
// issued_at within ttl of now, and a signed body is accepted only once.
func (s *Server) authenticate(body []byte, sigHex string, now time.Time) (common.Address, error) {
	if sigHex == "" {
		return common.Address{}, ErrMissingSignature
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	caller, err := wallet.VerifyMessage(body, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.IssuedAt.IsZero() {
		return common.Address{}, fmt.Errorf("%w: issued_at missing", ErrStale)
	}
	if age := now.Sub(env.IssuedAt); age > s.ttl || age < -s.ttl {
		return common.Address{}, fmt.Errorf("%w: issued %s ago", ErrStale, age.Round(time.Second))
	}
	// Keyed on caller and body: a malleated signature over the same body is
	// still a replay.
	if !s.seen.add(crypto.Keccak256Hash(caller.Bytes(), body).Hex(), env.IssuedAt.Add(s.ttl), now) {
		return common.Address{}, ErrReplayed
	}
	return caller, nil
}

// replayCache remembers signed bodies until the end of their validity window.
type replayCache struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func newReplayCache() *replayCache {
	return &replayCache{expires: make(map[string]time.Time)}
}

// add records key and reports whether it was unseen.
func (c *replayCache) add(key string, until, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, exp := range c.expires {
		if now.After(exp) {
			delete(c.expires, k)
		}
	}
	if _, ok := c.expires[key]; ok {
		return false
	}
	c.expires[key] = until
	return true
}
