// Package rpc chooses the node the evm ledger dispatches through when
// several endpoints are configured.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudflare/cfssl/log"

	"github.com/Mohsinsiddi/w3sale/internal/chain"
)

// ErrNoHealthyRPC is returned when no configured endpoint answers.
var ErrNoHealthyRPC = errors.New("no healthy RPC endpoint available")

// Strategy names how an endpoint is chosen.
type Strategy string

const (
	// Fastest probes every endpoint and takes the quickest one that is
	// not lagging behind the best block.
	Fastest Strategy = "fastest"
	// Failover takes the first endpoint, in configured order, that answers.
	Failover Strategy = "failover"

	// Nodes more than this many blocks behind the best are never chosen;
	// a lagging node would report stale nonces and receipts.
	staleBlockThreshold = 3

	probeTimeout = 5 * time.Second
)

// Probe is the measured state of one endpoint.
type Probe struct {
	URL         string
	Latency     time.Duration
	BlockNumber uint64
	Err         error
}

// Healthy reports whether the endpoint answered.
func (p Probe) Healthy() bool { return p.Err == nil }

// ProbeAll pings every url in parallel. Results keep the order of urls.
func ProbeAll(ctx context.Context, urls []string) []Probe {
	probes := make([]Probe, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			probes[i] = probe(ctx, u)
		}(i, u)
	}
	wg.Wait()
	return probes
}

func probe(ctx context.Context, url string) Probe {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	latency, block, err := chain.NewEVMClient(url).Ping(ctx)
	return Probe{URL: url, Latency: latency, BlockNumber: block, Err: err}
}

// Choose picks an endpoint from already measured probes.
func Choose(probes []Probe, s Strategy) (Probe, error) {
	var best uint64
	for _, p := range probes {
		if p.Healthy() && p.BlockNumber > best {
			best = p.BlockNumber
		}
	}

	var winner *Probe
	for i := range probes {
		p := &probes[i]
		if !p.Healthy() || best-p.BlockNumber > staleBlockThreshold {
			continue
		}
		if s == Failover {
			return *p, nil
		}
		if winner == nil || p.Latency < winner.Latency {
			winner = p
		}
	}
	if winner == nil {
		return Probe{}, ErrNoHealthyRPC
	}
	return *winner, nil
}

// Select returns the endpoint to dispatch through. A single url is used
// as is without probing.
func Select(ctx context.Context, urls []string, s Strategy) (string, error) {
	switch len(urls) {
	case 0:
		return "", ErrNoHealthyRPC
	case 1:
		return urls[0], nil
	}
	switch s {
	case Fastest, Failover:
	case "":
		s = Fastest
	default:
		return "", fmt.Errorf("unknown rpc strategy %q", s)
	}

	probes := ProbeAll(ctx, urls)
	for _, p := range probes {
		if p.Healthy() {
			log.Debugf("rpc %s: block %d in %s", p.URL, p.BlockNumber, p.Latency)
		} else {
			log.Warningf("rpc %s unreachable: %v", p.URL, p.Err)
		}
	}
	winner, err := Choose(probes, s)
	if err != nil {
		return "", err
	}
	return winner.URL, nil
}
