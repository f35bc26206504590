package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"go.etcd.io/bbolt"
)

var (
	bucketSale     = []byte("sale")
	bucketJournal  = []byte("journal")
	bucketBalances = []byte("balances")

	keyState = []byte("state")
)

// lockTimeout bounds the wait for the file lock held by another process,
// e.g. a running `w3sale serve`.
const lockTimeout = 5 * time.Second

var (
	// ErrJournalBroken indicates a journal record does not chain to its
	// predecessor.
	ErrJournalBroken = errors.New("store: journal hash chain broken")

	// ErrCorrupt indicates a stored value could not be decoded.
	ErrCorrupt = errors.New("store: corrupt record")
)

// Bolt wraps a bbolt database holding a sale, its journal and the local
// ledger balances.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBolt(dbPath string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSale, bucketJournal, bucketBalances} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Close closes the underlying database.
func (b *Bolt) Close() error { return b.db.Close() }

// Path returns the database file path.
func (b *Bolt) Path() string { return b.db.Path() }

// Compile-time interface checks.
var (
	_ sale.Store   = (*Bolt)(nil)
	_ sale.Journal = (*Bolt)(nil)
)

// Load implements sale.Store.
func (b *Bolt) Load(_ context.Context) (*sale.State, error) {
	var s sale.State
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSale).Get(keyState)
		if data == nil {
			return sale.ErrNotDeployed
		}
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: sale state: %w", ErrCorrupt, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Save implements sale.Store.
func (b *Bolt) Save(_ context.Context, s *sale.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: encode sale state: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSale).Put(keyState, data)
	})
}

// seqKey encodes a journal sequence number as an 8-byte big-endian key for
// sorted storage.
func seqKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}
