package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Mohsinsiddi/w3sale/internal/sale"
	"github.com/ethereum/go-ethereum/common"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/sha3"
)

// Record is one journal entry with its position in the hash chain.
type Record struct {
	Seq   uint64      `json:"seq"`
	Prev  common.Hash `json:"prev"`
	Hash  common.Hash `json:"hash"`
	Entry sale.Entry  `json:"entry"`
}

type recordJSON struct {
	Seq   uint64          `json:"seq"`
	Prev  common.Hash     `json:"prev"`
	Hash  common.Hash     `json:"hash"`
	Entry json.RawMessage `json:"entry"`
}

// chainHash links an encoded entry to its predecessor:
// keccak256(prev || seq || entry).
func chainHash(prev common.Hash, seq uint64, entry []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(prev[:])
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], seq)
	h.Write(n[:])
	h.Write(entry)
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Record implements sale.Journal. Entries are appended with increasing
// sequence numbers starting at 1.
func (b *Bolt) Record(_ context.Context, e sale.Entry) error {
	entry, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: encode journal entry: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketJournal)

		var prev common.Hash
		if k, v := bk.Cursor().Last(); k != nil {
			var last recordJSON
			if err := json.Unmarshal(v, &last); err != nil {
				return fmt.Errorf("%w: journal tail: %w", ErrCorrupt, err)
			}
			prev = last.Hash
		}

		seq, err := bk.NextSequence()
		if err != nil {
			return err
		}
		rec := recordJSON{Seq: seq, Prev: prev, Hash: chainHash(prev, seq, entry), Entry: entry}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bk.Put(seqKey(seq), data)
	})
}

// Entries returns up to limit of the most recent journal records, oldest
// first. limit <= 0 returns everything.
func (b *Bolt) Entries(limit int) ([]Record, error) {
	var out []Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketJournal).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// VerifyJournal walks the whole journal and checks every link of the hash
// chain. It returns the number of records verified.
func (b *Bolt) VerifyJournal() (int, error) {
	n := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		var prev common.Hash
		return tx.Bucket(bucketJournal).ForEach(func(k, v []byte) error {
			var rec recordJSON
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: journal record %x: %w", ErrCorrupt, k, err)
			}
			if rec.Prev != prev {
				return fmt.Errorf("%w: record %d does not follow its predecessor", ErrJournalBroken, rec.Seq)
			}
			if want := chainHash(prev, rec.Seq, rec.Entry); rec.Hash != want {
				return fmt.Errorf("%w: record %d hash mismatch", ErrJournalBroken, rec.Seq)
			}
			prev = rec.Hash
			n++
			return nil
		})
	})
	return n, err
}

func decodeRecord(v []byte) (Record, error) {
	var raw recordJSON
	if err := json.Unmarshal(v, &raw); err != nil {
		return Record{}, fmt.Errorf("%w: journal record: %w", ErrCorrupt, err)
	}
	rec := Record{Seq: raw.Seq, Prev: raw.Prev, Hash: raw.Hash}
	if err := json.Unmarshal(raw.Entry, &rec.Entry); err != nil {
		return Record{}, fmt.Errorf("%w: journal entry %d: %w", ErrCorrupt, raw.Seq, err)
	}
	return rec, nil
}
