package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/hyunjk/darkpool/pkg/auction"
)

// LedgerStore persists the append-only trade ledger in Pebble.
type LedgerStore struct {
	db   *pebble.DB
	next uint64
}

// keys: t:<8-byte-seq> per trade, n:next sequence counter
func kTrade(seq uint64) []byte { return append([]byte("t:"), seqKey(seq)...) }
func kNext() []byte            { return []byte("n") }

func NewLedgerStore(path string) (*LedgerStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	s := &LedgerStore{db: db}

	val, closer, err := db.Get(kNext())
	switch err {
	case nil:
		s.next = binary.BigEndian.Uint64(val)
		closer.Close()
	case pebble.ErrNotFound:
		// fresh store
	default:
		db.Close()
		return nil, fmt.Errorf("read ledger sequence: %w", err)
	}
	return s, nil
}

func (s *LedgerStore) Close() error { return s.db.Close() }

// AppendTrade persists one trade record and bumps the sequence.
func (s *LedgerStore) AppendTrade(t auction.TradeRecord) error {
	val, err := encodeGob(t)
	if err != nil {
		return fmt.Errorf("encode trade: %w", err)
	}
	if err := s.db.Set(kTrade(s.next), val, pebble.Sync); err != nil {
		return fmt.Errorf("write trade: %w", err)
	}
	s.next++
	if err := s.db.Set(kNext(), seqKey(s.next), pebble.Sync); err != nil {
		return fmt.Errorf("write sequence: %w", err)
	}
	return nil
}

// AppendAll persists a whole run's ledger.
func (s *LedgerStore) AppendAll(trades []auction.TradeRecord) error {
	for _, t := range trades {
		if err := s.AppendTrade(t); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many trades the store holds.
func (s *LedgerStore) Len() uint64 { return s.next }

// Trades returns all persisted trades in append order.
func (s *LedgerStore) Trades() ([]auction.TradeRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("t:"),
		UpperBound: []byte("t;"), // ';' is ':'+1
	})
	if err != nil {
		return nil, fmt.Errorf("ledger iterator: %w", err)
	}
	defer iter.Close()

	var out []auction.TradeRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var t auction.TradeRecord
		if err := decodeGob(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("decode trade: %w", err)
		}
		out = append(out, t)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("ledger iteration: %w", err)
	}
	return out, nil
}
