// Package archive keeps a persistent log of packets sent and received by the
// node. Records are stored in pebble under time-sortable KSUID keys, so
// listing newest-first and pruning by age are range operations.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"

	"github.com/dbehnke/packet-nexus/pkg/logger"
)

const keyPrefix = "pkt/"

// Directions
const (
	DirectionTx = "tx"
	DirectionRx = "rx"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("archive record not found")

	// ErrClosed is returned by operations on a closed archive
	ErrClosed = errors.New("archive closed")
)

// Record is one archived packet
type Record struct {
	ID        ksuid.KSUID `json:"id"`
	Time      time.Time   `json:"time"`
	Direction string      `json:"direction"`
	Profile   string      `json:"profile"`
	Peer      string      `json:"peer,omitempty"`
	Payload   []byte      `json:"payload"`
	Packet    []byte      `json:"packet"`
	Valid     bool        `json:"valid"`
}

// Archive is a pebble-backed packet store
type Archive struct {
	mu     sync.RWMutex
	db     *pebble.DB
	logger *logger.Logger
}

// Open opens or creates the archive at path
func Open(path string, log *logger.Logger) (*Archive, error) {
	if log == nil {
		log = logger.Nop()
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}

	a := &Archive{db: db, logger: log.WithComponent("archive")}
	a.logger.Info("Archive opened", logger.String("path", path))
	return a, nil
}

func recordKey(id ksuid.KSUID) []byte {
	return append([]byte(keyPrefix), id.String()...)
}

// prefixEnd is the smallest key greater than every key with the prefix
func prefixEnd() []byte {
	end := []byte(keyPrefix)
	end[len(end)-1]++
	return end
}

// Put stores r and returns its identifier. A zero Time is set to now.
func (a *Archive) Put(r Record) (ksuid.KSUID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.db == nil {
		return ksuid.Nil, ErrClosed
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}

	id, err := ksuid.NewRandomWithTime(r.Time)
	if err != nil {
		return ksuid.Nil, fmt.Errorf("generate id: %w", err)
	}
	r.ID = id

	value, err := json.Marshal(r)
	if err != nil {
		return ksuid.Nil, fmt.Errorf("encode record: %w", err)
	}

	if err := a.db.Set(recordKey(id), value, pebble.Sync); err != nil {
		return ksuid.Nil, fmt.Errorf("write record: %w", err)
	}
	return id, nil
}

// Get returns the record with the given identifier
func (a *Archive) Get(id ksuid.KSUID) (Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.db == nil {
		return Record{}, ErrClosed
	}

	value, closer, err := a.db.Get(recordKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	defer closer.Close()

	var r Record
	if err := json.Unmarshal(value, &r); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return r, nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns every record.
func (a *Archive) List(limit int) ([]Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.db == nil {
		return nil, ErrClosed
	}

	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: prefixEnd(),
	})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	var out []Record
	for valid := iter.Last(); valid; valid = iter.Prev() {
		var r Record
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			a.logger.Warn("Skipping corrupt archive record",
				logger.String("key", string(iter.Key())), logger.Error(err))
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// Count returns the number of stored records
func (a *Archive) Count() (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.countRange([]byte(keyPrefix), prefixEnd())
}

func (a *Archive) countRange(lower, upper []byte) (int, error) {
	if a.db == nil {
		return 0, ErrClosed
	}

	iter, err := a.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	return n, iter.Error()
}

// Prune deletes every record stamped before the given time (second
// resolution) and returns how many were removed
func (a *Archive) Prune(before time.Time) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.db == nil {
		return 0, ErrClosed
	}

	bound, err := ksuid.FromParts(before, make([]byte, 16))
	if err != nil {
		return 0, fmt.Errorf("prune bound: %w", err)
	}
	lower := []byte(keyPrefix)
	upper := recordKey(bound)
	if bytes.Compare(upper, lower) <= 0 {
		return 0, nil
	}

	n, err := a.countRange(lower, upper)
	if err != nil || n == 0 {
		return 0, err
	}

	if err := a.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return 0, fmt.Errorf("delete range: %w", err)
	}

	a.logger.Info("Archive pruned",
		logger.Int("removed", n),
		logger.String("before", before.UTC().Format(time.RFC3339)))
	return n, nil
}

// Close flushes and closes the store
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
