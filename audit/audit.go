// Package audit implements a write-only, persisted log of authentication
// and link-check events, keyed by timestamp, backed by go.etcd.io/bbolt.
// It is not read back by the FSM: TxInstance has no persisted state of
// its own, and this package exists purely as an out-of-band compliance
// trail for engineering and field diagnosis.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/usbarmory/hdcp1x/hdcp1x"
)

var eventsBucket = []byte("Events")

// Event is a single recorded occurrence: a completed state transition,
// or a snapshot of the instance's Stats at the time it was recorded.
type Event struct {
	Time  time.Time    `json:"time"`
	From  string       `json:"from"`
	To    string       `json:"to"`
	Stats hdcp1x.Stats `json:"stats"`
}

// Log is an append-only bbolt-backed event log.
type Log struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures the events bucket exists.
func Open(path string) (*Log, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create bucket: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends ev to the log, keyed by its timestamp so that a bucket
// scan returns events in chronological order.
func (l *Log) Record(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(ev.Time.UnixNano()))
		return b.Put(key, data)
	})
}

// Transitions returns a TxInstance.OnTransition callback that records
// every completed transition, along with a snapshot of tx's stats.
func (l *Log) Transitions(tx *hdcp1x.TxInstance) func(from, to hdcp1x.State) {
	return func(from, to hdcp1x.State) {
		ev := Event{
			Time:  time.Now(),
			From:  from.String(),
			To:    to.String(),
			Stats: tx.Stats(),
		}
		// Nothing downstream depends on this write succeeding; the FSM
		// itself carries no persisted state.
		_ = l.Record(ev)
	}
}
