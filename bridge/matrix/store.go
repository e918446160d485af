package matrix

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

var transactionsBucket = []byte("transactions")

// Ledger remembers which homeserver transactions were fully handled, so a
// transaction resent after a restart isn't dispatched twice.
type Ledger struct {
	db *bolt.DB
}

func OpenLedger(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(transactionsBucket)
		return err2
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Done(txnID string) bool {
	var done bool

	err := l.db.View(func(tx *bolt.Tx) error {
		done = tx.Bucket(transactionsBucket).Get([]byte(txnID)) != nil
		return nil
	})
	if err != nil {
		logger.Errorf("something wrong with ledger View for transaction %s: %s", txnID, err)
		return false
	}

	return done
}

func (l *Ledger) MarkDone(txnID string, at time.Time) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		v := make([]byte, 8)
		binary.LittleEndian.PutUint64(v, uint64(at.Unix()))

		return tx.Bucket(transactionsBucket).Put([]byte(txnID), v)
	})
}

// Prune drops transactions completed before cutoff and returns how many
// were removed.
func (l *Ledger) Prune(cutoff time.Time) (int, error) {
	var removed int

	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transactionsBucket)

		var stale [][]byte

		err2 := b.ForEach(func(k, v []byte) error {
			if len(v) != 8 || int64(binary.LittleEndian.Uint64(v)) < cutoff.Unix() {
				stale = append(stale, append([]byte(nil), k...))
			}

			return nil
		})
		if err2 != nil {
			return err2
		}

		for _, k := range stale {
			if err2 := b.Delete(k); err2 != nil {
				return err2
			}
		}

		removed = len(stale)

		return nil
	})

	return removed, err
}
