package chat

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// name of the bucket holding retained messages, keyed by sequence number
var historyBucket = []byte("messages")

// History retains the most recent chat messages in a bolt database, so
// clients joining later still see recent traffic. A nil *History is a
// valid no-op store.
type History struct {
	db    *bolt.DB
	limit int
}

// OpenHistory opens or creates the history database at path. At most
// limit messages are retained; older ones are pruned on append.
func OpenHistory(path string, limit int) (*History, error) {
	if limit <= 0 {
		limit = 200
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history bucket: %w", err)
	}
	return &History{db: db, limit: limit}, nil
}

// Append stores a message and prunes the oldest entries beyond the limit.
func (h *History) Append(msg Message) error {
	if h == nil {
		return nil
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(historyBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(seqkey(seq), buf); err != nil {
			return err
		}
		excess := keycount(b) - h.limit
		// keys are sequential, so the cursor walks oldest-first
		c := b.Cursor()
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			excess--
		}
		return nil
	})
}

// Recent returns retained messages, oldest first.
func (h *History) Recent() ([]Message, error) {
	if h == nil {
		return nil, nil
	}
	var msgs []Message
	err := h.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(historyBucket).ForEach(func(_, v []byte) error {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("decoding message: %w", err)
			}
			msgs = append(msgs, msg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	if h == nil {
		return nil
	}
	return h.db.Close()
}

// keycount walks the bucket and counts its keys.
func keycount(b *bolt.Bucket) (n int) {
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

// seqkey encodes a sequence number as a sortable big-endian key.
func seqkey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
