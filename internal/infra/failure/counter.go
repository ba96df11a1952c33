// Package failure tracks engine crashes in a durable sliding window so that
// repeated failures within a short span can escalate to operator alerts
// instead of silent restart loops.
package failure

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	window            = 10 * time.Minute
	criticalThreshold = 3
)

var bucketFailures = []byte("failures")

// Counter is a bbolt-backed sliding-window failure counter. Each recorded
// failure is one key (nanosecond timestamp); entries older than the window
// are pruned on every write.
type Counter struct {
	db *bolt.DB
}

// Open creates or opens the counter database at path.
func Open(path string) (*Counter, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open failure counter: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFailures)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Counter{db: db}, nil
}

// RecordFailure appends a failure at now, prunes entries outside the
// sliding window, and returns the count remaining inside it.
func (c *Counter) RecordFailure(now time.Time) (int, error) {
	var count int
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailures)

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(now.UnixNano()))
		if err := b.Put(key, nil); err != nil {
			return err
		}

		cutoff := now.Add(-window).UnixNano()
		cur := b.Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			if int64(binary.BigEndian.Uint64(k)) < cutoff {
				if err := cur.Delete(); err != nil {
					return err
				}
				continue
			}
			count++
		}
		return nil
	})
	return count, err
}

// Count returns the number of failures inside the window ending at now,
// without recording anything.
func (c *Counter) Count(now time.Time) (int, error) {
	var count int
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailures)
		cutoff := now.Add(-window).UnixNano()
		cur := b.Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			if int64(binary.BigEndian.Uint64(k)) >= cutoff {
				count++
			}
		}
		return nil
	})
	return count, err
}

// IsCritical reports whether the count has reached the escalation threshold.
func IsCritical(count int) bool {
	return count >= criticalThreshold
}

// Close releases the database.
func (c *Counter) Close() error {
	return c.db.Close()
}
