package cache

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/duvallglobal/theportal-sub000/internal/entity"
)

var bucketConversations = []byte("conversations")

// Cache persists the last authoritative conversation snapshot so a
// cold start can render before the REST fetch or the live connection
// completes. It is best-effort: consumers treat failures as a miss.
type Cache struct {
	db *bbolt.DB
}

// Open opens (or creates) the snapshot cache at path
func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConversations)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database
func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveSnapshot replaces the cached conversation list
func (c *Cache) SaveSnapshot(convs []*entity.Conversation) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketConversations); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketConversations)
		if err != nil {
			return err
		}

		for _, conv := range convs {
			rec := newConversationRecord(conv)
			data, err := rec.MarshalBinary()
			if err != nil {
				return err
			}
			if err := b.Put([]byte(conv.Id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSnapshot returns the cached conversation list, empty when the
// cache has never been written
func (c *Cache) LoadSnapshot() ([]*entity.Conversation, error) {
	var convs []*entity.Conversation
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		return b.ForEach(func(k, v []byte) error {
			var rec conversationRecord
			if err := rec.UnmarshalBinary(v); err != nil {
				return err
			}
			convs = append(convs, rec.toEntity())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return convs, nil
}
