package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// BoltCache is a disk-backed Provider using a single bbolt bucket.
// Elements are stored JSON-encoded under their cache key.
type BoltCache struct {
	Filename string
	Bucket   string
	dbh      *bbolt.DB
}

func NewBoltCache(filename, bucket string) *BoltCache {
	if bucket == "" {
		bucket = "cache"
	}
	return &BoltCache{
		Filename: filename,
		Bucket:   bucket,
	}
}

// Connect opens the database file and creates the bucket if needed.
func (c *BoltCache) Connect() error {
	var err error
	c.dbh, err = bbolt.Open(c.Filename, 0o644, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return err
	}
	return c.dbh.Update(func(tx *bbolt.Tx) error {
		if _, err2 := tx.CreateBucketIfNotExists([]byte(c.Bucket)); err2 != nil {
			return fmt.Errorf("create bucket: %w", err2)
		}
		return nil
	})
}

func (c *BoltCache) Close() error {
	if c.dbh == nil {
		return nil
	}
	return c.dbh.Close()
}

type boltRecord struct {
	Content    []byte     `json:"content"`
	Attributes Attributes `json:"attributes"`
}

func (c *BoltCache) Get(key string) (*Element, error) {
	var data []byte
	err := c.dbh.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(c.Bucket))
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		data = append(data, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	var rec boltRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &Element{
		Key:        key,
		Value:      &Entry{Content: rec.Content},
		Attributes: rec.Attributes,
	}, nil
}

func (c *BoltCache) Put(key string, value *Entry, attrs Attributes) error {
	stamp(&attrs, time.Now())
	rec := boltRecord{Attributes: attrs}
	if value != nil {
		rec.Content = value.Content
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.dbh.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(c.Bucket)).Put([]byte(key), data)
	})
}

func (c *BoltCache) Purge(key string) error {
	return c.dbh.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(c.Bucket)).Delete([]byte(key))
	})
}
