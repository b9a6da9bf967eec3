package cache

import (
	"database/sql"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteCache is a disk-backed Provider using a single sqlite table.
// Attribute times are stored as epoch milliseconds.
type SQLiteCache struct {
	db *sql.DB
}

func NewSQLiteCache(filename string) SQLiteCache {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		content BLOB,
		created INTEGER,
		modified INTEGER,
		expires INTEGER,
		etag TEXT,
		code INTEGER,
		error TEXT)`)
	if err != nil {
		panic(err)
	}
	return SQLiteCache{
		db: db,
	}
}

func (s SQLiteCache) Get(key string) (*Element, error) {
	var (
		content                    []byte
		created, modified, expires int64
		etag, errMsg               string
		code                       int
	)
	err := s.db.QueryRow(
		"SELECT content, created, modified, expires, etag, code, error FROM cache WHERE key = ?", key).
		Scan(&content, &created, &modified, &expires, &etag, &code, &errMsg)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Element{
		Key:   key,
		Value: &Entry{Content: content},
		Attributes: Attributes{
			CreateTime:       msToTime(created),
			LastModification: msToTime(modified),
			Expiration:       msToTime(expires),
			ETag:             etag,
			ResponseCode:     code,
			ErrorMessage:     errMsg,
		},
	}, nil
}

func (s SQLiteCache) Put(key string, value *Entry, attrs Attributes) error {
	stamp(&attrs, time.Now())
	var content []byte
	if value != nil {
		content = value.Content
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO cache (key, content, created, modified, expires, etag, code, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		key, content,
		timeToMs(attrs.CreateTime), timeToMs(attrs.LastModification), timeToMs(attrs.Expiration),
		attrs.ETag, attrs.ResponseCode, attrs.ErrorMessage)
	return err
}

func (s SQLiteCache) Purge(key string) error {
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
