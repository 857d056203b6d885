package bathyreq

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 database driver
)

// Cache stores raw raster bodies between requests. Bathymetric exports
// can be large, so callers that re-query the same areas should attach
// one to the Client.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte) error
	Clear() error
	Close() error
}

// DiskCache stores one file per raster under a root directory.
type DiskCache struct {
	root string
}

// NewDiskCache creates a disk cache rooted at root, creating the
// directory when needed.
func NewDiskCache(root string) (*DiskCache, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(abs, 0755); err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	} else if !info.IsDir() {
		return nil, errors.New("cache root is already a file")
	}

	return &DiskCache{root: abs}, nil
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.root, key+".raster")
}

func (c *DiskCache) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (c *DiskCache) Put(key string, data []byte) error {
	return os.WriteFile(c.path(key), data, 0644)
}

func (c *DiskCache) Clear() error {
	if err := os.RemoveAll(c.root); err != nil {
		return err
	}
	return os.MkdirAll(c.root, 0755)
}

func (c *DiskCache) Close() error {
	return nil
}

// SqliteCache stores rasters in a single sqlite database, which keeps
// caches portable as one file.
type SqliteCache struct {
	db *sql.DB
}

func NewSqliteCache(dsn string) (*SqliteCache, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rasters (
			key TEXT NOT NULL PRIMARY KEY,
			body BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &SqliteCache{db: db}, nil
}

func (c *SqliteCache) Get(key string) ([]byte, bool, error) {
	var body []byte
	err := c.db.QueryRow("SELECT body FROM rasters WHERE key = ? LIMIT 1", key).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return body, true, nil
}

func (c *SqliteCache) Put(key string, data []byte) error {
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO rasters (key, body, created_at) VALUES (?, ?, ?);",
		key, data, time.Now().Unix(),
	)
	return err
}

func (c *SqliteCache) Clear() error {
	_, err := c.db.Exec("DELETE FROM rasters;")
	return err
}

func (c *SqliteCache) Close() error {
	var err error
	if c.db != nil {
		if err2 := c.db.Close(); err2 != nil {
			err = err2
		}
	}
	return err
}
