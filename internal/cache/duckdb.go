package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// DuckDB is a Cache persisted in a DuckDB database, so index metadata
// survives between runs.
type DuckDB struct {
	db   *sql.DB
	path string
}

// OpenDuckDB opens or creates a DuckDB cache at path.
// Use an empty string for an in-memory database.
func OpenDuckDB(path string) (*DuckDB, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	c := &DuckDB{db: db, path: path}
	if err := c.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return c, nil
}

// Close closes the database connection.
func (c *DuckDB) Close() error {
	return c.db.Close()
}

// ensureSchema creates tables if they don't exist.
func (c *DuckDB) ensureSchema() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS index_cache (
		key VARCHAR PRIMARY KEY,
		value BLOB,
		created_at TIMESTAMP DEFAULT current_timestamp
	)`)
	return err
}

// Get implements Cache.
func (c *DuckDB) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.QueryRow(`SELECT value FROM index_cache WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query index cache: %w", err)
	}
	return value, true, nil
}

// Put implements Cache.
func (c *DuckDB) Put(key string, value []byte) error {
	_, err := c.db.Exec(`INSERT OR REPLACE INTO index_cache (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("insert index cache entry: %w", err)
	}
	return nil
}

// Len returns the number of cached entries.
func (c *DuckDB) Len() (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM index_cache`).Scan(&count)
	return count, err
}

// Clear removes every cached entry.
func (c *DuckDB) Clear() error {
	_, err := c.db.Exec(`DELETE FROM index_cache`)
	return err
}
