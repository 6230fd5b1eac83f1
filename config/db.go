package config

import (
	"path/filepath"

	dbm "github.com/tendermint/tm-db"
)

// DBDir returns the absolute directory blocks and state are persisted
// under, resolved relative to RootDir.
func (c *Config) DBDir() string {
	return filepath.Join(c.RootDir, c.DataDir)
}

// OpenDB opens the named database (e.g. "blockstore") using the
// configured backend and directory, the way the teacher's
// config.DefaultDBProvider resolves DBBackend/DBDir into a concrete
// tm-db handle.
func (c *Config) OpenDB(name string) (dbm.DB, error) {
	return dbm.NewDB(name, dbm.BackendType(c.DBBackend), c.DBDir())
}
