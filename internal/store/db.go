// Package store persists the local identity and the peer book in sqlite.
package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Identity holds the exported local keypair. There is at most one row.
type Identity struct {
	ID        uint `gorm:"primaryKey"`
	Keypair   string
	CreatedAt int64 `gorm:"autoCreateTime"`
}

// Peer is a remote peer seen after authentication, or blocked.
type Peer struct {
	ID        string `gorm:"primaryKey"`
	Blocked   bool   `gorm:"index"`
	FirstSeen int64  `gorm:"autoCreateTime"`
	LastSeen  int64
}

// Open opens the sqlite database at path and migrates it. Use ":memory:"
// for a throwaway database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Identity{}, &Peer{}); err != nil {
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return db, nil
}

// Close releases the underlying connection.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
