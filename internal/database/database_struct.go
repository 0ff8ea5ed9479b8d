package database

import (
	"errors"
	"sync"

	"gorm.io/gorm"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrNoRealm    = errors.New("realm has not been created")
	ErrSelfDirect = errors.New("direct message channel needs two distinct members")
)

// Database implements services.Store on top of gorm.
type Database struct {
	db *gorm.DB

	// inviteMu serializes invite regeneration so the single invite row is
	// replaced atomically even on drivers with weak transaction isolation.
	inviteMu sync.Mutex

	seqMu     sync.Mutex
	seq       int64
	seqLoaded bool
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
