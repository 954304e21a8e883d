package db

import (
	"github.com/pkg/errors"

	"github.com/SilicateWielder/memlayer/internal/profile"
	"github.com/SilicateWielder/memlayer/store"
	"github.com/SilicateWielder/memlayer/store/db/postgres"
	"github.com/SilicateWielder/memlayer/store/db/sqlite"
)

// NewDBDriver creates a new db driver based on profile.
//
// PostgreSQL is the production driver with pgvector-backed similarity search.
// SQLite is supported for development and testing with a linear-scan fallback.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.New("unknown db driver: only 'postgres' and 'sqlite' are supported")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
