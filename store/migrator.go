package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
)

// Schema bootstrap: on an uninitialized database the full LATEST.sql for the
// active driver is applied in one shot. Incremental migrations are not needed
// yet; when the schema changes, versioned files go next to LATEST.sql.

//go:embed migration
var migrationFS embed.FS

// LatestSchemaFileName is the full schema for new installations.
const LatestSchemaFileName = "LATEST.sql"

// Migrate initializes the database schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check database state")
	}
	if initialized {
		return nil
	}

	path := fmt.Sprintf("migration/%s/%s", s.profile.Driver, LatestSchemaFileName)
	schema, err := migrationFS.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read schema file %s", path)
	}

	if _, err := s.driver.GetDB().ExecContext(ctx, string(schema)); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}

	slog.Info("database schema initialized", "driver", s.profile.Driver)
	return nil
}
