package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// VersionTable records the applied schema version, kept apart from other tools
// sharing the database.
const VersionTable = "klaviyo_sync_schema_migrations"

//go:embed *.sql
var files embed.FS

// Up applies every pending migration for the email metrics table on one
// connection taken from db. A dirty version left by an interrupted run is forced
// back to clean first. Cancelling ctx stops Up after the migration in progress.
func Up(ctx context.Context, db *sql.DB) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	source, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("migrations: open source: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migrations: acquire connection: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: VersionTable})
	if err != nil {
		conn.Close()
		return fmt.Errorf("migrations: open driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("migrations: init: %w", err)
	}
	// Closes the source and the connection; db stays open.
	defer m.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-stop:
		}
	}()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrations: read version: %w", err)
	}
	if dirty {
		slog.Warn("[Migrations] Dirty schema version, forcing", "version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("migrations: force version %d: %w", version, err)
		}
	}

	upErr := m.Up()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("migrations: stopped: %w", err)
	}
	if upErr != nil {
		if errors.Is(upErr, migrate.ErrNoChange) {
			slog.Debug("[Migrations] Schema up to date", "version", version)
			return nil
		}
		return fmt.Errorf("migrations: up: %w", upErr)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("migrations: read new version: %w", err)
	}
	slog.Info("[Migrations] Applied", "from_version", version, "to_version", newVersion)
	return nil
}
