package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	"github.com/mammography-findings-server/migrations"
)

// SchemaVersion is the migration the evaluation and review stores expect.
const SchemaVersion uint = 2

// MigrationRunner applies the evaluation and review schema.
type MigrationRunner struct {
	m   *migrate.Migrate
	log *logrus.Logger
}

// migrateLogger routes golang-migrate output into logrus at debug level.
type migrateLogger struct {
	log *logrus.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.WithField("component", "migrate").Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.log.IsLevelEnabled(logrus.DebugLevel)
}

// NewMigrationRunner opens the schema source and the target database. An
// empty sourceURL uses the migrations compiled into the binary; otherwise it
// is a golang-migrate source URL such as "file://migrations".
func NewMigrationRunner(databaseURL, sourceURL string, logger *logrus.Logger) (*MigrationRunner, error) {
	var (
		m   *migrate.Migrate
		err error
	)
	switch sourceURL {
	case "":
		src, srcErr := iofs.New(migrations.FS, ".")
		if srcErr != nil {
			return nil, fmt.Errorf("opening embedded migrations: %w", srcErr)
		}
		m, err = migrate.NewWithSourceInstance("iofs", src, databaseURL)
	default:
		m, err = migrate.New(sourceURL, databaseURL)
	}
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}
	m.Log = migrateLogger{log: logger}

	return &MigrationRunner{m: m, log: logger}, nil
}

// Migrate brings the schema up to date and releases the runner.
func Migrate(ctx context.Context, databaseURL, sourceURL string, logger *logrus.Logger) error {
	runner, err := NewMigrationRunner(databaseURL, sourceURL, logger)
	if err != nil {
		return err
	}
	upErr := runner.Up(ctx)
	if err := runner.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close migration runner")
	}
	return upErr
}

// Up applies every pending migration. Cancelling ctx stops after the
// migration in progress.
func (mr *MigrationRunner) Up(ctx context.Context) error {
	from := mr.currentVersion()
	err := mr.withContext(ctx, mr.m.Up)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		mr.log.WithField("version", from).Info("Schema is up to date")
		return nil
	case err != nil:
		return fmt.Errorf("applying migrations: %w", err)
	}

	to := mr.currentVersion()
	mr.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("Schema migrated")
	if to < SchemaVersion {
		return fmt.Errorf("schema at version %d, need %d", to, SchemaVersion)
	}
	return nil
}

// Down reverts the most recent migration.
func (mr *MigrationRunner) Down(ctx context.Context) error {
	from := mr.currentVersion()
	err := mr.withContext(ctx, func() error { return mr.m.Steps(-1) })
	switch {
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, migrate.ErrNilVersion):
		mr.log.Info("No migration to revert")
		return nil
	case err != nil:
		return fmt.Errorf("reverting migration: %w", err)
	}

	mr.log.WithFields(logrus.Fields{"from": from, "to": mr.currentVersion()}).Info("Migration reverted")
	return nil
}

// Version returns the applied migration and whether it failed half-way.
func (mr *MigrationRunner) Version() (uint, bool, error) {
	return mr.m.Version()
}

// Close releases the source and database handles.
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.m.Close()
	return errors.Join(sourceErr, dbErr)
}

func (mr *MigrationRunner) currentVersion() uint {
	v, _, err := mr.m.Version()
	if err != nil {
		return 0
	}
	return v
}

func (mr *MigrationRunner) withContext(ctx context.Context, run func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case mr.m.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()
	return run()
}
