package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationDir = "migrations"

// Migration is one embedded schema step.
type Migration struct {
	Version uint
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrations lists the embedded migrations in version order. Files are
// named <version>_<name>.<up|down>.sql.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFiles, migrationDir)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[uint]*Migration)
	for _, e := range entries {
		base, direction, ok := strings.Cut(strings.TrimSuffix(e.Name(), ".sql"), ".")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing direction", e.Name())
		}
		num, name, _ := strings.Cut(base, "_")
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", e.Name(), err)
		}

		body, err := migrationFiles.ReadFile(path.Join(migrationDir, e.Name()))
		if err != nil {
			return nil, err
		}

		m := byVersion[uint(v)]
		if m == nil {
			m = &Migration{Version: uint(v), Name: name}
			byVersion[uint(v)] = m
		}
		switch direction {
		case "up":
			m.UpSQL = string(body)
		case "down":
			m.DownSQL = string(body)
		default:
			return nil, fmt.Errorf("migration %s: unknown direction %q", e.Name(), direction)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// MigrationState is where the database stands.
type MigrationState struct {
	Version uint // 0 when nothing is applied
	Dirty   bool // a migration failed half-way and needs a manual fix
}

// Migrator runs the embedded migrations with golang-migrate.
type Migrator struct {
	url    string
	logger *slog.Logger
}

// NewMigrator creates a migrator for a postgres:// URL.
func NewMigrator(databaseURL string, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{url: databaseURL, logger: logger.With("component", "migrator")}
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	var applied int
	err := m.run(ctx, func(mg *migrate.Migrate) error {
		before, err := version(mg)
		if err != nil {
			return err
		}
		if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		after, err := version(mg)
		if err != nil {
			return err
		}
		applied = int(after.Version - before.Version)
		return nil
	})
	return applied, err
}

// Down reverts the latest migration and returns its version, or 0 when
// the schema was already empty.
func (m *Migrator) Down(ctx context.Context) (uint, error) {
	var reverted uint
	err := m.run(ctx, func(mg *migrate.Migrate) error {
		state, err := version(mg)
		if err != nil || state.Version == 0 {
			return err
		}
		if err := mg.Steps(-1); err != nil {
			return err
		}
		reverted = state.Version
		return nil
	})
	return reverted, err
}

// State reports the applied version.
func (m *Migrator) State(ctx context.Context) (MigrationState, error) {
	var state MigrationState
	err := m.run(ctx, func(mg *migrate.Migrate) error {
		var err error
		state, err = version(mg)
		return err
	})
	return state, err
}

func (m *Migrator) run(ctx context.Context, fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(migrationFiles, migrationDir)
	if err != nil {
		return fmt.Errorf("postgres: migration source: %w", err)
	}
	mg, err := migrate.NewWithSourceInstance("iofs", src, pgx5URL(m.url))
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	defer mg.Close()
	mg.Log = migrateLogger{m.logger}

	stop := context.AfterFunc(ctx, func() { mg.GracefulStop <- true })
	defer stop()

	if err := fn(mg); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func version(mg *migrate.Migrate) (MigrationState, error) {
	v, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationState{}, nil
	}
	return MigrationState{Version: v, Dirty: dirty}, err
}

// pgx5URL switches the scheme so golang-migrate picks its pgx v5 driver.
func pgx5URL(url string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(url, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return url
}

type migrateLogger struct{ l *slog.Logger }

func (m migrateLogger) Printf(format string, v ...any) {
	m.l.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (m migrateLogger) Verbose() bool { return false }
