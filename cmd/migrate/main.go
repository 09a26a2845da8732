// Package main provides a CLI tool for the POS schema migrations.
//
// Migrations live in ./migrations (override with -path or MIGRATIONS_PATH)
// and are tracked in the schema_migrations table.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/orema/pos-backend/internal/config"
	"github.com/orema/pos-backend/internal/logger"
)

// Version is set at build time
var Version = "dev"

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultMigrationsPath   = "migrations"
)

// options holds migration settings
type options struct {
	DatabaseURL    string
	MigrationsPath string
	Timeout        time.Duration
	DryRun         bool
}

func main() {
	db := config.FromEnv().Database

	var (
		dbHost     = flag.String("db-host", db.Host, "Database host")
		dbPort     = flag.String("db-port", db.Port, "Database port")
		dbUser     = flag.String("db-user", db.User, "Database user")
		dbPassword = flag.String("db-password", db.Password, "Database password")
		dbName     = flag.String("db-name", db.DBName, "Database name")
		dbSSLMode  = flag.String("db-sslmode", db.SSLMode, "Database SSL mode")
		migrPath   = flag.String("path", envOr("MIGRATIONS_PATH", defaultMigrationsPath), "Path to migrations directory")
		timeout    = flag.Duration("timeout", defaultMigrationTimeout, "Timeout per migration")
		dryRun     = flag.Bool("dry-run", false, "Show what would be done without executing")
		version    = flag.Bool("version", false, "Print version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Schema migrations for the POS backend\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down N       Roll back N migrations\n")
		fmt.Fprintf(os.Stderr, "  goto V       Migrate to version V\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nDatabase defaults come from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME and DB_SSLMODE.\n")
	}

	flag.Parse()

	if *version {
		fmt.Printf("migrate version %s\n", Version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	db.Host, db.Port, db.User, db.Password, db.DBName, db.SSLMode =
		*dbHost, *dbPort, *dbUser, *dbPassword, *dbName, *dbSSLMode

	opts := &options{
		DatabaseURL:    db.URL(),
		MigrationsPath: *migrPath,
		Timeout:        *timeout,
		DryRun:         *dryRun,
	}

	log := logger.New(logger.Config{Level: "info", Format: "text", Output: "stderr"})
	if err := run(opts, log, args[0], args[1:]); err != nil {
		log.Error("migration command failed", slog.String("command", args[0]), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(opts *options, log *slog.Logger, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return errors.New("create requires a migration name")
		}
		return createMigration(opts, log, args[0])
	case "version":
		return withMigrate(opts, func(m *migrate.Migrate) error {
			v, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Info("no migrations applied yet")
				return nil
			}
			if err != nil {
				return fmt.Errorf("get version: %w", err)
			}
			log.Info("current migration version", slog.Uint64("version", uint64(v)), slog.Bool("dirty", dirty))
			return nil
		})
	case "up":
		n, err := optionalInt(args)
		if err != nil {
			return err
		}
		return apply(opts, log, fmt.Sprintf("up %d (0 = all)", n), func(m *migrate.Migrate) error {
			if n > 0 {
				return m.Steps(n)
			}
			return m.Up()
		})
	case "down":
		n, err := optionalInt(args)
		if err != nil {
			return err
		}
		if n <= 0 {
			return errors.New("down requires a positive number of steps")
		}
		return apply(opts, log, fmt.Sprintf("down %d", n), func(m *migrate.Migrate) error {
			return m.Steps(-n)
		})
	case "goto":
		n, err := optionalInt(args)
		if err != nil || n <= 0 {
			return fmt.Errorf("goto requires a version number")
		}
		return apply(opts, log, fmt.Sprintf("goto %d", n), func(m *migrate.Migrate) error {
			return m.Migrate(uint(n))
		})
	case "force":
		n, err := optionalInt(args)
		if err != nil || len(args) == 0 {
			return fmt.Errorf("force requires a version number")
		}
		return apply(opts, log, fmt.Sprintf("force %d", n), func(m *migrate.Migrate) error {
			return m.Force(n)
		})
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// apply runs step against a fresh migrate instance and logs the version change.
func apply(opts *options, log *slog.Logger, desc string, step func(*migrate.Migrate) error) error {
	if opts.DryRun {
		log.Info("[dry run] would migrate", slog.String("step", desc))
		return nil
	}
	return withMigrate(opts, func(m *migrate.Migrate) error {
		from, _, _ := m.Version()
		if err := step(m); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Info("no change", slog.String("step", desc))
				return nil
			}
			return fmt.Errorf("migration failed: %w", err)
		}
		to, _, _ := m.Version()
		log.Info("migration completed",
			slog.String("step", desc),
			slog.Uint64("from", uint64(from)),
			slog.Uint64("to", uint64(to)),
		)
		return nil
	})
}

func withMigrate(opts *options, fn func(*migrate.Migrate) error) error {
	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

// createMigration writes an empty NNN_name.up.sql / .down.sql pair
func createMigration(opts *options, log *slog.Logger, name string) error {
	next, err := nextMigrationNumber(opts.MigrationsPath)
	if err != nil {
		return fmt.Errorf("determine next migration number: %w", err)
	}

	files := map[string]string{
		"up":   filepath.Join(opts.MigrationsPath, fmt.Sprintf("%03d_%s.up.sql", next, name)),
		"down": filepath.Join(opts.MigrationsPath, fmt.Sprintf("%03d_%s.down.sql", next, name)),
	}

	if opts.DryRun {
		log.Info("[dry run] would create", slog.String("up", files["up"]), slog.String("down", files["down"]))
		return nil
	}

	if err := os.MkdirAll(opts.MigrationsPath, 0o755); err != nil {
		return fmt.Errorf("create migrations directory: %w", err)
	}
	for direction, path := range files {
		body := fmt.Sprintf("-- Migration: %s (%s)\n-- Created: %s\n", name, direction, time.Now().Format(time.RFC3339))
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("write %s migration: %w", direction, err)
		}
	}

	log.Info("created migration files", slog.String("up", files["up"]), slog.String("down", files["down"]))
	return nil
}

func nextMigrationNumber(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	highest := 0
	for _, entry := range entries {
		var num int
		if !entry.IsDir() {
			if _, err := fmt.Sscanf(entry.Name(), "%d_", &num); err == nil && num > highest {
				highest = num
			}
		}
	}
	return highest + 1, nil
}

func newMigrate(opts *options) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create database driver: %w", err)
	}

	path, err := filepath.Abs(opts.MigrationsPath)
	if err != nil {
		return nil, fmt.Errorf("resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.LockTimeout = opts.Timeout
	return m, nil
}

func optionalInt(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", args[0])
	}
	return n, nil
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
