package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"goatclash/internal/database"
	"goatclash/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	migrationsPath := getEnv("MIGRATIONS_PATH", "./migrations")

	logger := logging.New(logging.Config{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: "console",
		Output: "stdout",
	}).With().Str("component", "migrate").Logger()

	// create only touches the filesystem.
	if command == "create" {
		if len(os.Args) < 3 {
			logger.Fatal().Msg("usage: migrate create <migration_name>")
		}
		if err := createMigration(logger, migrationsPath, os.Args[2]); err != nil {
			logger.Fatal().Err(err).Msg("create migration")
		}
		return
	}

	db, err := sql.Open("pgx", database.URL())
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	if err := run(logger, db, migrationsPath, command, os.Args[2:]); err != nil {
		logger.Error().Err(err).Str("command", command).Msg("migration command failed")
		db.Close()
		os.Exit(1)
	}
}

func run(logger zerolog.Logger, db *sql.DB, migrationsPath, command string, args []string) error {
	switch command {
	case "up":
		logger.Info().Str("path", migrationsPath).Msg("applying migrations")
		if err := database.RunMigrations(db, migrationsPath); err != nil {
			return err
		}
		logger.Info().Msg("schema up to date")

	case "down":
		logger.Info().Msg("rolling back last migration")
		if err := database.RollbackMigration(db, migrationsPath); err != nil {
			return err
		}
		logger.Info().Msg("rollback complete")

	case "version":
		version, dirty, err := database.GetMigrationVersion(db, migrationsPath)
		if err != nil {
			return err
		}
		ev := logger.Info()
		if dirty {
			ev = logger.Warn()
		}
		ev.Uint("version", version).Bool("dirty", dirty).Msg("current schema version")

	case "force":
		if len(args) < 1 {
			return fmt.Errorf("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("version %q: %w", args[0], err)
		}
		if err := database.ForceMigration(db, migrationsPath, version); err != nil {
			return err
		}
		logger.Warn().Int("version", version).Msg("schema version forced")

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

// createMigration numbers the new pair after the highest existing version.
func createMigration(logger zerolog.Logger, dir, name string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	latest := 0
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		prefix, _, ok := strings.Cut(file.Name(), "_")
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(prefix); err == nil && v > latest {
			latest = v
		}
	}
	next := latest + 1

	up := filepath.Join(dir, fmt.Sprintf("%06d_%s.up.sql", next, name))
	down := filepath.Join(dir, fmt.Sprintf("%06d_%s.down.sql", next, name))

	header := fmt.Sprintf("-- %s (created %s)\n\n", name, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(up, []byte(header), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(down, []byte(header), 0o644); err != nil {
		return err
	}

	logger.Info().Str("up", up).Str("down", down).Msg("created migration")
	return nil
}

func printUsage() {
	fmt.Println(`goatclash schema migrations

Usage:
  migrate up                 apply all pending migrations
  migrate down               roll back the last migration
  migrate version            print the current schema version
  migrate force <version>    set the version without running it (clears dirty)
  migrate create <name>      write an empty up/down pair

Environment:
  BLUEPRINT_DB_HOST, BLUEPRINT_DB_PORT, BLUEPRINT_DB_DATABASE,
  BLUEPRINT_DB_USERNAME, BLUEPRINT_DB_PASSWORD, BLUEPRINT_DB_SCHEMA
  MIGRATIONS_PATH (default ./migrations), LOG_LEVEL`)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
