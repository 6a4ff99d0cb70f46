package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationPattern = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

// MigrationFile is one direction of a numbered migration.
type MigrationFile struct {
	Version   string
	Name      string
	Direction string
	Path      string
}

// ListMigrations returns the files in dir for one direction, ascending by
// version for "up" and descending for "down".
func ListMigrations(dir, direction string) ([]MigrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	files := make([]MigrationFile, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationPattern.FindStringSubmatch(entry.Name())
		if match == nil || match[2] != direction {
			continue
		}
		files = append(files, MigrationFile{
			Version:   match[1],
			Name:      entry.Name(),
			Direction: direction,
			Path:      filepath.Join(dir, entry.Name()),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if direction == "down" {
			return files[i].Name > files[j].Name
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	files, err := ListMigrations(migrationsDir, "up")
	if err != nil {
		return err
	}

	for _, file := range files {
		if migrated, err := isMigrated(ctx, db, file.Name); err != nil {
			return err
		} else if migrated {
			continue
		}

		contents, err := os.ReadFile(file.Path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file.Name, err)
		}

		err = withTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
				return fmt.Errorf("execute migration %s: %w", file.Name, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, file.Name); err != nil {
				return fmt.Errorf("record migration %s: %w", file.Name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "migration applied", "version", file.Name)
	}

	return nil
}

// RollbackMigrations runs the down files of applied migrations, newest
// first, stopping after steps migrations (all of them when steps <= 0).
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	files, err := ListMigrations(migrationsDir, "down")
	if err != nil {
		return err
	}

	done := 0
	for _, file := range files {
		if steps > 0 && done >= steps {
			break
		}
		upName := strings.TrimSuffix(file.Name, ".down.sql") + ".up.sql"
		if migrated, err := isMigrated(ctx, db, upName); err != nil {
			return err
		} else if !migrated {
			continue
		}

		contents, err := os.ReadFile(file.Path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file.Name, err)
		}

		err = withTx(ctx, db, func(tx *sql.Tx) error {
			if text := strings.TrimSpace(string(contents)); text != "" {
				if _, err := tx.ExecContext(ctx, text); err != nil {
					return fmt.Errorf("execute migration %s: %w", file.Name, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, upName); err != nil {
				return fmt.Errorf("unrecord migration %s: %w", upName, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		done++
		slog.InfoContext(ctx, "migration rolled back", "version", upName)
	}

	return nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
