package db

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubroster/clubroster/internal/platform/db/migrations"
)

// Migrate applies the embedded schema migrations that have not run yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return applyMigrations(ctx, pool, migrations.FS)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool, migrationFS fs.FS) error {
	files, err := migrationFiles(migrationFS)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`); err != nil {
		return fmt.Errorf("platform/db: ensure migration table: %w", err)
	}
	for _, file := range files {
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("platform/db: read migration %s: %w", file, err)
		}
		err = WithTx(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT DO NOTHING`, file)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, UpSection(string(content)))
			return err
		})
		if err != nil {
			return fmt.Errorf("platform/db: apply migration %s: %w", file, err)
		}
	}
	return nil
}

func migrationFiles(migrationFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("platform/db: read migrations: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// UpSection returns the statements between the Up and Down markers of a migration file.
func UpSection(content string) string {
	const upMarker, downMarker = "-- +migrate Up", "-- +migrate Down"
	if start := strings.Index(content, upMarker); start != -1 {
		content = content[start+len(upMarker):]
	}
	if end := strings.Index(content, downMarker); end != -1 {
		content = content[:end]
	}
	return content
}
