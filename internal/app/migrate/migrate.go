package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/splax/streamhealth/db"
)

const commandTimeout = time.Minute

// Runner wraps database migration capabilities.
type Runner struct {
	pool     *pgxpool.Pool
	db       *sql.DB
	provider *goose.Provider
	source   string
	log      *slog.Logger
}

// New returns a migration runner backed by a goose provider. Migrations are
// read from migrationsDir when it is set and from the bundled files otherwise.
func New(pool *pgxpool.Pool, migrationsDir string, log *slog.Logger) (*Runner, error) {
	if pool == nil {
		return nil, errors.New("nil pool provided")
	}
	if log == nil {
		log = slog.Default()
	}
	fsys, source, err := migrationSource(migrationsDir)
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("configure goose: %w", err)
	}
	return &Runner{pool: pool, db: sqlDB, provider: provider, source: source, log: log}, nil
}

func migrationSource(dir string) (fs.FS, string, error) {
	if dir == "" {
		return db.Migrations(), "embedded", nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, "", fmt.Errorf("locate migrations dir: %w", err)
	}
	if !info.IsDir() {
		return nil, "", fmt.Errorf("migrations path %s is not a directory", dir)
	}
	return os.DirFS(dir), dir, nil
}

// Ensure applies pending migrations.
func (r *Runner) Ensure(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	r.log.Info("applying migrations", "source", r.source)
	results, err := r.provider.Up(runCtx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, res := range results {
		r.log.Info("migration applied", "version", res.Source.Version, "path", res.Source.Path, "duration_ms", res.Duration.Milliseconds())
	}
	r.log.Info("migrations applied", "count", len(results))
	return nil
}

// Status reports applied and pending migrations.
func (r *Runner) Status(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	for _, st := range statuses {
		fields := []any{"version", st.Source.Version, "path", st.Source.Path, "state", string(st.State)}
		if !st.AppliedAt.IsZero() {
			fields = append(fields, "applied_at", st.AppliedAt.UTC().Format(time.RFC3339))
		}
		r.log.Info("migration status", fields...)
	}
	return nil
}

// Down rolls back migrations either to the previous version or a specific target version.
func (r *Runner) Down(ctx context.Context, targetVersion int64) error {
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if targetVersion > 0 {
		r.log.Info("rolling back migrations", "target", targetVersion)
		if _, err := r.provider.DownTo(runCtx, targetVersion); err != nil {
			return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
		}
	} else {
		r.log.Info("rolling back latest migration")
		if _, err := r.provider.Down(runCtx); err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
	}

	r.log.Info("rollback complete")
	return nil
}

// Ping ensures the database connection is alive.
func (r *Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the migration connection. The pool stays open.
func (r *Runner) Close() {
	_ = r.provider.Close()
}
