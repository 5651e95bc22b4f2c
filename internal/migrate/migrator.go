// Package migrate applies the versioned PostgreSQL schema and optional seed
// scripts. Every migration runs in its own transaction together with the
// bookkeeping row, under a transaction-scoped advisory lock, so concurrent
// migrators never apply the same version twice.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// lockKey is the pg_advisory_xact_lock key shared by all migrators.
const lockKey int64 = 0x7472616669

var ErrNothingApplied = errors.New("no migrations applied")

// Applied describes one row of schema_version.
type Applied struct {
	Version   int64
	Name      string
	AppliedAt time.Time
}

type Migrator struct {
	db    *sql.DB
	migs  []Migration
	seeds fs.FS
	log   *zap.Logger
}

type Option func(*Migrator)

// WithSeeds sets the directory of seed scripts, each applied once by name.
func WithSeeds(fsys fs.FS) Option {
	return func(m *Migrator) { m.seeds = fsys }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Migrator) {
		if l != nil {
			m.log = l
		}
	}
}

// New loads the migrations from fsys; see Load for the file layout.
func New(db *sql.DB, fsys fs.FS, opts ...Option) (*Migrator, error) {
	migs, err := Load(fsys)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	m := &Migrator{db: db, migs: migs, log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Up applies every migration newer than the recorded ones and returns how
// many it applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.bookkeeping(ctx); err != nil {
		return 0, err
	}
	applied := 0
	for _, mig := range m.migs {
		done, err := m.apply(ctx, mig)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", mig, err)
		}
		if done {
			applied++
			m.log.Info("migration applied", zap.Int64("version", mig.Version), zap.String("name", mig.Name))
		}
	}
	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) (bool, error) {
	var done bool
	err := m.locked(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`select exists(select 1 from schema_version where version = $1)`, mig.Version).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}
		if err := run(ctx, tx, mig.Up); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`insert into schema_version (version, name, applied_at) values ($1, $2, $3)`,
			mig.Version, mig.Name, time.Now().UTC()); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

// Down rolls back the highest applied version.
func (m *Migrator) Down(ctx context.Context) (Migration, error) {
	if err := m.bookkeeping(ctx); err != nil {
		return Migration{}, err
	}
	var target Migration
	err := m.locked(ctx, func(tx *sql.Tx) error {
		var version int64
		err := tx.QueryRowContext(ctx,
			`select version from schema_version order by version desc limit 1`).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNothingApplied
		}
		if err != nil {
			return err
		}
		mig, ok := m.find(version)
		if !ok || strings.TrimSpace(mig.Down) == "" {
			return fmt.Errorf("missing down migration for version %d", version)
		}
		if err := run(ctx, tx, mig.Down); err != nil {
			return fmt.Errorf("rollback %s: %w", mig, err)
		}
		if _, err := tx.ExecContext(ctx, `delete from schema_version where version = $1`, version); err != nil {
			return err
		}
		target = mig
		return nil
	})
	if err != nil {
		return Migration{}, err
	}
	m.log.Info("migration rolled back", zap.Int64("version", target.Version), zap.String("name", target.Name))
	return target, nil
}

// Status lists applied versions in order.
func (m *Migrator) Status(ctx context.Context) ([]Applied, error) {
	if err := m.bookkeeping(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx,
		`select version, name, applied_at from schema_version order by version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Version, &a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Pending lists migrations that Up would apply.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(applied))
	for _, a := range applied {
		seen[a.Version] = true
	}
	var out []Migration
	for _, mig := range m.migs {
		if !seen[mig.Version] {
			out = append(out, mig)
		}
	}
	return out, nil
}

// Seed runs every *.sql file under the seed directory once, in name order.
func (m *Migrator) Seed(ctx context.Context) (int, error) {
	if m.seeds == nil {
		return 0, nil
	}
	if err := m.bookkeeping(ctx); err != nil {
		return 0, err
	}
	var files []string
	err := fs.WalkDir(m.seeds, ".", func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && path.Ext(p) == ".sql" {
			files = append(files, p)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list seeds: %w", err)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		raw, err := fs.ReadFile(m.seeds, file)
		if err != nil {
			return applied, err
		}
		var done bool
		err = m.locked(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				`insert into seed_files (name, applied_at) values ($1, $2) on conflict (name) do nothing`,
				file, time.Now().UTC())
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				return err
			}
			done = true
			return run(ctx, tx, string(raw))
		})
		if err != nil {
			return applied, fmt.Errorf("seed %s: %w", file, err)
		}
		if done {
			applied++
			m.log.Info("seed applied", zap.String("file", file))
		}
	}
	return applied, nil
}

func (m *Migrator) find(version int64) (Migration, bool) {
	for _, mig := range m.migs {
		if mig.Version == version {
			return mig, true
		}
	}
	return Migration{}, false
}

func (m *Migrator) bookkeeping(ctx context.Context) error {
	for _, ddl := range []string{
		`create table if not exists schema_version (
			version    bigint primary key,
			name       text not null,
			applied_at timestamptz not null default now()
		)`,
		`create table if not exists seed_files (
			name       text primary key,
			applied_at timestamptz not null default now()
		)`,
	} {
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create bookkeeping tables: %w", err)
		}
	}
	return nil
}

// locked runs fn in a transaction holding the migrator advisory lock.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func run(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range statements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
