package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migrator walks the migrations directory and applies {version}_{name}.up.sql
// files in version order, recording each in public.swapvault_migrations.
// Down undoes the most recent entry using the matching .down.sql. The ledger
// table lives outside the vault schema, which the down migrations drop.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

const migrationLedgerDDL = `
CREATE TABLE IF NOT EXISTS public.swapvault_migrations (
	version    TEXT PRIMARY KEY,
	filename   TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type migrationFile struct {
	version string
	name    string
}

// Up applies every pending up-migration, one transaction per file.
func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, migrationLedgerDDL); err != nil {
		return fmt.Errorf("ensure migration ledger: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("applied versions: %w", err)
	}
	pending, err := m.pendingFiles(applied)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	for _, f := range pending {
		err := m.runInTx(ctx, f.name, func(tx *sql.Tx) error {
			if err := m.execFile(ctx, tx, f.name); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.swapvault_migrations (version, filename) VALUES ($1, $2)`,
				f.version, f.name)
			return err
		})
		if err != nil {
			return err
		}
		log.Printf("INFO: applied migration %s", f.name)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, migrationLedgerDDL); err != nil {
		return fmt.Errorf("ensure migration ledger: %w", err)
	}

	var version, upName string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.swapvault_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &upName)
	if errors.Is(err, sql.ErrNoRows) {
		log.Println("INFO: nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest migration: %w", err)
	}

	downName := strings.TrimSuffix(upName, ".up.sql") + ".down.sql"
	err = m.runInTx(ctx, downName, func(tx *sql.Tx) error {
		if err := m.execFile(ctx, tx, downName); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM public.swapvault_migrations WHERE version = $1`, version)
		return err
	})
	if err != nil {
		return err
	}
	log.Printf("INFO: rolled back migration %s", downName)
	return nil
}

func (m *Migrator) runInTx(ctx context.Context, label string, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", label, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("%s: %w", label, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", label, err)
	}
	return nil
}

func (m *Migrator) execFile(ctx context.Context, tx *sql.Tx, name string) error {
	ddl, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, string(ddl))
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.swapvault_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		seen[v] = struct{}{}
	}
	return seen, rows.Err()
}

// pendingFiles lists up-migrations not yet recorded, sorted by version.
func (m *Migrator) pendingFiles(applied map[string]struct{}) ([]migrationFile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var pending []migrationFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		if _, done := applied[version]; done {
			continue
		}
		pending = append(pending, migrationFile{version: version, name: name})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	return pending, nil
}
