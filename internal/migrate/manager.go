package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "schema_migrations"

	// advisoryLockKey serializes concurrent migrators (two API replicas starting together).
	advisoryLockKey = 7_340_021
)

//go:embed sql/*.sql
var embedded embed.FS

// Embedded returns the schema migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Manager applies *.up.sql / *.down.sql pairs from a filesystem in name order.
type Manager struct {
	db              *sql.DB
	files           fs.FS
	migrationsTable string
	useLock         bool
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithoutLock skips the Postgres advisory lock.
func WithoutLock() Option {
	return func(m *Manager) { m.useLock = false }
}

// NewManager constructs a Manager reading migrations from files.
func NewManager(db *sql.DB, files fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		files:           files,
		migrationsTable: defaultMigrationsTable,
		useLock:         true,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	var applied []string
	err := m.locked(ctx, func() error {
		executed, err := m.listExecuted(ctx)
		if err != nil {
			return err
		}
		files, err := m.collect(".up.sql")
		if err != nil {
			return err
		}
		for _, name := range files {
			if executed[name] {
				continue
			}
			if err := m.apply(ctx, name, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.migrationsTable),
					name, m.now().UTC())
				return err
			}); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
			applied = append(applied, name)
		}
		return nil
	})
	return applied, err
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) (string, error) {
	var last string
	err := m.locked(ctx, func() error {
		executed, err := m.history(ctx)
		if err != nil {
			return err
		}
		if len(executed) == 0 {
			return errors.New("no migrations applied")
		}
		last = executed[len(executed)-1]
		down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(m.files, down); err != nil {
			return fmt.Errorf("missing down migration for %s", last)
		}
		if err := m.apply(ctx, down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last)
			return err
		}); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
		return nil
	})
	return last, err
}

// Status returns applied migrations and the ones still pending.
func (m *Manager) Status(ctx context.Context) (applied, pending []string, err error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, nil, err
	}
	applied, err = m.history(ctx)
	if err != nil {
		return nil, nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	files, err := m.collect(".up.sql")
	if err != nil {
		return nil, nil, err
	}
	for _, name := range files {
		if !done[name] {
			pending = append(pending, name)
		}
	}
	return applied, pending, nil
}

func (m *Manager) locked(ctx context.Context, fn func() error) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	if !m.useLock {
		return fn()
	}
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, advisoryLockKey)
	}()
	return fn()
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, m.migrationsTable))
	return err
}

// apply runs the statements of name and the bookkeeping step in one transaction.
func (m *Manager) apply(ctx context.Context, name string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(m.files, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	names, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[name] = true
	}
	return result, nil
}

func (m *Manager) history(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, m.migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func (m *Manager) collect(suffix string) ([]string, error) {
	var files []string
	err := fs.WalkDir(m.files, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, path.Clean(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements splits on semicolons outside single-quoted strings and
// drops "--" line comments and empty statements.
func splitStatements(src string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, line := range strings.Split(src, "\n") {
		if !inString && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch {
			case r == '\'':
				inString = !inString
				current.WriteRune(r)
			case r == ';' && !inString:
				flush()
			default:
				current.WriteRune(r)
			}
		}
		current.WriteByte('\n')
	}
	flush()
	return stmts
}
