package database

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Tables names the configurable tables referenced by the migrations.
type Tables struct {
	Pending string
	Summary string
	Group   string
}

// Render expands one migration template with the configured table names.
func Render(sql string, tables Tables) (string, error) {
	tmpl, err := template.New("migration").Option("missingkey=error").Parse(sql)
	if err != nil {
		return "", fmt.Errorf("parse migration: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, tables); err != nil {
		return "", fmt.Errorf("render migration: %w", err)
	}
	return buf.String(), nil
}

// Migrate runs embedded SQL migrations in order (001_schema.sql, 002_..., etc.).
// Every statement is idempotent, so the whole set runs on each start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, tables Tables) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		sql, err := Render(string(raw), tables)
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err = pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	return nil
}
