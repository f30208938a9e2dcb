package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

const (
	defaultRelationalTable = "posts2"
	embeddedTable          = "posts"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// postColumns is the persisted schema in insert order.
var postColumns = []string{
	"uid", "id", "source", "method", "title", "text", "score", "created_utc",
	"human_label", "author", "subreddit", "url", "num_comments", "scraped_at",
	"sentiment_score", "is_influencer",
}

const relationalSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
    uid             TEXT PRIMARY KEY,
    id              TEXT NOT NULL DEFAULT '',
    source          TEXT NOT NULL,
    method          TEXT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    text            TEXT NOT NULL DEFAULT '',
    score           INTEGER NOT NULL DEFAULT 0,
    created_utc     TEXT NOT NULL DEFAULT '',
    human_label     TEXT NOT NULL DEFAULT '',
    author          TEXT NOT NULL DEFAULT '',
    subreddit       TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL DEFAULT '',
    num_comments    INTEGER,
    scraped_at      TIMESTAMPTZ NOT NULL,
    sentiment_score DOUBLE PRECISION,
    is_influencer   BOOLEAN NOT NULL DEFAULT FALSE
)`

const embeddedSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
    uid             TEXT PRIMARY KEY,
    id              TEXT NOT NULL DEFAULT '',
    source          TEXT NOT NULL,
    method          TEXT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    text            TEXT NOT NULL DEFAULT '',
    score           INTEGER NOT NULL DEFAULT 0,
    created_utc     TEXT NOT NULL DEFAULT '',
    human_label     TEXT NOT NULL DEFAULT '',
    author          TEXT NOT NULL DEFAULT '',
    subreddit       TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL DEFAULT '',
    num_comments    INTEGER,
    scraped_at      DATETIME NOT NULL,
    sentiment_score REAL,
    is_influencer   INTEGER NOT NULL DEFAULT 0
)`

const indexSchema = `CREATE INDEX IF NOT EXISTS idx_%[1]s_scraped_at ON %[1]s(scraped_at)`
const sourceIndexSchema = `CREATE INDEX IF NOT EXISTS idx_%[1]s_source_method ON %[1]s(source, method)`

// dialect holds what differs between the relational and embedded SQL tiers.
type dialect struct {
	kind   Kind
	schema string
	// addColumns are added to tables created before the column existed.
	addColumns []columnDef
}

type columnDef struct {
	name string
	ddl  string
}

var relationalDialect = dialect{
	kind:   KindRelational,
	schema: relationalSchema,
	addColumns: []columnDef{
		{"sentiment_score", "DOUBLE PRECISION"},
		{"is_influencer", "BOOLEAN NOT NULL DEFAULT FALSE"},
	},
}

var embeddedDialect = dialect{
	kind:   KindEmbedded,
	schema: embeddedSchema,
	addColumns: []columnDef{
		{"sentiment_score", "REAL"},
		{"is_influencer", "INTEGER NOT NULL DEFAULT 0"},
	},
}

// migrate creates the table if absent and adds columns missing from older
// tables. Every step is idempotent.
func migrate(ctx context.Context, db *sqlx.DB, d dialect, table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	for _, stmt := range []string{d.schema, indexSchema, sourceIndexSchema} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(stmt, table)); err != nil {
			return fmt.Errorf("create schema for %s: %w", table, err)
		}
	}

	existing, err := tableColumns(ctx, db, table)
	if err != nil {
		return err
	}
	for _, col := range d.addColumns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.ddl)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, col.name, err)
		}
	}
	return nil
}

// tableColumns reads column names from an empty result set, which works the
// same way on every SQL engine we target.
func tableColumns(ctx context.Context, db *sqlx.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", table))
	if err != nil {
		return nil, fmt.Errorf("inspect columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("inspect columns of %s: %w", table, err)
	}
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c] = true
	}
	return set, nil
}
