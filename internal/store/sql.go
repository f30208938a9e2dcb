package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/cryptosent/pkg/post"
)

// SQLBackend stores posts in a SQL table. The relational (PostgreSQL) and
// embedded (SQLite) tiers share it and differ only in dialect.
type SQLBackend struct {
	db    *sqlx.DB
	table string
	d     dialect
}

// OpenEmbedded opens (creating if needed) the SQLite file at path and
// ensures its schema.
func OpenEmbedded(ctx context.Context, path string) (*SQLBackend, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	b, err := newSQLBackend(ctx, db, embeddedDialect, embeddedTable)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewRelational wraps an open relational connection and ensures the table
// exists. An empty table selects the default name.
func NewRelational(ctx context.Context, db *sqlx.DB, table string) (*SQLBackend, error) {
	if table == "" {
		table = defaultRelationalTable
	}
	return newSQLBackend(ctx, db, relationalDialect, table)
}

func newSQLBackend(ctx context.Context, db *sqlx.DB, d dialect, table string) (*SQLBackend, error) {
	if err := migrate(ctx, db, d, table); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLBackend{db: db, table: table, d: d}, nil
}

func (b *SQLBackend) Kind() Kind { return b.d.kind }

func (b *SQLBackend) Close() error { return b.db.Close() }

func (b *SQLBackend) Insert(ctx context.Context, p *post.Post) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (uid) DO NOTHING`,
		b.table, strings.Join(postColumns, ", "), placeholders(len(postColumns)))

	var numComments any
	if p.NumComments != nil {
		numComments = int64(*p.NumComments)
	}
	var sentiment any
	if p.SentimentScore != nil {
		sentiment = *p.SentimentScore
	}

	res, err := b.db.ExecContext(ctx, b.db.Rebind(query),
		p.UID, p.ID, p.Source, p.Method, p.Title, p.Text, p.Score, p.CreatedUTC,
		p.HumanLabel, p.Author, p.Subreddit, p.URL, numComments, p.ScrapedAt.UTC(),
		sentiment, p.IsInfluencer)
	if err != nil {
		if isUndefinedTable(err) {
			return false, fmt.Errorf("insert post %s: %w", p.UID, ErrTableMissing)
		}
		return false, fmt.Errorf("insert post %s: %w", p.UID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert post %s: %w", p.UID, err)
	}
	return n == 1, nil
}

const selectColumns = `uid, COALESCE(id, '') AS id, source, method,
	COALESCE(title, '') AS title, COALESCE(text, '') AS text, COALESCE(score, 0) AS score,
	COALESCE(created_utc, '') AS created_utc, COALESCE(human_label, '') AS human_label,
	COALESCE(author, '') AS author, COALESCE(subreddit, '') AS subreddit, COALESCE(url, '') AS url,
	num_comments, scraped_at, sentiment_score, is_influencer`

// postRow mirrors the table with nullable columns made explicit.
type postRow struct {
	UID            string          `db:"uid"`
	ID             string          `db:"id"`
	Source         string          `db:"source"`
	Method         string          `db:"method"`
	Title          string          `db:"title"`
	Text           string          `db:"text"`
	Score          int             `db:"score"`
	CreatedUTC     string          `db:"created_utc"`
	HumanLabel     string          `db:"human_label"`
	Author         string          `db:"author"`
	Subreddit      string          `db:"subreddit"`
	URL            string          `db:"url"`
	NumComments    sql.NullInt64   `db:"num_comments"`
	ScrapedAt      scanTime        `db:"scraped_at"`
	SentimentScore sql.NullFloat64 `db:"sentiment_score"`
	IsInfluencer   sql.NullBool    `db:"is_influencer"`
}

func (r postRow) toPost() post.Post {
	p := post.Post{
		UID:          r.UID,
		ID:           r.ID,
		Source:       r.Source,
		Method:       r.Method,
		Title:        r.Title,
		Text:         r.Text,
		Score:        r.Score,
		CreatedUTC:   r.CreatedUTC,
		HumanLabel:   r.HumanLabel,
		Author:       r.Author,
		Subreddit:    r.Subreddit,
		URL:          r.URL,
		ScrapedAt:    r.ScrapedAt.Time,
		IsInfluencer: r.IsInfluencer.Valid && r.IsInfluencer.Bool,
	}
	if r.NumComments.Valid {
		n := int(r.NumComments.Int64)
		p.NumComments = &n
	}
	if r.SentimentScore.Valid {
		f := r.SentimentScore.Float64
		p.SentimentScore = &f
	}
	return p
}

func (b *SQLBackend) Query(ctx context.Context, q Query) ([]post.Post, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", selectColumns, b.table)
	var args []any

	if len(q.Sources) > 0 {
		query += " AND source IN (?)"
		args = append(args, q.Sources)
	}
	if q.Method != "" {
		query += " AND method = ?"
		args = append(args, q.Method)
	}
	if q.OnlyWithoutSentiment {
		query += " AND sentiment_score IS NULL"
	}

	query += " ORDER BY scraped_at DESC, uid ASC"

	// OFFSET needs a LIMIT on SQLite; an unbounded page binds the max.
	switch {
	case q.Limit > 0:
		query += " LIMIT ?"
		args = append(args, q.Limit)
	case q.Offset > 0:
		query += " LIMIT ?"
		args = append(args, int64(math.MaxInt64))
	}
	if q.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, q.Offset)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build posts query: %w", err)
	}

	var rows []postRow
	if err := b.db.SelectContext(ctx, &rows, b.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	posts := make([]post.Post, len(rows))
	for i := range rows {
		posts[i] = rows[i].toPost()
	}
	return posts, nil
}

func (b *SQLBackend) UpdateSentiment(ctx context.Context, uid string, score float64) error {
	query := fmt.Sprintf("UPDATE %s SET sentiment_score = ? WHERE uid = ?", b.table)
	if _, err := b.db.ExecContext(ctx, b.db.Rebind(query), score, uid); err != nil {
		return fmt.Errorf("update sentiment %s: %w", uid, err)
	}
	return nil
}

func (b *SQLBackend) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := b.db.GetContext(ctx, &st.Total, fmt.Sprintf("SELECT COUNT(*) FROM %s", b.table)); err != nil {
		return Stats{}, fmt.Errorf("count posts: %w", err)
	}

	err := b.db.SelectContext(ctx, &st.BySourceMethod, fmt.Sprintf(
		"SELECT source, method, COUNT(*) AS n FROM %s GROUP BY source, method ORDER BY n DESC, source, method", b.table))
	if err != nil {
		return Stats{}, fmt.Errorf("count posts by source: %w", err)
	}

	var first, last scanTime
	row := b.db.QueryRowxContext(ctx, fmt.Sprintf("SELECT MIN(scraped_at), MAX(scraped_at) FROM %s", b.table))
	if err := row.Scan(&first, &last); err != nil {
		return Stats{}, fmt.Errorf("scrape range: %w", err)
	}
	st.FirstScrape = first.ptr()
	st.LastScrape = last.ptr()
	st.Backend = b.d.kind
	return st, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return strings.Contains(err.Error(), "no such table")
}

// scanTime accepts the timestamp representations drivers hand back:
// time.Time from typed columns, text from SQLite aggregates.
type scanTime struct {
	Time  time.Time
	Valid bool
}

func (t *scanTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("scan timestamp: unsupported type %T", src)
	}
}

func (t *scanTime) parse(s string) error {
	ts, ok := parseTimestamp(s)
	if !ok {
		return fmt.Errorf("scan timestamp: unrecognized format %q", s)
	}
	t.Time, t.Valid = ts, true
	return nil
}

func (t scanTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	ts := t.Time
	return &ts
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
