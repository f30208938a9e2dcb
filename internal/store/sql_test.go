package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/cryptosent/pkg/post"
)

func expectMigrations(mock sqlmock.Sqlmock, table string, existing []string) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_" + table + "_scraped_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_" + table + "_source_method").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM ` + table + ` LIMIT 0`).WillReturnRows(sqlmock.NewRows(existing))
}

func newMockRelational(t *testing.T) (*SQLBackend, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db := sqlx.NewDb(mockDB, "postgres")
	expectMigrations(mock, "posts2", postColumns)

	b, err := NewRelational(context.Background(), db, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, mock
}

func TestRelationalMigrationAddsMissingColumns(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	legacy := postColumns[:len(postColumns)-2]
	expectMigrations(mock, "posts2", legacy)
	mock.ExpectExec("ALTER TABLE posts2 ADD COLUMN sentiment_score DOUBLE PRECISION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER TABLE posts2 ADD COLUMN is_influencer BOOLEAN NOT NULL DEFAULT FALSE").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = NewRelational(context.Background(), sqlx.NewDb(mockDB, "postgres"), "posts2")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationalRejectsUnsafeTableName(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	_, err = NewRelational(context.Background(), sqlx.NewDb(mockDB, "postgres"), "posts; DROP TABLE x")
	assert.ErrorContains(t, err, "invalid table name")
}

func TestRelationalInsert(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"new row", 1, true},
		{"duplicate uid", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, mock := newMockRelational(t)
			p := post.Normalize(post.Post{ID: "1", Text: "Bitcoin to the moon"}, "reddit", "http")
			p.ScrapedAt = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

			mock.ExpectExec(`INSERT INTO posts2 \(uid, id, source, method, .*\) VALUES \(\$1, .*, \$16\) ON CONFLICT \(uid\) DO NOTHING`).
				WithArgs(p.UID, "1", "reddit", "http", "", "Bitcoin to the moon", 0, "",
					"", "", "", "", nil, p.ScrapedAt, nil, false).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := b.Insert(context.Background(), &p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRelationalInsertUndefinedTable(t *testing.T) {
	b, mock := newMockRelational(t)
	mock.ExpectExec("INSERT INTO posts2").WillReturnError(&pq.Error{Code: "42P01", Message: `relation "posts2" does not exist`})

	p := post.Normalize(post.Post{ID: "1"}, "reddit", "http")
	_, err := b.Insert(context.Background(), &p)
	assert.True(t, errors.Is(err, ErrTableMissing))
}

func TestRelationalQuery(t *testing.T) {
	scraped := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	rowColumns := []string{"uid", "id", "source", "method", "title", "text", "score", "created_utc",
		"human_label", "author", "subreddit", "url", "num_comments", "scraped_at", "sentiment_score", "is_influencer"}

	tests := []struct {
		name    string
		q       Query
		pattern string
		args    []driver.Value
	}{
		{
			name:    "all filters",
			q:       Query{Sources: []string{"reddit", "twitter"}, Method: "http", OnlyWithoutSentiment: true, Limit: 10, Offset: 20},
			pattern: `WHERE 1=1 AND source IN \(\$1, \$2\) AND method = \$3 AND sentiment_score IS NULL ORDER BY scraped_at DESC, uid ASC LIMIT \$4 OFFSET \$5`,
			args:    []driver.Value{"reddit", "twitter", "http", 10, 20},
		},
		{
			name:    "offset without limit",
			q:       Query{Offset: 5},
			pattern: `WHERE 1=1 ORDER BY scraped_at DESC, uid ASC LIMIT \$1 OFFSET \$2`,
			args:    []driver.Value{int64(math.MaxInt64), 5},
		},
		{
			name:    "unbounded",
			q:       Query{},
			pattern: `FROM posts2 WHERE 1=1 ORDER BY scraped_at DESC, uid ASC$`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, mock := newMockRelational(t)

			rows := sqlmock.NewRows(rowColumns).
				AddRow("u1", "1", "reddit", "http", "t", "Bitcoin", int64(3), "2024-01-15T10:00:00",
					"", "alice", "CryptoCurrency", "", int64(4), scraped, nil, false)
			exp := mock.ExpectQuery(tt.pattern)
			if tt.args != nil {
				exp.WithArgs(tt.args...)
			}
			exp.WillReturnRows(rows)

			got, err := b.Query(context.Background(), tt.q)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "u1", got[0].UID)
			assert.Equal(t, scraped, got[0].ScrapedAt)
			require.NotNil(t, got[0].NumComments)
			assert.Equal(t, 4, *got[0].NumComments)
			assert.Nil(t, got[0].SentimentScore)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRelationalUpdateSentiment(t *testing.T) {
	b, mock := newMockRelational(t)
	mock.ExpectExec(`UPDATE posts2 SET sentiment_score = \$1 WHERE uid = \$2`).
		WithArgs(0.42, "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, b.UpdateSentiment(context.Background(), "u1", 0.42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationalStats(t *testing.T) {
	b, mock := newMockRelational(t)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM posts2`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`SELECT source, method, COUNT\(\*\) AS n FROM posts2 GROUP BY source, method`).
		WillReturnRows(sqlmock.NewRows([]string{"source", "method", "n"}).
			AddRow("reddit", "http", int64(2)).
			AddRow("bluesky", "api", int64(1)))
	mock.ExpectQuery(`SELECT MIN\(scraped_at\), MAX\(scraped_at\) FROM posts2`).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(first, last))

	st, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, []SourceMethodCount{{"reddit", "http", 2}, {"bluesky", "api", 1}}, st.BySourceMethod)
	require.NotNil(t, st.FirstScrape)
	assert.Equal(t, first, *st.FirstScrape)
	assert.Equal(t, last, *st.LastScrape)
	assert.Equal(t, KindRelational, st.Backend)
}

func TestScanTimeFormats(t *testing.T) {
	want := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	inputs := []any{
		want,
		"2024-01-15T10:00:00Z",
		"2024-01-15 10:00:00+00:00",
		"2024-01-15 10:00:00 +0000 UTC",
		[]byte("2024-01-15 10:00:00"),
	}
	for _, in := range inputs {
		var st scanTime
		require.NoError(t, st.Scan(in), "%v", in)
		assert.True(t, st.Valid)
		assert.True(t, want.Equal(st.Time), "%v parsed as %v", in, st.Time)
	}

	var st scanTime
	require.NoError(t, st.Scan(nil))
	assert.Nil(t, st.ptr())
	assert.Error(t, st.Scan("yesterday"))
}
