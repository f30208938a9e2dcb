// Package importer loads historical datasets from CSV into the post store.
//
// Two layouts are recognised from the header row: the storage layout
// (uid, id, source, method, title, text, ... as written by an export of the
// posts table) and the influencer tweet layout (created_at, full_text or
// clean_text, favorite_count, reply_count, compound, sentiment_type).
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/internal/store"
	"github.com/elonfeng/cryptosent/pkg/post"
)

// Layout names a recognised CSV header shape.
type Layout string

const (
	LayoutStorage    Layout = "storage"
	LayoutInfluencer Layout = "influencer"
)

const (
	defaultBatchSize = 500
	sampleSize       = 5

	influencerSource = "bmc_influencers"
	influencerMethod = "bmc_import"
)

// ErrUnknownLayout is returned when the header matches no known layout.
var ErrUnknownLayout = errors.New("unrecognised csv layout")

// Saver persists posts with dedup.
type Saver interface {
	Save(ctx context.Context, posts []post.Post, sourceOverride, methodOverride string) (store.SaveResult, error)
}

// Options controls one import.
type Options struct {
	// Source and Method override the values in the file or the layout default.
	Source string
	Method string
	// Influencer marks every imported post as coming from an influencer.
	Influencer bool
	DryRun     bool
	BatchSize  int
	// Limit caps the data rows read; 0 reads everything.
	Limit int
}

// Report summarises an import.
type Report struct {
	Layout   Layout      `json:"layout"`
	Rows     int         `json:"rows"`
	Skipped  int         `json:"skipped"`
	Parsed   int         `json:"parsed"`
	Inserted int         `json:"inserted"`
	Batches  int         `json:"batches"`
	Backend  store.Kind  `json:"backend,omitempty"`
	DryRun   bool        `json:"dry_run"`
	Sample   []post.Post `json:"sample,omitempty"`
}

// Importer reads CSV datasets into a Saver.
type Importer struct {
	saver Saver
	log   logger.Logger
}

// New creates an Importer.
func New(s Saver, log logger.Logger) *Importer {
	return &Importer{saver: s, log: log}
}

// ImportFile imports the CSV at path.
func (im *Importer) ImportFile(ctx context.Context, path string, opts Options) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rep, err := im.Import(ctx, f, opts)
	if err != nil {
		return rep, fmt.Errorf("import %s: %w", path, err)
	}
	return rep, nil
}

// Import reads CSV rows from r, converts them to posts and saves them in
// batches. Rows without any text are skipped. With DryRun nothing is saved.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts Options) (Report, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	rep := Report{DryRun: opts.DryRun}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return rep, fmt.Errorf("read header: %w", err)
	}
	header = cleanHeader(header)
	rep.Layout, err = detectLayout(header)
	if err != nil {
		return rep, err
	}
	convert := im.converter(rep.Layout, header, opts)

	var pending []post.Post
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		rep.Batches++
		if opts.DryRun {
			pending = pending[:0]
			return nil
		}
		res, err := im.saver.Save(ctx, pending, opts.Source, opts.Method)
		if err != nil {
			return fmt.Errorf("save batch %d: %w", rep.Batches, err)
		}
		rep.Inserted += res.Inserted
		rep.Backend = res.Backend
		im.log.Info("import batch saved",
			logger.Int("batch", rep.Batches),
			logger.Int("posts", len(pending)),
			logger.Int("inserted", res.Inserted))
		pending = pending[:0]
		return nil
	}

	for opts.Limit <= 0 || rep.Rows < opts.Limit {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rep, fmt.Errorf("read row %d: %w", rep.Rows+1, err)
		}
		index := rep.Rows
		rep.Rows++

		p, ok := convert(rowMap(header, record), index)
		if !ok {
			rep.Skipped++
			continue
		}
		rep.Parsed++
		if len(rep.Sample) < sampleSize {
			rep.Sample = append(rep.Sample, p)
		}
		pending = append(pending, p)
		if len(pending) >= batchSize {
			if err := flush(); err != nil {
				return rep, err
			}
		}
	}
	if err := flush(); err != nil {
		return rep, err
	}

	im.log.Info("import finished",
		logger.String("layout", string(rep.Layout)),
		logger.Int("rows", rep.Rows),
		logger.Int("skipped", rep.Skipped),
		logger.Int("inserted", rep.Inserted),
		logger.Bool("dry_run", opts.DryRun))
	return rep, nil
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}

func detectLayout(header []string) (Layout, error) {
	has := make(map[string]bool, len(header))
	for _, h := range header {
		has[h] = true
	}
	switch {
	case has["text"] && (has["created_utc"] || has["uid"] || has["id"]):
		return LayoutStorage, nil
	case has["full_text"] || has["clean_text"]:
		return LayoutInfluencer, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownLayout, strings.Join(header, ","))
}

func rowMap(header, record []string) map[string]any {
	m := make(map[string]any, len(header))
	for i, h := range header {
		if i < len(record) {
			m[h] = record[i]
		}
	}
	return m
}

type convertFunc func(row map[string]any, index int) (post.Post, bool)

func (im *Importer) converter(layout Layout, header []string, opts Options) convertFunc {
	if layout == LayoutInfluencer {
		return influencerConverter(header)
	}
	return func(row map[string]any, _ int) (post.Post, bool) {
		p := post.FromMap(row)
		if p.Text == "" && p.Title == "" {
			return post.Post{}, false
		}
		p.CreatedUTC = post.NormalizeCreated(p.CreatedUTC)
		p.IsInfluencer = p.IsInfluencer || opts.Influencer
		return p, true
	}
}

// influencerConverter maps the tweet dataset columns. The id is taken from a
// leading index column when one exists, otherwise from the row position.
func influencerConverter(header []string) convertFunc {
	hasIndex := len(header) > 0 && isIndexColumn(header[0])
	idCol := ""
	if hasIndex {
		idCol = header[0]
	}
	return func(row map[string]any, index int) (post.Post, bool) {
		text := str(row, "full_text")
		if text == "" {
			text = str(row, "clean_text")
		}
		if text == "" {
			return post.Post{}, false
		}

		id := strconv.Itoa(index)
		if hasIndex {
			if v := str(row, idCol); v != "" {
				id = v
			}
		}

		p := post.FromMap(map[string]any{
			"id":              id,
			"source":          influencerSource,
			"method":          influencerMethod,
			"text":            text,
			"score":           row["favorite_count"],
			"created_utc":     post.NormalizeCreated(str(row, "created_at")),
			"human_label":     row["sentiment_type"],
			"subreddit":       truncate(str(row, "new_coins"), 200),
			"num_comments":    row["reply_count"],
			"sentiment_score": row["compound"],
		})
		if p.NumComments == nil {
			zero := 0
			p.NumComments = &zero
		}
		p.IsInfluencer = true
		return p, true
	}
}

func isIndexColumn(name string) bool {
	switch name {
	case "", "id", "index":
		return true
	}
	return strings.HasPrefix(name, "unnamed")
}

func str(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
