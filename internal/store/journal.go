package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/elonfeng/cryptosent/internal/logger"
	"github.com/elonfeng/cryptosent/pkg/post"
)

// Journal appends every newly inserted post to a local JSONL file. It is a
// convenience backup: write failures are logged at debug and dropped.
type Journal struct {
	mu   sync.Mutex
	path string
	log  logger.Logger
}

// NewJournal creates a journal at path. An empty path disables it.
func NewJournal(path string, log logger.Logger) *Journal {
	return &Journal{path: path, log: log}
}

// Append writes one JSON line for p.
func (j *Journal) Append(p post.Post) {
	if j == nil || j.path == "" {
		return
	}
	if err := j.write(p); err != nil {
		j.log.Debug("journal write failed", logger.String("path", j.path), logger.Error(err))
	}
}

func (j *Journal) write(p post.Post) error {
	line, err := json.Marshal(p)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
