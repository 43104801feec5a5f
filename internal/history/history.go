// Package history keeps a local record of past runs. Each run appends
// one JSON line to history.json; when the file grows past a threshold
// it is rotated and compressed with zstd. The backup tool owns all
// durable backup state, this is operator-facing bookkeeping only.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/adergaoui/b2up/internal/logger"
)

const (
	historyFilename = "history.json"
	rotatedFilename = "history.json.1.zst"

	// defaultMaxSize is the rotation threshold for history.json.
	defaultMaxSize = 1 << 20
)

// Record is one completed (or failed) run.
type Record struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ms"`
	Status       string        `json:"status"`
	SnapshotID   string        `json:"snapshot_id,omitempty"`
	FilesNew     int           `json:"files_new"`
	FilesChanged int           `json:"files_changed"`
	DataAdded    int64         `json:"data_added"`
	Error        string        `json:"error,omitempty"`
}

// Store reads and writes run records under a state directory.
type Store struct {
	dir     string
	maxSize int64
	log     logger.Logger
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory %q: %w", dir, err)
	}
	return &Store{dir: dir, maxSize: defaultMaxSize, log: log}, nil
}

func (s *Store) path() string        { return filepath.Join(s.dir, historyFilename) }
func (s *Store) rotatedPath() string { return filepath.Join(s.dir, rotatedFilename) }

// Append writes one record and rotates the file when it has grown past
// the size threshold.
func (s *Store) Append(rec Record) error {
	if err := s.rotateIfNeeded(); err != nil {
		// Rotation trouble must not lose the record itself.
		s.log.Warn("history rotation failed", "error", err.Error())
	}

	f, err := os.OpenFile(s.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest last, reading back into the
// rotated file when the current one holds fewer than n.
func (s *Store) Recent(n int) ([]Record, error) {
	current, err := readRecords(s.path(), nil)
	if err != nil {
		return nil, err
	}

	records := current
	if len(records) < n {
		rotated, err := readRecords(s.rotatedPath(), decompress)
		if err != nil {
			return nil, err
		}
		records = append(rotated, current...)
	}

	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// rotateIfNeeded compresses the current file away once it exceeds the
// threshold. A previous rotation is overwritten; one generation of
// compressed history is enough.
func (s *Store) rotateIfNeeded() error {
	info, err := os.Stat(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < s.maxSize {
		return nil
	}

	if err := compressFile(s.path(), s.rotatedPath()); err != nil {
		return err
	}
	if err := os.Remove(s.path()); err != nil {
		return fmt.Errorf("remove rotated history: %w", err)
	}
	s.log.Info("rotated run history", "size", info.Size())
	return nil
}

// compressFile writes src through a zstd writer into dst.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	writer, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.Copy(writer, in); err != nil {
		writer.Close()
		return fmt.Errorf("compress %s: %w", src, err)
	}
	return writer.Close()
}

// decompress wraps a rotated history file in a zstd reader.
func decompress(r io.Reader) (io.Reader, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open zstd reader: %w", err)
	}
	return zr.IOReadCloser(), nil
}

// readRecords parses line-delimited records from path, optionally
// through a wrapping reader. A missing file yields no records.
func readRecords(path string, wrap func(io.Reader) (io.Reader, error)) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if wrap != nil {
		if r, err = wrap(f); err != nil {
			return nil, err
		}
	}

	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn write from a crashed run; skip it.
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}
