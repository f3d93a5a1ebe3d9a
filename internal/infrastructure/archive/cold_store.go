package archive

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/tiered-eventstore/internal/domain/errors"
	"github.com/davidleathers/tiered-eventstore/internal/domain/event"
)

const (
	segmentFilePrefix = "events-"
	segmentFileExt    = ".ndjson"
)

// ColdStore reads and writes NDJSON segment files under a single archive
// directory. Files are write-once: content goes to a uniquely named temp
// sibling, is flushed to disk, then renamed into place. The rename is the
// commit point.
type ColdStore struct {
	dir    string
	logger *zap.Logger
}

var _ event.ColdReader = (*ColdStore)(nil)

func NewColdStore(dir string, logger *zap.Logger) (*ColdStore, error) {
	if dir == "" {
		return nil, errors.NewValidationError("INVALID_ARCHIVE_DIR", "archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewStorageError("cold store init", "failed to create archive directory").WithCause(err)
	}
	return &ColdStore{dir: dir, logger: logger}, nil
}

func (s *ColdStore) Directory() string { return s.dir }

// SegmentFileName builds the canonical file name for a position range:
// events-{min:016d}-{max:016d}.ndjson.
func SegmentFileName(minPos, maxPos int64) string {
	return fmt.Sprintf("%s%016d-%016d%s", segmentFilePrefix, minPos, maxPos, segmentFileExt)
}

// ParseSegmentFileName extracts the position range from a segment file
// name. Returns false for anything that is not a segment file.
func ParseSegmentFileName(name string) (minPos, maxPos int64, ok bool) {
	if !strings.HasPrefix(name, segmentFilePrefix) || !strings.HasSuffix(name, segmentFileExt) {
		return 0, 0, false
	}
	core := strings.TrimSuffix(strings.TrimPrefix(name, segmentFilePrefix), segmentFileExt)
	parts := strings.Split(core, "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	minPos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	maxPos, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return minPos, maxPos, true
}

// WriteSegment serializes the envelopes (already in ascending position
// order) into a segment file named after their position range and returns
// the file name relative to the archive directory. An existing file at the
// final name is overwritten; the segment catalog's overlap check is the
// guard against that happening with divergent content.
func (s *ColdStore) WriteSegment(ctx context.Context, envelopes []event.Envelope) (string, error) {
	if len(envelopes) == 0 {
		return "", errors.NewValidationError("EMPTY_SEGMENT", "cannot write a segment with no events")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	minPos := envelopes[0].GlobalPosition
	maxPos := envelopes[len(envelopes)-1].GlobalPosition
	fileName := SegmentFileName(minPos, maxPos)
	finalPath := filepath.Join(s.dir, fileName)
	tmpPath := filepath.Join(s.dir, fmt.Sprintf(".%s.%s.tmp", fileName, uuid.NewString()))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", errors.NewStorageError("write segment", "failed to create temp file").WithCause(err)
	}
	defer func() {
		if f != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(f)
	for i := range envelopes {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := MarshalLine(&envelopes[i])
		if err != nil {
			return "", err
		}
		if _, err := w.Write(line); err != nil {
			return "", errors.NewStorageError("write segment", "failed to write line").WithCause(err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return "", errors.NewStorageError("write segment", "failed to write line").WithCause(err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", errors.NewStorageError("write segment", "failed to flush").WithCause(err)
	}
	if err := f.Sync(); err != nil {
		return "", errors.NewStorageError("write segment", "fsync failed").WithCause(err)
	}
	if err := f.Close(); err != nil {
		f = nil
		os.Remove(tmpPath)
		return "", errors.NewStorageError("write segment", "close failed").WithCause(err)
	}
	f = nil

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", errors.NewStorageError("write segment", "rename failed").WithCause(err)
	}

	s.logger.Debug("segment file written",
		zap.String("file", fileName),
		zap.Int64("min_position", minPos),
		zap.Int64("max_position", maxPos),
		zap.Int("events", len(envelopes)))
	return fileName, nil
}

// segmentFile is one directory entry with its parsed position range.
type segmentFile struct {
	name   string
	minPos int64
	maxPos int64
}

func (s *ColdStore) listSegmentFiles() ([]segmentFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.NewStorageError("list segments", "failed to read archive directory").WithCause(err)
	}
	var files []segmentFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		minPos, maxPos, ok := ParseSegmentFileName(entry.Name())
		if !ok {
			continue
		}
		files = append(files, segmentFile{name: entry.Name(), minPos: minPos, maxPos: maxPos})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].minPos < files[j].minPos })
	return files, nil
}

// ReadAllForwards yields archived events with GlobalPosition greater than
// fromExclusive, in ascending position order across files. Files whose
// whole range is at or below fromExclusive are skipped without opening.
func (s *ColdStore) ReadAllForwards(fromExclusive int64, batchSize int) event.Cursor {
	return &coldCursor{store: s, fromExclusive: fromExclusive}
}

type coldCursor struct {
	store         *ColdStore
	fromExclusive int64

	files   []segmentFile
	listed  bool
	fileIdx int

	file   *os.File
	reader *bufio.Reader

	cur    *event.Envelope
	err    error
	closed bool
}

func (c *coldCursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.listed {
		files, err := c.store.listSegmentFiles()
		if err != nil {
			c.err = err
			return false
		}
		c.files = files
		c.listed = true
	}

	for {
		if c.reader == nil {
			if !c.openNextFile() {
				return false
			}
		}
		// ReadBytes has no line-length cap, so payloads of any size read
		// back. It can return a final line and io.EOF together.
		line, err := c.reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			c.err = errors.NewStorageError("read segment", "read failed").WithCause(err)
			return false
		}
		atEOF := err == io.EOF

		line = bytes.TrimSuffix(line, []byte{'\n'})
		if len(line) > 0 {
			env, err := UnmarshalLine(line)
			if err != nil {
				c.err = err
				return false
			}
			if env.GlobalPosition > c.fromExclusive {
				if atEOF {
					c.closeFile()
				}
				c.cur = env
				return true
			}
		}
		if atEOF {
			c.closeFile()
		}
	}
}

func (c *coldCursor) openNextFile() bool {
	for c.fileIdx < len(c.files) {
		sf := c.files[c.fileIdx]
		c.fileIdx++
		if sf.maxPos <= c.fromExclusive {
			continue
		}
		f, err := os.Open(filepath.Join(c.store.dir, sf.name))
		if err != nil {
			// A listed file that cannot be opened means the directory
			// diverged under us; surface it rather than silently skipping.
			c.err = errors.NewStorageError("read segment", "failed to open segment file").
				WithDetails(map[string]interface{}{"file": sf.name}).
				WithCause(err)
			return false
		}
		c.file = f
		c.reader = bufio.NewReaderSize(f, 64*1024)
		return true
	}
	return false
}

func (c *coldCursor) closeFile() {
	if c.file != nil {
		c.file.Close()
		c.file = nil
	}
	c.reader = nil
}

func (c *coldCursor) Envelope() *event.Envelope { return c.cur }
func (c *coldCursor) Err() error                { return c.err }

func (c *coldCursor) Close() {
	if !c.closed {
		c.closeFile()
		c.closed = true
	}
}
