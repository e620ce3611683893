// Package archive writes enriched results into a single growing zip archive
// and optionally ships the finished archive to object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrSinkClosed is returned by Push after Close.
var ErrSinkClosed = errors.New("archive: sink closed")

// Entry is one file added to the archive.
type Entry struct {
	Name         string
	LastModified time.Time
	Data         []byte
}

// Sink accepts entries until it is closed. Implementations are safe for
// concurrent use.
type Sink interface {
	Push(e Entry) error
	Close() error
}

// Uploader ships a finished archive file.
type Uploader interface {
	Upload(ctx context.Context, file string) error
}

// DefaultName returns the archive name for a run started at now.
func DefaultName(now time.Time) string {
	return fmt.Sprintf("transfixExport_%s_%d", now.Format("2006-01-02"), now.UnixMilli())
}

// ZipSink streams entries into a zip archive. Entries are stored without
// compression under a folder named after the archive.
type ZipSink struct {
	mu     sync.Mutex
	zw     *zip.Writer
	dst    io.Writer
	folder string
	names  map[string]int
	count  int
	closed bool

	file          string
	uploader      Uploader
	uploadTimeout time.Duration

	logger zerolog.Logger
}

// NewZipSink creates a sink writing to w. folder prefixes every entry name;
// an empty folder writes entries at the root. If w is an io.Closer it is
// closed by Close.
func NewZipSink(w io.Writer, folder string) *ZipSink {
	return &ZipSink{
		zw:     zip.NewWriter(w),
		dst:    w,
		folder: strings.Trim(folder, "/"),
		names:  make(map[string]int),
		logger: log.With().Str("component", "archive").Logger(),
	}
}

// FileOption configures a file sink.
type FileOption func(*ZipSink)

// WithUploader uploads the archive file after it has been closed.
func WithUploader(u Uploader, timeout time.Duration) FileOption {
	return func(s *ZipSink) {
		s.uploader = u
		s.uploadTimeout = timeout
	}
}

// NewFileSink creates <dir>/<name>.zip and returns a sink writing into it
// with every entry under <name>/.
func NewFileSink(dir, name string, opts ...FileOption) (*ZipSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	file := filepath.Join(dir, name+".zip")
	f, err := os.Create(file)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	s := NewZipSink(f, name)
	s.file = file
	for _, o := range opts {
		o(s)
	}
	if s.uploadTimeout <= 0 {
		s.uploadTimeout = 10 * time.Minute
	}
	return s, nil
}

// Path returns the archive file path, or "" for sinks not backed by a file.
func (s *ZipSink) Path() string {
	return s.file
}

// Push adds e to the archive. A name already present gets a " (n)" suffix
// before its extension.
func (s *ZipSink) Push(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	name := s.uniqueName(e.Name)
	if s.folder != "" {
		name = s.folder + "/" + name
	}

	modified := e.LastModified
	if modified.IsZero() {
		modified = time.Now()
	}

	w, err := s.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: modified.UTC(),
	})
	if err != nil {
		entriesFailed.Inc()
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := w.Write(e.Data); err != nil {
		entriesFailed.Inc()
		return fmt.Errorf("write entry %s: %w", name, err)
	}

	s.count++
	entriesTotal.Inc()
	bytesTotal.Add(float64(len(e.Data)))
	s.logger.Debug().Str("entry", name).Int("bytes", len(e.Data)).Msg("Entry archived")
	return nil
}

func (s *ZipSink) uniqueName(name string) string {
	name = strings.TrimLeft(name, "/")
	if name == "" {
		name = "unnamed"
	}
	n := s.names[name]
	s.names[name] = n + 1
	if n == 0 {
		return name
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
	// a generated name may collide with a later literal one
	for s.names[candidate] > 0 {
		n++
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
	s.names[candidate] = 1
	return candidate
}

// Close finalizes the archive, closes the destination and runs the upload
// if configured. Further calls are no-ops.
func (s *ZipSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	if c, ok := s.dst.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close archive: %w", err)
		}
	}

	s.logger.Info().Str("file", s.file).Int("entries", s.count).Msg("Archive finalized")

	if s.uploader == nil || s.file == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.uploadTimeout)
	defer cancel()
	if err := s.uploader.Upload(ctx, s.file); err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("upload archive: %w", err)
	}
	uploadsTotal.WithLabelValues("ok").Inc()
	return nil
}
