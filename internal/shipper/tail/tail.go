// Package tail implements the File Tailer: one independent goroutine per
// discovered source, delivering newline-terminated lines to the Record
// Builder in file order, surviving rotation and truncation, and abandoning
// a source only after a bounded reopen retry window.
package tail

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opsentra/opsentra/internal/logging"
	"github.com/opsentra/opsentra/internal/metrics"
	"github.com/opsentra/opsentra/internal/shipper/discover"
)

const (
	defaultRetryWindow = 5 * time.Second
	pollInterval        = 500 * time.Millisecond
)

// Line is one tailed line, ready for the Record Builder.
type Line struct {
	Source discover.Source
	Text   string
}

// Sink receives lines as they're tailed. Implementations must not block
// indefinitely; the tailer passes a context so a slow sink can be
// abandoned on shutdown.
type Sink interface {
	Emit(ctx context.Context, line Line)
}

// Config holds the File Tailer's tunables.
type Config struct {
	RetryWindow time.Duration
}

// Tailer follows a single source.
type Tailer struct {
	source discover.Source
	sink   Sink
	cfg    Config

	opened   bool
	eventLog *logging.EventLogger
}

// NewTailer constructs a Tailer for source, delivering lines to sink.
func NewTailer(source discover.Source, sink Sink, cfg Config, eventLog *logging.EventLogger) *Tailer {
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = defaultRetryWindow
	}
	return &Tailer{source: source, sink: sink, cfg: cfg, eventLog: eventLog}
}

// Serve implements suture.Service: it runs until ctx is cancelled or the
// source is abandoned after exhausting its reopen retry window.
func (t *Tailer) Serve(ctx context.Context) error {
	for {
		err := t.followOnce(ctx)
		if err == nil {
			return ctx.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !t.waitForReopen(ctx) {
			t.abandon(err)
			return nil
		}
	}
}

// waitForReopen retries reopening the source for up to RetryWindow,
// reporting whether the file became available again.
func (t *Tailer) waitForReopen(ctx context.Context) bool {
	deadline := time.Now().Add(t.cfg.RetryWindow)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if _, err := os.Stat(t.source.Path); err == nil {
				return true
			}
		}
	}
	return false
}

func (t *Tailer) abandon(cause error) {
	metrics.TailerAbandonedTotal.WithLabelValues(string(t.source.SourceType)).Inc()
	if t.eventLog != nil {
		t.eventLog.Warn("tailer abandoned source", "path", t.source.Path, "service", t.source.Service, "error", cause.Error())
	}
}

// followOnce opens the source and tails it until an unrecoverable error
// (file gone, read failure) or ctx cancellation. A clean ctx cancellation
// returns nil; anything else returns a non-nil error triggering a reopen
// attempt. The very first open of a source seeks to EOF (only new lines are
// tailed); every subsequent reopen — driven by a detected rotation or
// truncation — seeks to 0, since the file at the other end of that reopen
// is a different file (or has been truncated back to empty) whose content
// has not yet been read.
func (t *Tailer) followOnce(ctx context.Context) error {
	f, err := os.Open(t.source.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	seekWhence := io.SeekStart
	if !t.opened {
		seekWhence = io.SeekEnd
		t.opened = true
	}
	if _, err := f.Seek(0, seekWhence); err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}
	startIno := inode(info)

	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		defer watcher.Close()
		_ = watcher.Add(t.source.Path)
	}

	reader := bufio.NewReader(f)
	var partial []byte

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			t.flushPartial(ctx, &partial)
			return nil
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		}

		rotated, err := t.rotated(t.source.Path, f, startIno)
		if err != nil {
			t.flushPartial(ctx, &partial)
			return err
		}
		if rotated {
			t.flushPartial(ctx, &partial)
			return errRotated
		}

		if err := t.drain(ctx, reader, &partial); err != nil && !errors.Is(err, io.EOF) {
			t.flushPartial(ctx, &partial)
			return err
		}
	}
}

var errRotated = errors.New("tail: source rotated")

// rotated reports whether the file at path now has a different inode than
// the one we opened, or has shrunk below our current read offset.
func (t *Tailer) rotated(path string, open *os.File, startIno uint64) (bool, error) {
	diskInfo, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if inode(diskInfo) != startIno {
		return true, nil
	}

	pos, err := open.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}
	if diskInfo.Size() < pos {
		return true, nil
	}
	return false, nil
}

// drain reads all currently-available bytes, emitting complete lines and
// buffering any trailing partial line across calls.
func (t *Tailer) drain(ctx context.Context, reader *bufio.Reader, partial *[]byte) error {
	for {
		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 {
			if chunk[len(chunk)-1] == '\n' {
				line := append(*partial, chunk[:len(chunk)-1]...)
				*partial = nil
				t.emit(ctx, string(line))
			} else {
				*partial = append(*partial, chunk...)
			}
		}
		if err != nil {
			return err
		}
	}
}

func (t *Tailer) flushPartial(ctx context.Context, partial *[]byte) {
	if len(*partial) == 0 {
		return
	}
	t.emit(ctx, string(*partial))
	*partial = nil
}

func (t *Tailer) emit(ctx context.Context, text string) {
	if text == "" {
		return
	}
	t.sink.Emit(ctx, Line{Source: t.source, Text: text})
}
