package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"k8s.io/utils/clock"
)

const (
	maxLineBytes = 1024 * 1024
	pollInterval = 250 * time.Millisecond
)

// TailOptions controls a single Tail call.
type TailOptions struct {
	// Offset is the byte position to resume from; negative means "last Limit lines".
	Offset int64
	Limit  int
	// Follow waits up to Wait for new lines when none are available.
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tailer reads a log file. The clock drives follow-mode polling.
type Tailer struct {
	path  string
	clock clock.WithTicker
}

// NewTailer returns a Tailer for path. A nil clock uses the real clock.
func NewTailer(path string, clk clock.WithTicker) *Tailer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tailer{path: path, clock: clk}
}

// Tail reads lines according to opts. A missing file yields no lines and
// offset zero so callers can start before the daemon has logged anything.
func (t *Tailer) Tail(ctx context.Context, opts TailOptions) (TailResult, error) {
	if opts.Wait < 0 {
		opts.Wait = 0
	}
	if opts.Offset < 0 {
		lines, offset, err := t.readLast(opts.Limit)
		if err != nil || len(lines) > 0 || !opts.Follow || opts.Wait == 0 {
			return TailResult{Lines: lines, Offset: offset}, err
		}
		return t.wait(ctx, offset, opts.Wait)
	}

	lines, offset, err := t.readFrom(opts.Offset)
	if err != nil || len(lines) > 0 || !opts.Follow || opts.Wait == 0 {
		return TailResult{Lines: lines, Offset: offset}, err
	}
	return t.wait(ctx, offset, opts.Wait)
}

func (t *Tailer) open() (*os.File, error) {
	file, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", t.path)
	}
	return file, nil
}

func (t *Tailer) readLast(limit int) ([]string, int64, error) {
	file, err := t.open()
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]string, limit)
	count, next := 0, 0
	offset, err := scanLines(file, func(line string) {
		ring[next] = line
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return nil, 0, err
	}

	lines := make([]string, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := range lines {
		lines[i] = ring[(start+i)%limit]
	}
	return lines, offset, nil
}

func (t *Tailer) readFrom(offset int64) ([]string, int64, error) {
	file, err := t.open()
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}
	// A shrunken file was rotated or truncated; start over.
	if offset > end {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	read, err := scanLines(file, func(line string) { lines = append(lines, line) })
	if err != nil {
		return nil, 0, err
	}
	return lines, offset + read, nil
}

// scanLines feeds complete lines to fn and returns the bytes consumed. A
// trailing line without newline is left for the next call.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(trimNewline(line))
	}
}

func trimNewline(line string) string {
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

func (t *Tailer) wait(ctx context.Context, offset int64, wait time.Duration) (TailResult, error) {
	deadline := t.clock.Now().Add(wait)
	ticker := t.clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-ticker.C():
		}

		lines, next, err := t.readFrom(offset)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		if len(lines) > 0 || !t.clock.Now().Before(deadline) {
			return TailResult{Lines: lines, Offset: next}, nil
		}
		offset = next
	}
}
