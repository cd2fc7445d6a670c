package plotlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// LogPattern matches worker log files inside a log directory.
const LogPattern = "*.log"

// Tracker incrementally parses many logs, remembering how far each one has
// been read. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*trackEntry
}

type trackEntry struct {
	parser  *Parser
	offset  int64
	partial []byte
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*trackEntry)}
}

// Update reads any bytes appended to path since the last call and returns
// the resulting progress.
//
// A log that shrank (truncated or replaced) is re-read from the start, but
// the previously observed phase and substep are kept as a floor.
func (t *Tracker) Update(path string) (Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[path]
	if !ok {
		e = &trackEntry{parser: NewParser()}
		t.entries[path] = e
	}

	f, err := os.Open(path)
	if err != nil {
		return e.snapshot(), fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return e.snapshot(), fmt.Errorf("stat log: %w", err)
	}
	if st.Size() < e.offset {
		e.offset = 0
		e.partial = nil
	}
	if st.Size() == e.offset {
		return e.snapshot(), nil
	}

	if _, err := f.Seek(e.offset, io.SeekStart); err != nil {
		return e.snapshot(), fmt.Errorf("seek log: %w", err)
	}
	n, err := e.consume(f)
	e.offset += n
	if err != nil {
		return e.snapshot(), fmt.Errorf("read log: %w", err)
	}
	return e.snapshot(), nil
}

// Scan parses every log in dir and returns progress keyed by log path.
// Unreadable logs are skipped. State for logs that left dir is dropped.
func (t *Tracker) Scan(dir string) (map[string]Progress, error) {
	names, err := doublestar.Glob(os.DirFS(dir), LogPattern)
	if err != nil {
		return nil, fmt.Errorf("glob logs in %s: %w", dir, err)
	}
	sort.Strings(names)

	present := make(map[string]bool, len(names))
	out := make(map[string]Progress, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		present[path] = true
		p, err := t.Update(path)
		if err != nil {
			continue
		}
		out[path] = p
	}

	dir = filepath.Clean(dir)
	t.mu.Lock()
	defer t.mu.Unlock()
	for path := range t.entries {
		if filepath.Dir(path) == dir && !present[path] {
			delete(t.entries, path)
		}
	}
	return out, nil
}

// Retain drops state for every log not in keep.
func (t *Tracker) Retain(keep map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path := range t.entries {
		if !keep[path] {
			delete(t.entries, path)
		}
	}
}

// Len returns the number of logs being tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// consume feeds complete lines from r to the parser and keeps a trailing
// partial line for the next call. It returns the bytes read.
func (e *trackEntry) consume(r io.Reader) (int64, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var read int64
	for {
		chunk, err := br.ReadBytes('\n')
		read += int64(len(chunk))
		if len(chunk) > 0 {
			if chunk[len(chunk)-1] == '\n' {
				line := chunk[:len(chunk)-1]
				if len(e.partial) > 0 {
					line = append(e.partial, line...)
					e.partial = nil
				}
				e.parser.Feed(string(line))
			} else {
				e.partial = append(e.partial, chunk...)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return read, nil
			}
			return read, err
		}
	}
}

func (e *trackEntry) snapshot() Progress {
	p := e.parser.Progress()
	p.Offset = e.offset
	return p
}
