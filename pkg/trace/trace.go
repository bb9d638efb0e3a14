// Package trace reads and writes execution-trace files: the per-line hit
// counts recorded while a variant's unit tests ran.
//
// The format is line oriented text:
//
//	covgate-trace 1
//	session <id> <startUnixMillis> <dumpUnixMillis>
//	<internal/class/Name> <line> <hits>
//
// Blank lines and lines starting with '#' are ignored. Records for the same
// class and line are summed.
//
// Trace files keep the conventional .exec name and location, but they are
// not JaCoCo's binary execution-data format. A JaCoCo .exec file is rejected
// with ErrBadHeader; the test command must write this format.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Header is the required first line.
const Header = "covgate-trace 1"

// ErrBadHeader is returned when the first line is not Header.
var ErrBadHeader = errors.New("not an execution trace")

// Session identifies one test-execution run that contributed hits.
type Session struct {
	ID    string
	Start time.Time
	Dump  time.Time
}

// Trace holds hit counts keyed by class internal name and line.
type Trace struct {
	Sessions []Session
	hits     map[string]map[int]int64
}

// New returns an empty trace.
func New() *Trace {
	return &Trace{hits: make(map[string]map[int]int64)}
}

// Add records n hits for class at line.
func (t *Trace) Add(class string, line int, n int64) {
	lines, ok := t.hits[class]
	if !ok {
		lines = make(map[int]int64)
		t.hits[class] = lines
	}
	lines[line] += n
}

// Hits returns the hit count for class at line.
func (t *Trace) Hits(class string, line int) int64 {
	return t.hits[class][line]
}

// Has reports whether any record exists for class.
func (t *Trace) Has(class string) bool {
	_, ok := t.hits[class]
	return ok
}

// Classes returns the recorded class names, sorted.
func (t *Trace) Classes() []string {
	out := make([]string, 0, len(t.hits))
	for c := range t.hits {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Merge adds every session and hit of o into t.
func (t *Trace) Merge(o *Trace) {
	t.Sessions = append(t.Sessions, o.Sessions...)
	for class, lines := range o.hits {
		for line, n := range lines {
			t.Add(class, line, n)
		}
	}
}

// ReadFile parses the trace at path. A missing file surfaces as an error
// satisfying errors.Is(err, fs.ErrNotExist).
func ReadFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Read parses a trace from r.
func Read(r io.Reader) (*Trace, error) {
	t := New()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	sawHeader := false
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if !sawHeader {
			if line != Header {
				return nil, ErrBadHeader
			}
			sawHeader = true
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] == "session" {
			s, err := parseSession(fields)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			t.Sessions = append(t.Sessions, s)
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected <class> <line> <hits>, got %q", lineNo, line)
		}
		ln, err := strconv.Atoi(fields[1])
		if err != nil || ln <= 0 {
			return nil, fmt.Errorf("line %d: invalid line number %q", lineNo, fields[1])
		}
		n, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("line %d: invalid hit count %q", lineNo, fields[2])
		}
		t.Add(fields[0], ln, n)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, ErrBadHeader
	}
	return t, nil
}

func parseSession(fields []string) (Session, error) {
	if len(fields) != 4 {
		return Session{}, fmt.Errorf("expected session <id> <start> <dump>")
	}
	start, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("session start: %w", err)
	}
	dump, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("session dump: %w", err)
	}
	return Session{ID: fields[1], Start: time.UnixMilli(start), Dump: time.UnixMilli(dump)}, nil
}

// Write emits t in the trace format with records sorted by class then line.
func Write(w io.Writer, t *Trace) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, Header)
	for _, s := range t.Sessions {
		fmt.Fprintf(bw, "session %s %d %d\n", s.ID, s.Start.UnixMilli(), s.Dump.UnixMilli())
	}
	for _, class := range t.Classes() {
		lines := make([]int, 0, len(t.hits[class]))
		for l := range t.hits[class] {
			lines = append(lines, l)
		}
		sort.Ints(lines)
		for _, l := range lines {
			fmt.Fprintf(bw, "%s %d %d\n", class, l, t.hits[class][l])
		}
	}
	return bw.Flush()
}

// WriteFile writes t to path through a temporary file in the same directory,
// so readers never observe a partial trace.
func WriteFile(path string, t *Trace) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".trace-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = Write(tmp, t); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
