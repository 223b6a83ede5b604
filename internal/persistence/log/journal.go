package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"circuitsandbox.dev/internal/sim/sandbox"
)

const (
	segmentExt    = ".jsonl.zst"
	segmentLayout = "2006-01-02-15"
	maxRecord     = 8 << 20
)

// Journal is a directory of zstd-compressed JSONL segments, one per UTC hour,
// named <prefix>-YYYY-MM-DD-HH.jsonl.zst. Reopening a journal appends a new
// frame to the current hour's segment.
type Journal struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	open *segment
}

type segment struct {
	hour string
	file *os.File
	enc  *zstd.Encoder
	line []byte
}

func OpenJournal(dir, prefix string) *Journal {
	return &Journal{dir: dir, prefix: prefix, now: time.Now}
}

// TickJournal is <dataDir>/events, one TickLogEntry per line.
func TickJournal(dataDir string) *Journal {
	return OpenJournal(filepath.Join(dataDir, "events"), "events")
}

// AuditJournal is <dataDir>/audit, one AuditEntry per line.
func AuditJournal(dataDir string) *Journal {
	return OpenJournal(filepath.Join(dataDir, "audit"), "audit")
}

func (j *Journal) segmentPath(hour string) string {
	return filepath.Join(j.dir, j.prefix+"-"+hour+segmentExt)
}

// Append writes v as one line to the segment for the current hour.
func (j *Journal) Append(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	seg, err := j.segmentFor(j.now().UTC().Format(segmentLayout))
	if err != nil {
		return err
	}
	seg.line = seg.line[:0]
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	seg.line = append(append(seg.line, b...), '\n')
	_, err = seg.enc.Write(seg.line)
	return err
}

func (j *Journal) segmentFor(hour string) (*segment, error) {
	if j.open != nil && j.open.hour == hour {
		return j.open, nil
	}
	if err := j.sealLocked(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(j.segmentPath(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	j.open = &segment{hour: hour, file: f, enc: enc}
	return j.open, nil
}

// sealLocked finishes the open segment's frame and closes the file.
func (j *Journal) sealLocked() error {
	seg := j.open
	if seg == nil {
		return nil
	}
	j.open = nil
	err := seg.enc.Close()
	if cerr := seg.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sealLocked()
}

// Segments returns the journal's segment files oldest first. Hourly names
// sort chronologically.
func (j *Journal) Segments() ([]string, error) {
	ents, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, j.prefix+"-") || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(j.dir, name)
	}
	return paths, nil
}

// Scan decodes every record of every segment in order. An error from fn
// stops the scan and is returned as is.
func Scan[T any](j *Journal, fn func(T) error) error {
	paths, err := j.Segments()
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := readSegment(path, fn); err != nil {
			return err
		}
	}
	return nil
}

// ReadTicks decodes one events segment.
func ReadTicks(path string, fn func(sandbox.TickLogEntry) error) error {
	return readSegment(path, fn)
}

// ReadAudits decodes one audit segment.
func ReadAudits(path string, fn func(sandbox.AuditEntry) error) error {
	return readSegment(path, fn)
}

func readSegment[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(nil, maxRecord)
	for line := 1; sc.Scan(); line++ {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return sc.Err()
}

// TickLogger is the sandbox's tick sink.
type TickLogger struct{ *Journal }

func NewTickLogger(dataDir string) *TickLogger {
	return &TickLogger{TickJournal(dataDir)}
}

func (l *TickLogger) WriteTick(e sandbox.TickLogEntry) error { return l.Append(e) }

// AuditLogger is the sandbox's audit sink.
type AuditLogger struct{ *Journal }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{AuditJournal(dataDir)}
}

func (l *AuditLogger) WriteAudit(e sandbox.AuditEntry) error { return l.Append(e) }
