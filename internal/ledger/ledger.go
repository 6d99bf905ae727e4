package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FormatVersion is written into every ledger file.
const FormatVersion = 1

// Status is the recorded outcome of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends a job's life within a run.
func (s Status) Terminal() bool {
	return s == StatusSubmitted || s == StatusSkipped || s == StatusFailed
}

// Record is the ledger entry for a single job.
type Record struct {
	Job       string    `json:"-"`
	Status    Status    `json:"status"`
	Handle    string    `json:"handle,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	BlockedBy []string  `json:"blocked_by,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the handle/status pairing.
func (r Record) Validate() error {
	if r.Job == "" {
		return fmt.Errorf("ledger: job name is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("ledger: job %s: unknown status %q", r.Job, r.Status)
	}
	if r.Status == StatusSubmitted && r.Handle == "" {
		return fmt.Errorf("ledger: job %s: submitted record needs a handle", r.Job)
	}
	if r.Status != StatusSubmitted && r.Handle != "" {
		return fmt.Errorf("ledger: job %s: only submitted records carry a handle", r.Job)
	}
	return nil
}

// ErrCorrupt marks a ledger file that could not be decoded.
var ErrCorrupt = errors.New("ledger: corrupt ledger file")

// ErrTerminal rejects rewriting a record that already reached a terminal
// status in the same run.
var ErrTerminal = errors.New("ledger: record is already terminal in this run")

type document struct {
	Version int               `json:"version"`
	Jobs    map[string]Record `json:"jobs"`
}

// Ledger is the durable map of job name to submission record. Every mutation
// is written through to disk before it returns.
type Ledger struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
	clock   func() time.Time
	logger  *zap.Logger
}

// Option customizes a ledger.
type Option func(*Ledger)

// WithClock injects the timestamp source used for UpdatedAt.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the logger used for corruption warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New returns an empty ledger bound to path without touching the disk.
func New(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path:    path,
		records: map[string]Record{},
		clock:   time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the ledger at path. A missing file yields an empty ledger; a
// corrupt one is logged as a warning and also yields an empty ledger.
func Load(path string, opts ...Option) *Ledger {
	l := New(path, opts...)
	records, err := readFile(path)
	switch {
	case err == nil:
		l.records = records
	case errors.Is(err, fs.ErrNotExist):
		l.logger.Debug("ledger not found, starting empty", zap.String("path", path))
	default:
		l.logger.Warn("ledger unreadable, starting empty", zap.String("path", path), zap.Error(err))
	}
	return l
}

// Open is Load without the recovery: it surfaces ErrCorrupt and I/O errors.
func Open(path string, opts ...Option) (*Ledger, error) {
	l := New(path, opts...)
	records, err := readFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, err
	}
	l.records = records
	return l, nil
}

func readFile(path string) (map[string]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	records := make(map[string]Record, len(doc.Jobs))
	for name, rec := range doc.Jobs {
		rec.Job = name
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		records[name] = rec
	}
	return records, nil
}

// Path returns the file backing the ledger.
func (l *Ledger) Path() string {
	return l.path
}

// Get returns the record for job if one exists.
func (l *Ledger) Get(job string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[job]
	if ok {
		rec.BlockedBy = cloneStrings(rec.BlockedBy)
	}
	return rec, ok
}

// Record stores rec and persists the ledger. A record that is terminal for a
// run cannot be replaced by another record of the same run. On a write
// failure the in-memory state is rolled back so memory and disk stay in
// agreement.
func (l *Ledger) Record(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = l.clock().UTC()
	}
	rec.BlockedBy = cloneStrings(rec.BlockedBy)
	previous, had := l.records[rec.Job]
	if had && rec.RunID != "" && previous.RunID == rec.RunID && previous.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s in run %s", ErrTerminal, rec.Job, previous.Status, rec.RunID)
	}
	l.records[rec.Job] = rec
	if err := l.persistLocked(l.path); err != nil {
		if had {
			l.records[rec.Job] = previous
		} else {
			delete(l.records, rec.Job)
		}
		return err
	}
	return nil
}

// Reset removes the named jobs (or every job when none are given) and
// persists the result.
func (l *Ledger) Reset(jobs ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(jobs) == 0 {
		l.records = map[string]Record{}
	} else {
		for _, job := range jobs {
			delete(l.records, job)
		}
	}
	return l.persistLocked(l.path)
}

// Persist writes the ledger to path, or to the ledger's own path when path is
// empty.
func (l *Ledger) Persist(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if path == "" {
		path = l.path
	}
	return l.persistLocked(path)
}

// Snapshot returns a consistent copy of every record, sorted by job name.
func (l *Ledger) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		rec.BlockedBy = cloneStrings(rec.BlockedBy)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// persistLocked writes to a temp file in the target directory and renames it
// over the destination.
func (l *Ledger) persistLocked(path string) error {
	if path == "" {
		return fmt.Errorf("ledger: path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: ensure dir: %w", err)
	}
	doc := document{Version: FormatVersion, Jobs: l.records}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ledger: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("ledger: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ledger: write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ledger: replace %s: %w", path, err)
	}
	return nil
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
