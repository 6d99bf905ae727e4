package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARNING"
	LevelError Level = "ERROR"
)

// ParseLevel maps the user-facing names info, warning and error.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return LevelInfo, nil
	case "warning", "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("logbook: unknown level %q (want info, warning or error)", name)
	}
}

// Entry kinds. Each line is labelled with the level initial and the kind,
// e.g. "I-CMD".
const (
	KindCommand = "CMD"
	KindShell   = "SH"
	KindMessage = "MSG"
	KindGit     = "GIT"
	KindSubmit  = "SUBMIT"
)

const timeLayout = "2006-01-02 15:04:05,000"

// Logbook is the human-readable cmd.log: one line per invocation, shell
// command, note or submission, appended and never rewritten.
type Logbook struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Logbook{path: path, now: time.Now}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, kind, message string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	label := string(level)
	if kind != "" {
		label = string(level)[:1] + "-" + kind
	}
	line := fmt.Sprintf("%s %-8s>> %s\n",
		l.now().Format(timeLayout),
		label,
		strings.TrimSpace(message),
	)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logbook: open %s: %w", l.path, err)
	}
	defer file.Close()
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("logbook: write %s: %w", l.path, err)
	}
	return nil
}

// Command records a jh invocation.
func (l *Logbook) Command(args []string) error {
	return l.Append(LevelInfo, KindCommand, JoinArgs(args))
}

// Shell records a shell command that completed successfully.
func (l *Logbook) Shell(command string) error {
	return l.Append(LevelInfo, KindShell, command)
}

// Message records a free-form note.
func (l *Logbook) Message(level Level, message string) error {
	return l.Append(level, KindMessage, message)
}

// Git records the commit a force-commit repository was at.
func (l *Logbook) Git(repo, commit string) error {
	return l.Append(LevelInfo, KindGit, fmt.Sprintf("%s commit: %s", repo, commit))
}

// Submit records a job handed to the scheduler.
func (l *Logbook) Submit(job, handle, script string) error {
	return l.Append(LevelInfo, KindSubmit, fmt.Sprintf("%s -> %s (%s)", job, handle, script))
}

// Tail returns up to maxLines of the most recent entries and the total number
// of lines in the file.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

var safeWord = regexp.MustCompile(`^[\w@%+=:,./-]+$`)

// JoinArgs renders argv so it can be pasted back into a POSIX shell.
func JoinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quote(arg)
	}
	return strings.Join(quoted, " ")
}

func quote(arg string) string {
	if arg == "" {
		return "''"
	}
	if safeWord.MatchString(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}
