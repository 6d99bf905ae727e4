package logbook

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newBook(t *testing.T) *Logbook {
	t.Helper()
	book, err := New(filepath.Join(t.TempDir(), "log", "cmd.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 125_000_000, time.UTC) }
	return book
}

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	book := newBook(t)
	for i := 0; i < 5; i++ {
		if err := book.Message(LevelInfo, "entry-"+string(rune('0'+i))); err != nil {
			t.Fatalf("message: %v", err)
		}
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestLineFormat(t *testing.T) {
	book := newBook(t)
	if err := book.Command([]string{"jh", "run", "my project.yaml", "--submit"}); err != nil {
		t.Fatal(err)
	}
	if err := book.Message(LevelWarn, "disk almost full"); err != nil {
		t.Fatal(err)
	}
	if err := book.Shell("ls -la"); err != nil {
		t.Fatal(err)
	}
	if err := book.Submit("train", "4242", "log/jobs/4242_slurm.sh"); err != nil {
		t.Fatal(err)
	}
	lines, _ := book.Tail(10)
	want := []string{
		"2024-03-01 09:30:00,125 I-CMD   >> jh run 'my project.yaml' --submit",
		"2024-03-01 09:30:00,125 W-MSG   >> disk almost full",
		"2024-03-01 09:30:00,125 I-SH    >> ls -la",
		"2024-03-01 09:30:00,125 I-SUBMIT>> train -> 4242 (log/jobs/4242_slurm.sh)",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestTailMissingFile(t *testing.T) {
	book := newBook(t)
	lines, total := book.Tail(5)
	if lines != nil || total != 0 {
		t.Fatalf("expected empty tail, got %v %d", lines, total)
	}
}

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]Level{"": LevelInfo, "info": LevelInfo, "WARNING": LevelWarn, "error": LevelError} {
		got, err := ParseLevel(input)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseLevel("debug"); err == nil {
		t.Fatalf("expected error for debug")
	}
}

func TestJoinArgsQuotes(t *testing.T) {
	got := JoinArgs([]string{"echo", "it's", "", "a=b"})
	if got != `echo 'it'"'"'s' '' a=b` {
		t.Fatalf("JoinArgs = %s", got)
	}
}
