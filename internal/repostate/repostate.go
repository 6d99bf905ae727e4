package repostate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/kingrea/jobhelper/internal/codec"
)

var (
	// ErrUncommitted is returned when a force-commit repository has changes.
	ErrUncommitted = errors.New("repostate: uncommitted changes")
	// ErrNotRepository is returned when a path is not inside a git worktree.
	ErrNotRepository = errors.New("repostate: not a git repository")
)

// State is a snapshot of one repository at submission time.
type State struct {
	Path   string `json:"path"`
	Commit string `json:"commit"`
	Branch string `json:"branch,omitempty"`
	// Status holds one "XY path" line per changed file, like git status -s.
	Status []string `json:"status,omitempty"`
	// Diff is the packed text diff of tracked changes against HEAD.
	Diff string `json:"diff,omitempty"`
}

// Dirty reports whether the worktree had any change.
func (s State) Dirty() bool {
	return len(s.Status) > 0
}

// DecodeDiff unpacks State.Diff.
func DecodeDiff(packed string) (string, error) {
	if packed == "" {
		return "", nil
	}
	raw, err := codec.Unpack(packed)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Watcher captures the state of configured repositories before a run.
type Watcher struct {
	watched     []string
	forceCommit []string
	logger      *zap.Logger
}

// NewWatcher builds a watcher. Force-commit repositories are captured too and
// must be clean.
func NewWatcher(watched, forceCommit []string, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{watched: watched, forceCommit: forceCommit, logger: logger}
}

// Capture inspects every repository. It fails with ErrUncommitted when a
// force-commit repository is dirty, naming the offending files.
func (w *Watcher) Capture() ([]State, error) {
	var states []State
	seen := map[string]bool{}
	for _, path := range w.forceCommit {
		state, err := Inspect(path)
		if err != nil {
			return nil, err
		}
		if state.Dirty() {
			for _, line := range state.Status {
				w.logger.Warn("uncommitted change", zap.String("repo", state.Path), zap.String("file", line))
			}
			return nil, fmt.Errorf("%w in %s", ErrUncommitted, state.Path)
		}
		seen[state.Path] = true
		states = append(states, state)
	}
	for _, path := range w.watched {
		state, err := Inspect(path)
		if err != nil {
			return nil, err
		}
		if seen[state.Path] {
			continue
		}
		seen[state.Path] = true
		if state.Dirty() {
			w.logger.Info("watched repository has changes", zap.String("repo", state.Path), zap.Int("files", len(state.Status)))
		}
		states = append(states, state)
	}
	return states, nil
}

// Inspect opens the repository containing path and records HEAD, the short
// status and a packed diff of tracked changes.
func Inspect(path string) (State, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return State{}, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return State{}, fmt.Errorf("repostate: open %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return State{}, fmt.Errorf("repostate: worktree %s: %w", path, err)
	}
	root := wt.Filesystem.Root()
	state := State{Path: root}
	head, err := repo.Head()
	if err != nil {
		return State{}, fmt.Errorf("repostate: head %s: %w", root, err)
	}
	state.Commit = head.Hash().String()
	if head.Name().IsBranch() {
		state.Branch = head.Name().Short()
	}
	status, err := wt.Status()
	if err != nil {
		return State{}, fmt.Errorf("repostate: status %s: %w", root, err)
	}
	if status.IsClean() {
		return state, nil
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return State{}, fmt.Errorf("repostate: commit %s: %w", root, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return State{}, fmt.Errorf("repostate: tree %s: %w", root, err)
	}
	files := make([]string, 0, len(status))
	for file := range status {
		files = append(files, file)
	}
	sort.Strings(files)
	var patch strings.Builder
	for _, file := range files {
		fs := status[file]
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		state.Status = append(state.Status, fmt.Sprintf("%c%c %s", fs.Staging, fs.Worktree, file))
		if fs.Worktree == git.Untracked {
			continue
		}
		before, err := headContents(tree, file)
		if err != nil {
			return State{}, fmt.Errorf("repostate: read %s at HEAD: %w", file, err)
		}
		after, err := worktreeContents(root, file)
		if err != nil {
			return State{}, fmt.Errorf("repostate: read %s: %w", file, err)
		}
		writePatch(&patch, file, before, after)
	}
	if patch.Len() > 0 {
		packed, err := codec.Pack([]byte(patch.String()))
		if err != nil {
			return State{}, err
		}
		state.Diff = packed
	}
	return state, nil
}

func headContents(tree *object.Tree, file string) (string, error) {
	f, err := tree.File(file)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", nil
		}
		return "", err
	}
	return f.Contents()
}

func worktreeContents(root, file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(file)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func writePatch(b *strings.Builder, file, before, after string) {
	fmt.Fprintf(b, "--- a/%s\n+++ b/%s\n", file, file)
	for _, chunk := range diff.Do(before, after) {
		prefix := " "
		switch chunk.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		text := strings.TrimSuffix(chunk.Text, "\n")
		if text == "" && chunk.Text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
}
