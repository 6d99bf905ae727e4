package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/jobhelper/internal/repostate"
)

// ErrRunNotFound is returned when no persisted run result exists.
var ErrRunNotFound = errors.New("engine: run not found")

// RunRecord is the persisted result of a real (non dry) run.
type RunRecord struct {
	Report
	Project     string            `json:"project"`
	ProjectPath string            `json:"project_path,omitempty"`
	Jobs        map[string]Handle `json:"jobs"`
	RepoStates  []repostate.State `json:"repo_states,omitempty"`
}

// NewRunRecord snapshots a report for persistence.
func NewRunRecord(report Report, projectName, projectPath string, repos []repostate.State) RunRecord {
	return RunRecord{
		Report:      report,
		Project:     projectName,
		ProjectPath: projectPath,
		Jobs:        report.Handles(),
		RepoStates:  repos,
	}
}

// RunStore keeps one JSON file per run inside a directory.
type RunStore struct {
	dir string
}

// NewRunStore creates a store rooted at dir.
func NewRunStore(dir string) *RunStore {
	return &RunStore{dir: dir}
}

// Dir returns the directory backing the store.
func (s *RunStore) Dir() string {
	return s.dir
}

// Save writes the run record as indented JSON.
func (s *RunStore) Save(rec RunRecord) (string, error) {
	if strings.TrimSpace(rec.RunID) == "" {
		return "", fmt.Errorf("engine: run id is required")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	encoded, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, rec.RunID+".json")
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads a run by ID.
func (s *RunStore) Load(runID string) (RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, runID+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return RunRecord{}, ErrRunNotFound
		}
		return RunRecord{}, err
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return RunRecord{}, err
	}
	return rec, nil
}

// List returns run IDs oldest first. Run IDs start with a UTC timestamp so
// lexical order is chronological.
func (s *RunStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Latest loads the most recent run.
func (s *RunStore) Latest() (RunRecord, error) {
	ids, err := s.List()
	if err != nil {
		return RunRecord{}, err
	}
	if len(ids) == 0 {
		return RunRecord{}, ErrRunNotFound
	}
	return s.Load(ids[len(ids)-1])
}
