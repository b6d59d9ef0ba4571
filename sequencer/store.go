package sequencer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Store keeps sequences as <dir>/<name>.json and projects as
// <dir>/projects/<name>.json (a JSON object of name -> sequence).
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) ProjectsDir() string {
	return filepath.Join(s.dir, "projects")
}

func (s *Store) sequencePath(name string) string {
	return filepath.Join(s.dir, fileName(name))
}

func (s *Store) projectPath(name string) string {
	return filepath.Join(s.ProjectsDir(), fileName(name))
}

// fileName sanitizes name and appends .json unless already present.
func fileName(name string) string {
	name = strings.TrimSuffix(name, ".json")
	return sanitizeFilename(name) + ".json"
}

// sanitizeFilename removes/replaces characters that are problematic in filenames
func sanitizeFilename(name string) string {
	r := strings.NewReplacer(
		" ", "-",
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "",
	)
	name = r.Replace(name)
	if name == "" || name == "." || name == ".." {
		name = "untitled"
	}
	return name
}

// writeJSON writes v atomically via a temp file and rename.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// list returns the base names of the .json files in dir, sorted. A missing
// directory is an empty list.
func list(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	names := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) SaveSequence(seq *Sequence) error {
	return errors.Wrapf(writeJSON(s.sequencePath(seq.Name), seq), "save sequence %s", seq.Name)
}

func (s *Store) LoadSequence(name string) (*Sequence, error) {
	var seq Sequence
	if err := readJSON(s.sequencePath(name), &seq); err != nil {
		return nil, errors.Wrapf(err, "load sequence %s", name)
	}
	if seq.Name == "" {
		seq.Name = strings.TrimSuffix(name, ".json")
	}
	if err := seq.Validate(); err != nil {
		return nil, errors.Wrapf(err, "load sequence %s", name)
	}
	return &seq, nil
}

func (s *Store) ListSequences() ([]string, error) {
	names, err := list(s.dir)
	return names, errors.Wrap(err, "list sequences")
}

func (s *Store) RemoveSequence(name string) error {
	return errors.Wrapf(os.Remove(s.sequencePath(name)), "remove sequence %s", name)
}

func (s *Store) SaveProject(name string, seqs map[string]*Sequence) error {
	return errors.Wrapf(writeJSON(s.projectPath(name), seqs), "save project %s", name)
}

func (s *Store) LoadProject(name string) (map[string]*Sequence, error) {
	seqs := make(map[string]*Sequence)
	if err := readJSON(s.projectPath(name), &seqs); err != nil {
		return nil, errors.Wrapf(err, "load project %s", name)
	}
	for seqName, seq := range seqs {
		if seq == nil {
			return nil, errors.Errorf("load project %s: sequence %s is null", name, seqName)
		}
		if err := seq.Validate(); err != nil {
			return nil, errors.Wrapf(err, "load project %s: sequence %s", name, seqName)
		}
	}
	return seqs, nil
}

func (s *Store) ListProjects() ([]string, error) {
	names, err := list(s.ProjectsDir())
	return names, errors.Wrap(err, "list projects")
}

func (s *Store) RemoveProject(name string) error {
	return errors.Wrapf(os.Remove(s.projectPath(name)), "remove project %s", name)
}

// Disk I/O below runs on the caller's goroutine; the loop only copies or
// inserts sequences.

var errNoStore = errors.New("no store configured")

func (m *Manager) SaveSequence(ctx context.Context, name string) error {
	if m.store == nil {
		return errNoStore
	}
	seq, err := m.GetSequence(ctx, name)
	if err != nil {
		return err
	}
	return m.store.SaveSequence(seq)
}

// LoadSequence reads a saved sequence and adds it, replacing any sequence
// of the same name.
func (m *Manager) LoadSequence(ctx context.Context, name string) error {
	if m.store == nil {
		return errNoStore
	}
	seq, err := m.store.LoadSequence(name)
	if err != nil {
		return err
	}
	return m.insert(ctx, map[string]*Sequence{seq.Name: seq})
}

func (m *Manager) ListSavedSequences() ([]string, error) {
	if m.store == nil {
		return nil, errNoStore
	}
	return m.store.ListSequences()
}

func (m *Manager) RmSavedSequence(name string) error {
	if m.store == nil {
		return errNoStore
	}
	return m.store.RemoveSequence(name)
}

func (m *Manager) SaveProject(ctx context.Context, project string) error {
	if m.store == nil {
		return errNoStore
	}
	seqs, err := m.snapshot(ctx)
	if err != nil {
		return err
	}
	return m.store.SaveProject(project, seqs)
}

// LoadProject merges a saved project into the current sequences.
func (m *Manager) LoadProject(ctx context.Context, project string) error {
	if m.store == nil {
		return errNoStore
	}
	seqs, err := m.store.LoadProject(project)
	if err != nil {
		return err
	}
	return m.insert(ctx, seqs)
}

func (m *Manager) ListSavedProjects() ([]string, error) {
	if m.store == nil {
		return nil, errNoStore
	}
	return m.store.ListProjects()
}

func (m *Manager) RmSavedProject(name string) error {
	if m.store == nil {
		return errNoStore
	}
	return m.store.RemoveProject(name)
}
