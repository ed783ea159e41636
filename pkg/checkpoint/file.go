package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultDir is the default recovery directory.
const DefaultDir = "recovery"

const fileExt = ".json"

var errEmptyTask = errors.New("task name is required")

// FileStore keeps one JSON file per task in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// FileName maps a task name to its file name. Bytes outside [A-Za-z0-9._-],
// and a leading dot, are written as %XX, so distinct tasks never share a file
// and TaskName reverses the mapping.
func FileName(task string) string {
	var b strings.Builder
	for i := 0; i < len(task); i++ {
		c := task[i]
		if safeNameByte(c) && (i > 0 || c != '.') {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String() + fileExt
}

// TaskName reverses FileName.
func TaskName(fileName string) (string, error) {
	name, ok := strings.CutSuffix(fileName, fileExt)
	if !ok || name == "" {
		return "", fmt.Errorf("not a checkpoint file: %s", fileName)
	}
	return url.PathUnescape(name)
}

func safeNameByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '.' || c == '_' || c == '-'
}

// Dir returns the checkpoint directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the checkpoint file of task.
func (s *FileStore) Path(task string) string {
	return filepath.Join(s.dir, FileName(task))
}

// Save writes payload to a temp file and renames it over the checkpoint, so a
// reader never sees a partial file.
func (s *FileStore) Save(ctx context.Context, task string, payload []byte) error {
	if task == "" {
		return errEmptyTask
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(task)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint of task.
func (s *FileStore) Load(ctx context.Context, task string) ([]byte, error) {
	if task == "" {
		return nil, errEmptyTask
	}
	data, err := os.ReadFile(s.Path(task))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return data, nil
}

// Delete removes the checkpoint of task.
func (s *FileStore) Delete(ctx context.Context, task string) error {
	if task == "" {
		return errEmptyTask
	}
	err := os.Remove(s.Path(task))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// List returns the name of every task with a checkpoint, sorted.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var tasks []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		task, err := TaskName(name)
		if err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	return tasks, nil
}

// Backend implements Store.
func (s *FileStore) Backend() string {
	return "file"
}
