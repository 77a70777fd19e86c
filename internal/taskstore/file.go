package taskstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tailscale/hujson"
)

// TaskFileNames lists the task file names searched for, in order.
var TaskFileNames = []string{"prd.json", "tasks.json"}

// Discover returns the first task file that exists in dir.
func Discover(dir string) (string, error) {
	for _, name := range TaskFileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s (looked for %v)", ErrNoTaskFile, dir, TaskFileNames)
}

// FileStore implements the Store interface on a single JSON task file.
// The file is either a bare array of tasks or an object with a "tasks" array;
// the shape and unknown fields are kept when the file is rewritten.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileStore creates a FileStore for the task file at path.
// The file must exist.
func NewFileStore(path string) (*FileStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoTaskFile, path)
		}
		return nil, fmt.Errorf("failed to stat task file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("task file is a directory: %s", path)
	}
	return &FileStore{path: path}, nil
}

// Path returns the task file path.
func (s *FileStore) Path() string {
	return s.path
}

// document is the decoded task file. Records keep every field found on disk.
type document struct {
	wrapper map[string]any
	records []map[string]any
}

// List retrieves all tasks in file order.
func (s *FileStore) List() ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	tasks := make([]*Task, 0, len(doc.records))
	for _, rec := range doc.records {
		task, err := decodeTask(rec)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Get retrieves a task by its ID.
func (s *FileStore) Get(id string) (*Task, error) {
	tasks, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, &NotFoundError{ID: id}
}

// Update applies fn to the task with the given ID and rewrites the file.
func (s *FileStore) Update(id string, fn func(*Task)) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	for _, rec := range doc.records {
		if rec["task_id"] != id {
			continue
		}

		task, err := decodeTask(rec)
		if err != nil {
			return nil, err
		}
		fn(task)
		if err := mergeTask(rec, task); err != nil {
			return nil, err
		}
		if err := s.write(doc); err != nil {
			return nil, err
		}
		return task, nil
	}

	return nil, &NotFoundError{ID: id}
}

// read loads and decodes the task file. Comments and trailing commas are accepted.
// Caller must hold at least a read lock.
func (s *FileStore) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", s.path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(std))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", s.path, err)
	}

	doc := &document{}
	var items []any
	switch v := root.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["tasks"].([]any)
		if !ok {
			return nil, &ValidationError{Reason: "task file object must contain a \"tasks\" array"}
		}
		doc.wrapper = v
		items = list
	default:
		return nil, &ValidationError{Reason: "task file must be an array or an object with \"tasks\""}
	}

	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, &ValidationError{Reason: fmt.Sprintf("task at index %d is not an object", i)}
		}
		id, _ := rec["task_id"].(string)
		if id == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("task at index %d is missing task_id", i)}
		}
		doc.records = append(doc.records, rec)
	}

	return doc, nil
}

// write encodes the document and replaces the task file atomically.
// Caller must hold the write lock.
func (s *FileStore) write(doc *document) error {
	items := make([]any, len(doc.records))
	for i, rec := range doc.records {
		items[i] = rec
	}

	var root any = items
	if doc.wrapper != nil {
		doc.wrapper["tasks"] = items
		root = doc.wrapper
	}

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task file: %w", err)
	}
	data = append(data, '\n')

	// Atomic write: write to temp file in the same directory, then rename
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		_ = os.Chmod(tmpName, info.Mode().Perm())
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		// Clean up temp file on rename failure
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func decodeTask(rec map[string]any) (*Task, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task record: %w", err)
	}

	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		id, _ := rec["task_id"].(string)
		return nil, &ValidationError{ID: id, Reason: err.Error()}
	}
	return &task, nil
}

// mergeTask writes the fields the store owns back into the raw record.
// Unknown keys inside observability survive. An absent status stays absent
// while the task is still unstarted.
func mergeTask(rec map[string]any, task *Task) error {
	status := task.EffectiveStatus()
	if _, ok := rec["status"]; ok || status != StatusUnstarted {
		rec["status"] = string(status)
	}

	if task.Observability == nil {
		return nil
	}

	obs, _ := rec["observability"].(map[string]any)
	if obs == nil {
		obs = map[string]any{}
	}

	raw, err := json.Marshal(task.Observability)
	if err != nil {
		return fmt.Errorf("failed to encode observability: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("failed to decode observability: %w", err)
	}
	for k, v := range fields {
		obs[k] = v
	}
	rec["observability"] = obs
	return nil
}
