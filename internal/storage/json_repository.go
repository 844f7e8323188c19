package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type dataset struct {
	Stacks map[string]Stack `json:"stacks"`
}

func newDataset() dataset {
	return dataset{Stacks: make(map[string]Stack)}
}

// FileRepository keeps every stack in one JSON document, rewritten atomically
// through a temp file on each save. An empty path keeps the data in memory
// only.
type FileRepository struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	now      func() time.Time
}

var _ Repository = (*FileRepository)(nil)

// NewJSONRepository opens the JSON-backed stack store at path.
func NewJSONRepository(path string, opts ...Option) (*FileRepository, error) {
	repo := &FileRepository{
		filePath: path,
		data:     newDataset(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyFile(repo)
		}
	}
	if path != "" {
		if err := repo.load(); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// NewMemoryRepository returns a repository that never touches disk.
func NewMemoryRepository(opts ...Option) *FileRepository {
	repo, _ := NewJSONRepository("", opts...)
	return repo
}

func (r *FileRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *FileRepository) LoadStack(ctx context.Context, name string) (Stack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stack, ok := r.data.Stacks[name]
	if !ok {
		return Stack{}, fmt.Errorf("%s: %w", name, ErrStackNotFound)
	}
	return stack.Clone(), nil
}

func (r *FileRepository) SaveStack(ctx context.Context, stack Stack) error {
	if stack.Name == "" {
		return errors.New("stack name is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	saved := stack.Clone()
	saved.UpdatedAt = r.now()
	next := r.cloneDatasetLocked()
	next.Stacks[saved.Name] = saved
	if err := r.persistDataset(next); err != nil {
		return err
	}
	r.data = next
	return nil
}

func (r *FileRepository) DeleteStack(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.Stacks[name]; !ok {
		return nil
	}
	next := r.cloneDatasetLocked()
	delete(next.Stacks, name)
	if err := r.persistDataset(next); err != nil {
		return err
	}
	r.data = next
	return nil
}

func (r *FileRepository) ListStacks(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.data.Stacks))
	for name := range r.data.Stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *FileRepository) Close(ctx context.Context) error {
	return nil
}

func (r *FileRepository) cloneDatasetLocked() dataset {
	next := newDataset()
	for name, stack := range r.data.Stacks {
		next.Stacks[name] = stack
	}
	return next
}

func (r *FileRepository) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(r.filePath)
	if errors.Is(err, os.ErrNotExist) {
		r.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&r.data); err != nil {
		if errors.Is(err, io.EOF) {
			r.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if r.data.Stacks == nil {
		r.data.Stacks = make(map[string]Stack)
	}
	return nil
}

func (r *FileRepository) persistDataset(data dataset) error {
	if r.filePath == "" {
		return nil
	}
	dir := filepath.Dir(r.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "stacks-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, r.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}
