package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Report is the persisted outcome of one batch.
type Report struct {
	ID           string    `json:"id"`
	Account      string    `json:"account"`
	Target       int       `json:"target"`
	Submitted    int       `json:"submitted"`
	StartHeight  uint64    `json:"startHeight"`
	SyncHeight   uint64    `json:"syncHeight"`
	BlockTxCount uint64    `json:"blockTxCount"`
	FirstNonce   uint64    `json:"firstNonce"`
	LastNonce    uint64    `json:"lastNonce"`
	StopReason   string    `json:"stopReason"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// Store abstracts report persistence.
type Store interface {
	Get(ctx context.Context, id string) (*Report, error)
	Save(ctx context.Context, report Report) error
	// List returns up to limit reports, most recently finished first.
	List(ctx context.Context, limit int) ([]Report, error)
}

var ErrMissingID = errors.New("report id is empty")

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Report),
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.data[id]
	if !ok {
		return nil, nil
	}
	return &rep, nil
}

func (m *MemoryStore) Save(_ context.Context, report Report) error {
	if report.ID == "" {
		return ErrMissingID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[report.ID] = report
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newest(m.data, limit), nil
}

// FileStore keeps reports in a single JSON file. Suitable for local runs.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Report
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Report),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, id string) (*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rep, ok := f.data[id]
	if !ok {
		return nil, nil
	}
	return &rep, nil
}

func (f *FileStore) Save(_ context.Context, report Report) error {
	if report.ID == "" {
		return ErrMissingID
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[report.ID] = report
	return f.persist()
}

func (f *FileStore) List(_ context.Context, limit int) ([]Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return newest(f.data, limit), nil
}

func newest(data map[string]Report, limit int) []Report {
	out := make([]Report, 0, len(data))
	for _, rep := range data {
		out = append(out, rep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FinishedAt.Equal(out[j].FinishedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
