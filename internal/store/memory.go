package store

import (
	"context"
	"sort"
	"sync"

	"github.com/chessdao/backend/internal/ledgererr"
)

type memEntry struct {
	value   []byte
	version int64
}

// MemoryStore keeps records in process memory. Used by tests and single-node dev runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[Namespace]map[string]memEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Namespace]map[string]memEntry)}
}

func (m *MemoryStore) Get(ctx context.Context, ns Namespace, key string) (Record, error) {
	if err := checkNamespace(ns); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, ledgererr.Wrap(ledgererr.Unavailable, err, "get %s/%s", ns, key)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[ns][key]
	if !ok {
		return Record{}, ledgererr.New(ledgererr.NotFound, "%s/%s not found", ns, key)
	}
	return Record{Key: key, Value: append([]byte(nil), e.value...), Version: e.version}, nil
}

func (m *MemoryStore) CompareAndSet(ctx context.Context, ns Namespace, key string, expected int64, value []byte) (bool, error) {
	if err := checkNamespace(ns); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, ledgererr.Wrap(ledgererr.Unavailable, err, "compare-and-set %s/%s", ns, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.data[ns]
	if !ok {
		bucket = make(map[string]memEntry)
		m.data[ns] = bucket
	}

	cur, exists := bucket[key]
	if !exists && expected != 0 {
		return false, nil
	}
	if exists && cur.version != expected {
		return false, nil
	}

	bucket[key] = memEntry{value: append([]byte(nil), value...), version: expected + 1}
	return true, nil
}

func (m *MemoryStore) List(ctx context.Context, ns Namespace) ([]Record, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, ledgererr.Wrap(ledgererr.Unavailable, err, "list %s", ns)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.data[ns]))
	for k, e := range m.data[ns] {
		out = append(out, Record{Key: k, Value: append([]byte(nil), e.value...), Version: e.version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
