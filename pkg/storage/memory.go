package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryStore 是进程内的 ObjectStore，按写入顺序列出对象。
type MemoryStore struct {
	mu      sync.RWMutex
	order   []string
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

var _ ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore 创建一个空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) List(_ context.Context) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ObjectInfo, 0, len(m.order))
	for _, name := range m.order {
		o := m.objects[name]
		out = append(out, ObjectInfo{Name: name, Size: int64(len(o.data)), ContentType: o.contentType, LastModified: o.modified})
	}
	return out, nil
}

func (m *MemoryStore) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	}
	return bytes.Clone(o.data), nil
}

func (m *MemoryStore) Put(_ context.Context, name string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; !ok {
		m.order = append(m.order, name)
	}
	m.objects[name] = memoryObject{data: data, contentType: contentType, modified: time.Now()}
	return nil
}

func (m *MemoryStore) Stat(_ context.Context, name string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[name]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	}
	return ObjectInfo{Name: name, Size: int64(len(o.data)), ContentType: o.contentType, LastModified: o.modified}, nil
}

func (m *MemoryStore) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	}
	delete(m.objects, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) PresignedURL(_ context.Context, name string, _ time.Duration) (string, error) {
	if _, err := m.Stat(context.Background(), name); err != nil {
		return "", err
	}
	return "memory://" + name, nil
}
