package authority

import (
	"context"
	"strconv"
	"sync"
)

// Memory is an in-process Source. It is useful for single-process
// deployments and tests; several caches sharing one Memory behave like
// processes sharing a Redis instance.
type Memory struct {
	mu         sync.Mutex
	namespaces map[string]map[string]string
	records    map[string]struct{}
	// allRecords makes Exists report true for every key.
	allRecords bool
	err        error
}

// NewMemory creates an empty Memory source. When allRecords is true every
// backing record is reported as present, so only version changes trigger
// notifications.
func NewMemory(allRecords bool) *Memory {
	return &Memory{
		namespaces: make(map[string]map[string]string),
		records:    make(map[string]struct{}),
		allRecords: allRecords,
	}
}

// GetAll implements Source.
func (m *Memory) GetAll(_ context.Context, namespace string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	ns := m.namespaces[namespace]
	out := make(map[string]string, len(ns))
	for k, v := range ns {
		out[k] = v
	}
	return out, nil
}

// Increment implements Source. A non-numeric stored version restarts at 1.
func (m *Memory) Increment(_ context.Context, namespace, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	ns := m.ns(namespace)
	n, _ := strconv.ParseInt(ns[key], 10, 64)
	n++
	ns[key] = strconv.FormatInt(n, 10)
	return n, nil
}

// SetIfAbsent implements Source.
func (m *Memory) SetIfAbsent(_ context.Context, namespace, key, version string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	ns := m.ns(namespace)
	if v, ok := ns[key]; ok {
		return v, nil
	}
	ns[key] = version
	return version, nil
}

// Exists implements Source.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.allRecords {
		return true, nil
	}
	_, ok := m.records[key]
	return ok, nil
}

// Set overwrites the version of key, as a concurrent writer in another
// process would.
func (m *Memory) Set(namespace, key, version string) {
	m.mu.Lock()
	m.ns(namespace)[key] = version
	m.mu.Unlock()
}

// Delete removes key from the version hash of namespace.
func (m *Memory) Delete(namespace, key string) {
	m.mu.Lock()
	delete(m.ns(namespace), key)
	m.mu.Unlock()
}

// PutRecord marks the backing record key as present.
func (m *Memory) PutRecord(key string) {
	m.mu.Lock()
	m.records[key] = struct{}{}
	m.mu.Unlock()
}

// DeleteRecord marks the backing record key as gone.
func (m *Memory) DeleteRecord(key string) {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
}

// SetError makes every subsequent call fail with err. Pass nil to recover.
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *Memory) ns(namespace string) map[string]string {
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]string)
		m.namespaces[namespace] = ns
	}
	return ns
}
