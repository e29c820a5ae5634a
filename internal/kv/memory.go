package kv

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store. It is the fake used by engine tests and
// the backing store for ephemeral setups.
//
// Values are normalized and deep-copied on the way in and out, so callers
// never share memory with the store.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]Value
	notifier *Notifier

	flushes   int
	writes    []string
	failWrite map[string]error
	failRead  error
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:      make(map[string]Value),
		notifier:  NewNotifier(),
		failWrite: make(map[string]error),
	}
}

// NewMemoryFrom creates an in-memory store holding a copy of data. No
// change notifications are published for the initial contents.
func NewMemoryFrom(data map[string]Value) (*Memory, error) {
	m := NewMemory()
	for k, v := range data {
		n, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		if n != nil {
			m.data[k] = n
		}
	}
	return m, nil
}

// Get implements Store.Get.
func (m *Memory) Get(ctx context.Context, key string) (Value, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failRead != nil {
		return nil, false, m.failRead
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out, _ := Normalize(v)
	return out, true, nil
}

// Set implements Store.Set.
func (m *Memory) Set(ctx context.Context, key string, value Value) error {
	if value == nil {
		return m.Delete(ctx, key)
	}
	n, err := Normalize(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if err := m.failWrite[key]; err != nil {
		m.mu.Unlock()
		return err
	}
	m.data[key] = n
	m.writes = append(m.writes, key)
	m.mu.Unlock()

	m.notifier.Publish([]string{key})
	return nil
}

// Delete implements Store.Delete.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	if err := m.failWrite[key]; err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.data, key)
	m.writes = append(m.writes, key)
	m.mu.Unlock()

	m.notifier.Publish([]string{key})
	return nil
}

// Snapshot implements Store.Snapshot.
func (m *Memory) Snapshot(ctx context.Context) (map[string]Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failRead != nil {
		return nil, m.failRead
	}
	out := make(map[string]Value, len(m.data))
	for k, v := range m.data {
		out[k], _ = Normalize(v)
	}
	return out, nil
}

// Flush implements Store.Flush. It only counts calls.
func (m *Memory) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

// Notifier implements Store.Notifier.
func (m *Memory) Notifier() *Notifier {
	return m.notifier
}

// Inject simulates an external writer: it applies every change in one step
// and publishes a single notification for all affected keys. A nil value
// deletes the key.
func (m *Memory) Inject(changes map[string]Value) error {
	normalized := make(map[string]Value, len(changes))
	for k, v := range changes {
		n, err := Normalize(v)
		if err != nil {
			return err
		}
		normalized[k] = n
	}

	keys := make([]string, 0, len(normalized))
	m.mu.Lock()
	for k, v := range normalized {
		if v == nil {
			delete(m.data, k)
		} else {
			m.data[k] = v
		}
		keys = append(keys, k)
	}
	m.mu.Unlock()

	sort.Strings(keys)
	m.notifier.Publish(keys)
	return nil
}

// FailWrites makes every Set and Delete of key return err. A nil err
// clears the fault.
func (m *Memory) FailWrites(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failWrite, key)
		return
	}
	m.failWrite[key] = err
}

// FailReads makes Get and Snapshot return err. A nil err clears the fault.
func (m *Memory) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRead = err
}

// Flushes returns how many times Flush has been called.
func (m *Memory) Flushes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushes
}

// Writes returns the keys passed to Set and Delete, in call order.
func (m *Memory) Writes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.writes...)
}
