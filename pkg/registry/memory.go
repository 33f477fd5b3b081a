package registry

import (
	"context"
	"sort"
	"sync"

	"medremind/pkg/reminders"
)

// Memory is a Store that lives only as long as the process.
type Memory struct {
	mu    sync.Mutex
	items map[int64]memoryItem
}

type memoryItem struct {
	reminder   reminders.Reminder
	needsRearm bool
}

func NewMemory() *Memory {
	return &Memory{items: map[int64]memoryItem{}}
}

func (m *Memory) Put(_ context.Context, r reminders.Reminder) error {
	m.mu.Lock()
	m.items[r.ID] = memoryItem{reminder: r}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, id int64) (*reminders.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	r := it.reminder
	return &r, nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context) ([]reminders.Reminder, error) {
	return m.collect(func(memoryItem) bool { return true }), nil
}

func (m *Memory) MarkAllForRearm(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, it := range m.items {
		it.needsRearm = true
		m.items[id] = it
	}
	return len(m.items), nil
}

func (m *Memory) ListNeedingRearm(_ context.Context) ([]reminders.Reminder, error) {
	return m.collect(func(it memoryItem) bool { return it.needsRearm }), nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) collect(keep func(memoryItem) bool) []reminders.Reminder {
	m.mu.Lock()
	list := make([]reminders.Reminder, 0, len(m.items))
	for _, it := range m.items {
		if keep(it) {
			list = append(list, it.reminder)
		}
	}
	m.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].FireTime.Equal(list[j].FireTime) {
			return list[i].FireTime.Before(list[j].FireTime)
		}
		return list[i].ID < list[j].ID
	})
	return list
}
