package player

import (
	"slices"
	"sync"
)

// Data is a small key/value store attached to a player for the embedding
// application.
type Data struct {
	mu sync.RWMutex
	m  map[string]any
}

func newData() *Data {
	return &Data{m: make(map[string]any)}
}

func (d *Data) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.m[key]
	return v, ok
}

func (d *Data) Set(key string, v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = v
}

func (d *Data) Delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, key)
}

func (d *Data) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.m)
}

// Keys returns the stored keys in sorted order.
func (d *Data) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.m))
	for k := range d.m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
