package mixer

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a mixer from its construction record.
type Factory func(Config) (Mixer, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a mixer constructor available by name. Mixer packages call
// it from init, so importing a package is enough to plug its mixer in.
// Duplicate names are a programming error and panic at process start.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || f == nil {
		panic("mixer: Register with empty name or nil factory")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("mixer: Register called twice for %q", name))
	}
	registry[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("mixer: unknown mixer %q (registered: %v)", name, names())
	}
	return f, nil
}

// Names lists the registered mixer names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return names()
}

func names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
