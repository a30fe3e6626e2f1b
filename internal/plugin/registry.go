package plugin

import (
	"fmt"
	"sort"
	"sync"
)

var (
	regMu     sync.RWMutex
	factories = make(map[string]func() Provider)
)

// Register adds a provider factory under its plugin_type name. Called from
// provider init functions; panics on duplicates because that is a programming
// error, not a runtime condition.
func Register(name string, factory func() Provider) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("plugin: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New instantiates a fresh provider for the given plugin_type. Each stream
// worker gets its own instance.
func New(name string) (Provider, error) {
	regMu.RLock()
	factory, ok := factories[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: unknown plugin_type %q", name)
	}
	return factory(), nil
}

// Names lists the registered plugin types, sorted.
func Names() []string {
	regMu.RLock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	regMu.RUnlock()
	sort.Strings(names)
	return names
}
