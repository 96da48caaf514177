package store

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// Constructor creates a Store rooted at the given path.
// Implementations register themselves with the registry using Register().
type Constructor func(path string, logger *log.Logger) (Store, error)

var (
	registry   = make(map[Engine]Constructor)
	registryMu sync.RWMutex
)

// Register registers a storage engine constructor.
// This is called from init() functions in the engine packages
// (sqlite, jsondoc).
//
// Example:
//
//	func init() {
//	    store.Register(store.EngineSQLite, New)
//	}
func Register(e Engine, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("store: Register constructor is nil for engine %s", e))
	}
	if _, exists := registry[e]; exists {
		panic(fmt.Sprintf("store: Register called twice for engine %s", e))
	}
	registry[e] = constructor
}

// RegisteredEngines returns all registered engine names, sorted.
func RegisteredEngines() []Engine {
	registryMu.RLock()
	defer registryMu.RUnlock()

	engines := make([]Engine, 0, len(registry))
	for e := range registry {
		engines = append(engines, e)
	}
	sort.Slice(engines, func(i, j int) bool { return engines[i] < engines[j] })
	return engines
}

// Open creates a store using the engine selected by configuration.
//
// Engine selection happens exactly once, here, at composition time.
// An unknown engine or a failing constructor is a fatal error for the
// caller; there is no silent fallback to the other engine.
func Open(e Engine, path string, logger *log.Logger) (Store, error) {
	registryMu.RLock()
	constructor := registry[e]
	registryMu.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("unknown storage engine %q (registered: %v)", e, RegisteredEngines())
	}

	s, err := constructor(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store at %s: %w", e, path, err)
	}
	return s, nil
}
