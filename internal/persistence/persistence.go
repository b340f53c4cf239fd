package persistence

// Persistence bundles the store interfaces so callers can depend on a
// single abstraction. Events may be nil.
type Persistence struct {
	Runs   RunStore
	Events EventStore
}

// NewInMemoryPersistence returns a Persistence whose runs and events live
// in the same InMemoryStore.
func NewInMemoryPersistence() Persistence {
	mem := NewInMemoryStore()
	return Persistence{Runs: mem, Events: mem}
}
