package freight

// factory implements the factory pattern for freight storage primitives.
type factory struct{}

// Factory is the global factory instance for creating freight primitives.
var Factory factory

// NewStorage creates a new Storage instance.
func (f factory) NewStorage() Storage {
	return newStorage()
}

// NewQuery creates a new Query instance.
func (f factory) NewQuery() Query {
	return newQuery()
}

// NewCursor creates a new Cursor with the specified query and storage.
func (f factory) NewCursor(query QueryNode, storage Storage) *Cursor {
	return newCursor(query, storage)
}

// FactoryNewComponent creates a new AccessibleComponent for type T.
func FactoryNewComponent[T any]() AccessibleComponent[T] {
	iden := elementTypeFor(typeOf[T]())
	return AccessibleComponent[T]{
		Component: iden,
		Accessor:  Accessor[T]{comp: iden},
	}
}

// FactoryNewCache creates a new Cache with the specified capacity.
func FactoryNewCache[T any](cap int) Cache[T] {
	return &SimpleCache[T]{
		itemIndices: make(map[string]int),
		maxCapacity: cap,
	}
}
