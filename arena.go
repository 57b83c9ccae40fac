package freight

// Droppable marks component types whose staged instances own external state
// that must be released when a staged payload is discarded without reaching
// the world.
type Droppable interface {
	Drop()
}

// arenaCell is the backing slot for one type-erased allocation
type arenaCell struct {
	value any
	drop  func(any)
	done  bool
}

// ArenaBox is a type-erased handle to an arena-allocated component instance
// with an attached drop function. Exactly one of Dispose or Release runs per
// box; either settles the cell.
type ArenaBox struct {
	cell *arenaCell
}

// Valid reports whether the box holds a cell
func (b ArenaBox) Valid() bool {
	return b.cell != nil
}

// Value returns the boxed instance (a pointer to the component type)
func (b ArenaBox) Value() any {
	if b.cell == nil {
		return nil
	}
	return b.cell.value
}

// Dispose runs the drop function if the cell is still owned. Safe to call
// more than once; the drop runs at most once.
func (b ArenaBox) Dispose() {
	if b.cell == nil || b.cell.done {
		return
	}
	b.cell.done = true
	if b.cell.drop != nil {
		b.cell.drop(b.cell.value)
	}
}

// Release settles the cell without dropping: ownership of the instance has
// passed to the world.
func (b ArenaBox) Release() {
	if b.cell != nil {
		b.cell.done = true
	}
}

// Arena owns the staged component instances for one archetype load. Reset
// between archetypes: any box not yet settled has its drop function run.
type Arena struct {
	cells []*arenaCell
}

// NewArena creates an empty arena
func NewArena() *Arena {
	return &Arena{}
}

// Alloc stores a value with an optional drop hook and hands back its box
func (a *Arena) Alloc(value any, drop func(any)) ArenaBox {
	cell := &arenaCell{value: value, drop: drop}
	a.cells = append(a.cells, cell)
	return ArenaBox{cell: cell}
}

// Len returns the number of allocations made since the last Reset, settled
// or not
func (a *Arena) Len() int {
	return len(a.cells)
}

// Reset drains the arena. Undrained cells run their drop functions.
func (a *Arena) Reset() {
	for _, cell := range a.cells {
		ArenaBox{cell: cell}.Dispose()
	}
	a.cells = a.cells[:0]
}

// dropHookFor returns the drop hook for T, or nil when *T does not
// implement Droppable
func dropHookFor[T any]() func(any) {
	if _, ok := any(new(T)).(Droppable); ok {
		return func(v any) {
			v.(Droppable).Drop()
		}
	}
	return nil
}
