package freight

// Accessor provides typed access to a component column inside a table.
type Accessor[T any] struct {
	comp Component
}

// Get returns a pointer to the component value at the given row
func (a Accessor[T]) Get(idx int, tbl *Table) *T {
	col, ok := tbl.column(a.comp)
	if !ok {
		return nil
	}
	return col.Index(idx).Addr().Interface().(*T)
}

// Check determines whether the table carries this component
func (a Accessor[T]) Check(tbl *Table) bool {
	return tbl != nil && tbl.Contains(a.comp)
}

// AccessibleComponent extends a base Component with table-based accessibility
// It provides methods to retrieve components using different access patterns
type AccessibleComponent[T any] struct {
	Component
	Accessor[T] // concrete.
}

// GetFromCursor retrieves a component value for the entity at the cursor position
func (c AccessibleComponent[T]) GetFromCursor(cursor *Cursor) *T {
	return c.Get(
		cursor.entityIndex-1,
		cursor.currentArchetype.table,
	)
}

// GetFromCursorSafe safely retrieves a component value, checking if the component exists
// Returns a boolean indicating success and the component pointer if found
func (c AccessibleComponent[T]) GetFromCursorSafe(cursor *Cursor) (bool, *T) {
	ok := c.Accessor.Check(cursor.currentArchetype.table)
	if ok {
		return true, c.GetFromCursor(cursor)
	}
	return false, nil
}

// CheckCursor determines if the component exists in the archetype at the cursor position
func (c AccessibleComponent[T]) CheckCursor(cursor *Cursor) bool {
	return c.Accessor.Check(cursor.currentArchetype.table)
}

// GetFromEntity retrieves a component value for the specified entity
func (c AccessibleComponent[T]) GetFromEntity(entity Entity) *T {
	tbl := entity.Table()
	if tbl == nil {
		return nil
	}
	return c.Get(entity.Index(), tbl)
}

// CheckEntity determines if the entity currently carries the component
func (c AccessibleComponent[T]) CheckEntity(entity Entity) bool {
	return c.Accessor.Check(entity.Table())
}
