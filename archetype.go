package freight

type archetypeID uint32

type archetype struct {
	id    archetypeID
	table *Table
}

func newArchetype(sto *storage, id archetypeID, components ...Component) *archetype {
	return &archetype{
		id:    id,
		table: newTable(sto, components...),
	}
}

func (a *archetype) ID() uint32 {
	return uint32(a.id)
}

func (a *archetype) Table() *Table {
	return a.table
}

func (a *archetype) Components() []Component {
	return a.table.components
}
