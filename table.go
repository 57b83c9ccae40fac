package freight

import (
	"reflect"

	"github.com/TheBitDrifter/mask"
)

var _ mask.Maskable = &Table{}

// Table is the columnar backing store for one archetype. Each component has
// a typed column; rows are entities. Row order is the archetype's entity
// order and is preserved by snapshots.
type Table struct {
	components []Component
	columns    []reflect.Value // one []T slice value per component
	colIndex   map[uint32]int
	entries    []*entity
	tableMask  mask.Mask
}

func newTable(sto *storage, components ...Component) *Table {
	tbl := &Table{
		components: components,
		columns:    make([]reflect.Value, len(components)),
		colIndex:   make(map[uint32]int, len(components)),
	}
	for i, c := range components {
		tbl.columns[i] = reflect.MakeSlice(reflect.SliceOf(c.Type()), 0, 0)
		tbl.colIndex[c.ID()] = i
		tbl.tableMask.Mark(sto.RowIndexFor(c))
	}
	return tbl
}

// Mask exposes the archetype's component mask for query evaluation
func (tbl *Table) Mask() mask.Mask {
	return tbl.tableMask
}

// Length returns the number of rows (entities) in the table
func (tbl *Table) Length() int {
	return len(tbl.entries)
}

// Contains reports whether the table stores the given component
func (tbl *Table) Contains(c Component) bool {
	_, ok := tbl.colIndex[c.ID()]
	return ok
}

// Components returns the component set backing this table
func (tbl *Table) Components() []Component {
	return tbl.components
}

// Rows exposes the raw column slices for reflective access
func (tbl *Table) Rows() []reflect.Value {
	return tbl.columns
}

// Entry returns the entity occupying the given row
func (tbl *Table) Entry(row int) (Entity, error) {
	if row < 0 || row >= len(tbl.entries) {
		return nil, InvalidEntityIDError{ID: uint32(row)}
	}
	return tbl.entries[row], nil
}

func (tbl *Table) column(c Component) (reflect.Value, bool) {
	idx, ok := tbl.colIndex[c.ID()]
	if !ok {
		return reflect.Value{}, false
	}
	return tbl.columns[idx], true
}

// newRow appends a zeroed row for the entity and returns its index
func (tbl *Table) newRow(en *entity) int {
	for i, c := range tbl.components {
		tbl.columns[i] = reflect.Append(tbl.columns[i], reflect.Zero(c.Type()))
	}
	tbl.entries = append(tbl.entries, en)
	return len(tbl.entries) - 1
}

// setValue writes a component value into an existing row
func (tbl *Table) setValue(c Component, row int, value any) error {
	col, ok := tbl.column(c)
	if !ok {
		return ComponentNotFoundError{Component: c}
	}
	rv := reflect.ValueOf(value)
	if rv.Type() != c.Type() {
		return GenericError{Msg: "invalid value type " + rv.Type().String() + " for component " + c.Type().String()}
	}
	col.Index(row).Set(rv)
	return nil
}

// valueAt reads the component value stored at a row
func (tbl *Table) valueAt(c Component, row int) (any, bool) {
	col, ok := tbl.column(c)
	if !ok {
		return nil, false
	}
	return col.Index(row).Interface(), true
}

// deleteRow swap-removes a row, fixing up the displaced entity's index
func (tbl *Table) deleteRow(row int) {
	last := len(tbl.entries) - 1
	if row != last {
		for i := range tbl.columns {
			tbl.columns[i].Index(row).Set(tbl.columns[i].Index(last))
		}
		moved := tbl.entries[last]
		tbl.entries[row] = moved
		moved.row = row
	}
	for i := range tbl.columns {
		tbl.columns[i] = tbl.columns[i].Slice(0, last)
	}
	tbl.entries = tbl.entries[:last]
}

// transferRow moves a row into the destination table, carrying over the
// values of every component both tables share. Returns the new row index.
func (tbl *Table) transferRow(dst *Table, row int) int {
	en := tbl.entries[row]
	newRow := dst.newRow(en)
	for i, c := range tbl.components {
		if dstCol, ok := dst.column(c); ok {
			dstCol.Index(newRow).Set(tbl.columns[i].Index(row))
		}
	}
	tbl.deleteRow(row)
	return newRow
}
