package freight

import (
	"sort"
)

// StorageHint is an advisory note about how an archetype column was stored.
// Hints are recorded on save and ignored by the loader.
type StorageHint string

const (
	HintTable  StorageHint = "table"
	HintSparse StorageHint = "sparse"
)

// ArchetypeSnapshot is the language-neutral, columnar description of one
// archetype: component types × rows of dynamic-value cells. Column order is
// stable within a snapshot and carries meaning; every column has exactly one
// cell per entity.
type ArchetypeSnapshot struct {
	ComponentTypes []string      `json:"component_types" msgpack:"component_types"`
	StorageHints   []StorageHint `json:"storage_types" msgpack:"storage_types"`
	Columns        [][]any       `json:"columns" msgpack:"columns"`
	Entities       []EntityID    `json:"entities" msgpack:"entities"`
}

// IsEmpty reports whether the snapshot holds no rows
func (s *ArchetypeSnapshot) IsEmpty() bool {
	return len(s.Entities) == 0
}

// ColumnIndex returns the index of the first column with the given type name
func (s *ArchetypeSnapshot) ColumnIndex(typeName string) (int, bool) {
	for i, t := range s.ComponentTypes {
		if t == typeName {
			return i, true
		}
	}
	return 0, false
}

// HasComponent reports whether a column with the type name exists
func (s *ArchetypeSnapshot) HasComponent(typeName string) bool {
	_, ok := s.ColumnIndex(typeName)
	return ok
}

// Column returns the cells of the named column
func (s *ArchetypeSnapshot) Column(typeName string) ([]any, bool) {
	idx, ok := s.ColumnIndex(typeName)
	if !ok {
		return nil, false
	}
	return s.Columns[idx], true
}

// Row returns the (type, cell) pairs of one row
func (s *ArchetypeSnapshot) Row(row int) [][2]any {
	out := make([][2]any, len(s.ComponentTypes))
	for i, t := range s.ComponentTypes {
		out[i] = [2]any{t, s.Columns[i][row]}
	}
	return out
}

// GetEntity returns the row values for an entity index, nil when the entity
// is not part of this archetype
func (s *ArchetypeSnapshot) GetEntity(id EntityID) [][2]any {
	for row, e := range s.Entities {
		if e == id {
			return s.Row(row)
		}
	}
	return nil
}

// GetMut returns a settable cell reference for (entity, type)
func (s *ArchetypeSnapshot) GetMut(id EntityID, typeName string) (*any, bool) {
	col, ok := s.ColumnIndex(typeName)
	if !ok {
		return nil, false
	}
	for row, e := range s.Entities {
		if e == id {
			return &s.Columns[col][row], true
		}
	}
	return nil, false
}

// InsertComponent writes a cell at (row, type)
func (s *ArchetypeSnapshot) InsertComponent(row int, typeName string, value any) error {
	idx, ok := s.ColumnIndex(typeName)
	if !ok {
		return MissingFactoryError{Name: typeName}
	}
	if row < 0 || row >= len(s.Entities) {
		return InvalidEntityIDError{ID: uint32(row)}
	}
	s.Columns[idx][row] = value
	return nil
}

// AddType appends a column of null cells for the type
func (s *ArchetypeSnapshot) AddType(typeName string, hint StorageHint) {
	if hint == "" {
		hint = HintTable
	}
	s.ComponentTypes = append(s.ComponentTypes, typeName)
	s.StorageHints = append(s.StorageHints, hint)
	s.Columns = append(s.Columns, make([]any, len(s.Entities)))
}

// RemoveType drops the first column with the given type name
func (s *ArchetypeSnapshot) RemoveType(typeName string) {
	idx, ok := s.ColumnIndex(typeName)
	if !ok {
		return
	}
	s.ComponentTypes = append(s.ComponentTypes[:idx], s.ComponentTypes[idx+1:]...)
	s.StorageHints = append(s.StorageHints[:idx], s.StorageHints[idx+1:]...)
	s.Columns = append(s.Columns[:idx], s.Columns[idx+1:]...)
}

// Validate checks the snapshot's structural invariants. Duplicate type
// names within one snapshot are tolerated (later columns override earlier
// ones at load) but reported as a diagnostic.
func (s *ArchetypeSnapshot) Validate() error {
	nTypes := len(s.ComponentTypes)
	nEntities := len(s.Entities)

	if len(s.Columns) != nTypes {
		return GenericError{Msg: "component type count mismatch"}
	}
	if len(s.StorageHints) != 0 && len(s.StorageHints) != nTypes {
		return GenericError{Msg: "storage hint count mismatch"}
	}
	for i, col := range s.Columns {
		if len(col) != nEntities {
			return GenericError{Msg: "column " + s.ComponentTypes[i] + " length mismatch"}
		}
	}

	seen := make(map[string]bool, nTypes)
	for _, t := range s.ComponentTypes {
		if seen[t] {
			logger.WithField("type", t).Warn("duplicate component column; last value wins on load")
		}
		seen[t] = true
	}
	return nil
}

// WorldSnapshot aggregates archetype snapshots, resource values, and the
// entity-ID domain of a whole world.
type WorldSnapshot struct {
	Entities   []EntityID           `json:"entities" msgpack:"entities"`
	Archetypes []*ArchetypeSnapshot `json:"archetypes" msgpack:"archetypes"`
	Resources  map[string]any       `json:"resources,omitempty" msgpack:"resources,omitempty"`
}

// PurgeNull rebuilds Entities as the sorted, deduplicated union of all
// archetype rows
func (s *WorldSnapshot) PurgeNull() {
	seen := make(map[EntityID]bool)
	s.Entities = s.Entities[:0]
	for _, arch := range s.Archetypes {
		for _, e := range arch.Entities {
			if !seen[e] {
				seen[e] = true
				s.Entities = append(s.Entities, e)
			}
		}
	}
	sort.Slice(s.Entities, func(i, j int) bool { return s.Entities[i] < s.Entities[j] })
}

// countEntities returns the number of entity slots the snapshot addresses
func (s *WorldSnapshot) countEntities() int {
	var max EntityID
	for _, e := range s.Entities {
		if e >= max {
			max = e + 1
		}
	}
	for _, arch := range s.Archetypes {
		for _, e := range arch.Entities {
			if e >= max {
				max = e + 1
			}
		}
	}
	return int(max)
}

// SaveWorldSnapshot captures every registered component of every entity
// into a columnar world snapshot. Archetypes without any registered
// component are skipped; unregistered columns inside a saved archetype are
// skipped silently (their data is not captured).
func SaveWorldSnapshot(sto Storage, reg *SnapshotRegistry) (*WorldSnapshot, error) {
	snap := &WorldSnapshot{}
	for _, e := range sto.Entities() {
		snap.Entities = append(snap.Entities, EntityID(e.ID()-1))
	}
	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i] < snap.Entities[j] })

	for _, arch := range sto.Archetypes() {
		archSnap, err := saveArchetypeSnapshot(sto, arch, reg)
		if err != nil {
			return nil, err
		}
		if archSnap != nil {
			snap.Archetypes = append(snap.Archetypes, archSnap)
		}
	}

	res, err := SaveWorldResources(sto, reg)
	if err != nil {
		return nil, err
	}
	snap.Resources = res
	return snap, nil
}

// SaveWorldSnapshotQuery captures only the archetypes matched by the query
// node. Entity domain is restricted to the captured rows.
func SaveWorldSnapshotQuery(sto Storage, reg *SnapshotRegistry, node QueryNode) (*WorldSnapshot, error) {
	snap := &WorldSnapshot{}
	for _, arch := range sto.Archetypes() {
		if !node.Evaluate(arch, sto) {
			continue
		}
		archSnap, err := saveArchetypeSnapshot(sto, arch, reg)
		if err != nil {
			return nil, err
		}
		if archSnap != nil {
			snap.Archetypes = append(snap.Archetypes, archSnap)
		}
	}
	snap.PurgeNull()
	return snap, nil
}

func saveArchetypeSnapshot(sto Storage, arch Archetype, reg *SnapshotRegistry) (*ArchetypeSnapshot, error) {
	tbl := arch.Table()
	if tbl.Length() == 0 {
		return nil, nil
	}

	type savedColumn struct {
		name  string
		codec *ComponentCodec
	}
	var cols []savedColumn
	for _, comp := range arch.Components() {
		name, ok := reg.NameForType(comp.Type())
		if !ok {
			logger.WithField("type", comp.Type().String()).Debug("no codec; column skipped on save")
			continue
		}
		codec, _ := reg.Codec(name)
		cols = append(cols, savedColumn{name: name, codec: codec})
	}
	if len(cols) == 0 {
		return nil, nil
	}

	snap := &ArchetypeSnapshot{}
	for row := 0; row < tbl.Length(); row++ {
		e, err := tbl.Entry(row)
		if err != nil {
			return nil, err
		}
		snap.Entities = append(snap.Entities, EntityID(e.ID()-1))
	}
	for _, col := range cols {
		snap.AddType(col.name, HintTable)
		cells, _ := snap.Column(col.name)
		for row := 0; row < tbl.Length(); row++ {
			e, _ := tbl.Entry(row)
			value, err := col.codec.Export(sto, e)
			if err != nil {
				return nil, err
			}
			cells[row] = value
		}
	}
	return snap, nil
}

// archColumn pairs a snapshot column with its resolved codec
type archColumn struct {
	col   int
	codec *ComponentCodec
}

func resolveColumns(arch *ArchetypeSnapshot, reg *SnapshotRegistry) []archColumn {
	var out []archColumn
	for i, typeName := range arch.ComponentTypes {
		codec, ok := reg.Codec(typeName)
		if !ok {
			logger.WithField("type", typeName).Warn("no codec; column skipped on load")
			continue
		}
		out = append(out, archColumn{col: i, codec: codec})
	}
	return out
}

// LoadWorldSnapshot restores a snapshot through per-cell imports. Each
// insert is an individual archetype move; prefer
// LoadWorldSnapshotDefragment for dense loads.
func LoadWorldSnapshot(sto Storage, snap *WorldSnapshot, reg *SnapshotRegistry) error {
	if err := validateArchetypes(snap); err != nil {
		return err
	}
	if err := sto.EnsureEntities(snap.countEntities()); err != nil {
		return err
	}
	for _, arch := range snap.Archetypes {
		for _, ac := range resolveColumns(arch, reg) {
			col := arch.Columns[ac.col]
			for row, idx := range arch.Entities {
				e, err := sto.Entity(int(idx) + 1)
				if err != nil {
					return InvalidEntityIDError{ID: uint32(idx)}
				}
				if err := ac.codec.Import(col[row], sto, e); err != nil {
					logCellError(ac.codec.name, idx, err)
				}
			}
		}
	}
	return LoadWorldResources(snap.Resources, sto, reg)
}

// LoadWorldSnapshotDefragment restores a snapshot through the command
// buffer: every entity's full bundle lands in a single archetype move, so
// loading produces no transient archetypes.
func LoadWorldSnapshotDefragment(sto Storage, snap *WorldSnapshot, reg *SnapshotRegistry) error {
	if err := validateArchetypes(snap); err != nil {
		return err
	}
	if err := sto.EnsureEntities(snap.countEntities()); err != nil {
		return err
	}

	buf := NewCommandBuffer()
	defer buf.Close()
	arena := NewArena()
	defer arena.Reset()

	for _, arch := range snap.Archetypes {
		cols := resolveColumns(arch, reg)
		for row, idx := range arch.Entities {
			e, err := sto.Entity(int(idx) + 1)
			if err != nil {
				return InvalidEntityIDError{ID: uint32(idx)}
			}
			stageRow(buf, arena, e, arch, cols, row, nil, nil)
		}
		if err := buf.Apply(sto); err != nil {
			return err
		}
		arena.Reset()
	}
	return LoadWorldResources(snap.Resources, sto, reg)
}

// LoadWorldSnapshotWithRemap restores a snapshot into entities supplied by
// the mapper, rewriting entity-valued fields through the registered remap
// hooks. Unmapped source entities are skipped.
func LoadWorldSnapshotWithRemap(
	sto Storage,
	snap *WorldSnapshot,
	reg *SnapshotRegistry,
	ids *RemapRegistry,
	mapper EntityRemapper,
) error {
	if err := validateArchetypes(snap); err != nil {
		return err
	}

	buf := NewCommandBuffer()
	defer buf.Close()
	arena := NewArena()
	defer arena.Reset()

	for _, arch := range snap.Archetypes {
		cols := resolveColumns(arch, reg)
		for row, idx := range arch.Entities {
			target, ok := mapper.Map(idx)
			if !ok || target == nil || !target.Valid() {
				logger.WithField("entity", idx).Debug("unmapped entity skipped")
				continue
			}
			stageRow(buf, arena, target, arch, cols, row, ids, mapper)
		}
		if err := buf.Apply(sto); err != nil {
			return err
		}
		arena.Reset()
	}
	return LoadWorldResources(snap.Resources, sto, reg)
}

// stageRow decodes one snapshot row into the buffer. Cells that fail to
// decode are logged and skipped; the rest of the row still loads.
func stageRow(
	buf *CommandBuffer,
	arena *Arena,
	target Entity,
	arch *ArchetypeSnapshot,
	cols []archColumn,
	row int,
	ids *RemapRegistry,
	mapper EntityRemapper,
) {
	for _, ac := range cols {
		cell := arch.Columns[ac.col][row]
		box, err := ac.codec.DynCtor(cell, arena)
		if err != nil {
			logCellError(ac.codec.name, arch.Entities[row], err)
			continue
		}
		if mapper != nil {
			if hook, ok := ids.HookFor(ac.codec.typ); ok {
				hook(box.Value(), mapper)
			}
		}
		if ac.codec.mode.emplaceOnly() {
			buf.InsertIfNew(target, ac.codec.comp, box)
		} else {
			buf.Insert(target, ac.codec.comp, box)
		}
	}
}

func validateArchetypes(snap *WorldSnapshot) error {
	for _, arch := range snap.Archetypes {
		if err := arch.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func logCellError(typeName string, entity EntityID, err error) {
	logger.WithFields(map[string]interface{}{
		"type":   typeName,
		"entity": entity,
		"error":  err,
	}).Warn("cell decode failed; cell skipped")
}

// SaveWorldResources exports every registered resource present in the
// storage
func SaveWorldResources(sto Storage, reg *SnapshotRegistry) (map[string]any, error) {
	out := make(map[string]any)
	for _, name := range reg.ResourceNames() {
		codec, _ := reg.Resource(name)
		value, err := codec.export(sto)
		if err != nil {
			return nil, err
		}
		if value != nil {
			out[name] = value
		}
	}
	return out, nil
}

// LoadWorldResources imports resource values; names without a codec are
// skipped with a diagnostic
func LoadWorldResources(data map[string]any, sto Storage, reg *SnapshotRegistry) error {
	for name, value := range data {
		codec, ok := reg.Resource(name)
		if !ok {
			logger.WithField("resource", name).Warn("no codec; resource skipped on load")
			continue
		}
		if err := codec.importFn(value, sto); err != nil {
			return err
		}
	}
	return nil
}
