package freight

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ArrowColumn is one component type's worth of typed columnar data: the
// unmangled per-field schema plus one array per field.
type ArrowColumn struct {
	Fields []arrow.Field
	Data   []arrow.Array
}

// Len returns the row count of the column
func (c *ArrowColumn) Len() int {
	if len(c.Data) == 0 {
		return 0
	}
	return c.Data[0].Len()
}

// ArrowCodec is the optional columnar triple of a component codec: typed
// bulk export, bulk import, and the type-erased column constructor used by
// the command buffer.
type ArrowCodec struct {
	fields       []arrow.Field
	export       func(sto Storage, entities []Entity) (*ArrowColumn, error)
	importFn     func(col *ArrowColumn, sto Storage, entities []Entity) error
	dynCtor      func(col *ArrowColumn, arena *Arena) ([]ArenaBox, error)
	fromDynCells func(cells []any) (*ArrowColumn, error)
	toDynCells   func(col *ArrowColumn) ([]any, error)
}

// Schema returns the codec's ordered field list
func (c *ArrowCodec) Schema() []arrow.Field { return c.fields }

// ExportColumn bulk-reads the component from the given entities
func (c *ArrowCodec) ExportColumn(sto Storage, entities []Entity) (*ArrowColumn, error) {
	return c.export(sto, entities)
}

// ImportColumn bulk-inserts the column into the world
func (c *ArrowCodec) ImportColumn(col *ArrowColumn, sto Storage, entities []Entity) error {
	return c.importFn(col, sto, entities)
}

// DynColumnCtor materializes the column as type-erased arena cells
func (c *ArrowCodec) DynColumnCtor(col *ArrowColumn, arena *Arena) ([]ArenaBox, error) {
	return c.dynCtor(col, arena)
}

// ColumnFromCells converts dynamic-value cells into the typed column
func (c *ArrowCodec) ColumnFromCells(cells []any) (*ArrowColumn, error) {
	return c.fromDynCells(cells)
}

// CellsFromColumn converts a typed column back to dynamic-value cells
func (c *ArrowCodec) CellsFromColumn(col *ArrowColumn) ([]any, error) {
	return c.toDynCells(col)
}

// arrowStructField describes one serializable field of a component struct
type arrowStructField struct {
	name  string
	index int
	dt    arrow.DataType
}

func arrowTypeFor(k reflect.Kind) (arrow.DataType, bool) {
	switch k {
	case reflect.Bool:
		return arrow.FixedWidthTypes.Boolean, true
	case reflect.Int8:
		return arrow.PrimitiveTypes.Int8, true
	case reflect.Int16:
		return arrow.PrimitiveTypes.Int16, true
	case reflect.Int32:
		return arrow.PrimitiveTypes.Int32, true
	case reflect.Int, reflect.Int64:
		return arrow.PrimitiveTypes.Int64, true
	case reflect.Uint8:
		return arrow.PrimitiveTypes.Uint8, true
	case reflect.Uint16:
		return arrow.PrimitiveTypes.Uint16, true
	case reflect.Uint32:
		return arrow.PrimitiveTypes.Uint32, true
	case reflect.Uint, reflect.Uint64:
		return arrow.PrimitiveTypes.Uint64, true
	case reflect.Float32:
		return arrow.PrimitiveTypes.Float32, true
	case reflect.Float64:
		return arrow.PrimitiveTypes.Float64, true
	case reflect.String:
		return arrow.BinaryTypes.String, true
	}
	return nil, false
}

func jsonFieldName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, true
}

// arrowStructFields flattens T's exported fields into the column schema.
// Returns ok=false when any field kind has no columnar representation.
func arrowStructFields(t reflect.Type) ([]arrowStructField, bool) {
	if t.Kind() != reflect.Struct {
		return nil, false
	}
	var out []arrowStructField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, keep := jsonFieldName(f)
		if !keep {
			continue
		}
		dt, ok := arrowTypeFor(f.Type.Kind())
		if !ok {
			return nil, false
		}
		out = append(out, arrowStructField{name: name, index: i, dt: dt})
	}
	return out, true
}

func appendReflect(b array.Builder, v reflect.Value) error {
	switch bd := b.(type) {
	case *array.BooleanBuilder:
		bd.Append(v.Bool())
	case *array.Int8Builder:
		bd.Append(int8(v.Int()))
	case *array.Int16Builder:
		bd.Append(int16(v.Int()))
	case *array.Int32Builder:
		bd.Append(int32(v.Int()))
	case *array.Int64Builder:
		bd.Append(v.Int())
	case *array.Uint8Builder:
		bd.Append(uint8(v.Uint()))
	case *array.Uint16Builder:
		bd.Append(uint16(v.Uint()))
	case *array.Uint32Builder:
		bd.Append(uint32(v.Uint()))
	case *array.Uint64Builder:
		bd.Append(v.Uint())
	case *array.Float32Builder:
		bd.Append(float32(v.Float()))
	case *array.Float64Builder:
		bd.Append(v.Float())
	case *array.StringBuilder:
		bd.Append(v.String())
	default:
		return ArrowError{Err: fmt.Errorf("unsupported builder %T", b)}
	}
	return nil
}

func arrayCell(a arrow.Array, row int) (any, error) {
	if a.IsNull(row) {
		return nil, nil
	}
	switch arr := a.(type) {
	case *array.Boolean:
		return arr.Value(row), nil
	case *array.Int8:
		return arr.Value(row), nil
	case *array.Int16:
		return arr.Value(row), nil
	case *array.Int32:
		return arr.Value(row), nil
	case *array.Int64:
		return arr.Value(row), nil
	case *array.Uint8:
		return arr.Value(row), nil
	case *array.Uint16:
		return arr.Value(row), nil
	case *array.Uint32:
		return arr.Value(row), nil
	case *array.Uint64:
		return arr.Value(row), nil
	case *array.Float32:
		return arr.Value(row), nil
	case *array.Float64:
		return arr.Value(row), nil
	case *array.String:
		return arr.Value(row), nil
	}
	return nil, ArrowError{Err: fmt.Errorf("unsupported array %T", a)}
}

// placeholderArrowFields is the schema for tag components: one nullable
// boolean stand-in column carrying the snapshot mode in metadata
func placeholderArrowFields(mode SnapshotMode) []arrow.Field {
	md := arrow.NewMetadata([]string{"mode"}, []string{fmt.Sprintf("%d", mode)})
	return []arrow.Field{{Name: "item", Type: arrow.FixedWidthTypes.Boolean, Nullable: true, Metadata: md}}
}

// buildArrowCodec derives the columnar triple for T from its struct shape.
// Returns nil when T has fields Arrow cannot express; such types fall back
// to the dynamic-value path everywhere.
func buildArrowCodec[T any](acc AccessibleComponent[T], mode SnapshotMode) *ArrowCodec {
	typ := typeOf[T]()
	placeholder := mode == ModePlaceholder || mode == ModePlaceholderIfNotExists

	sfs, ok := arrowStructFields(typ)
	if !ok {
		return nil
	}
	if len(sfs) == 0 {
		placeholder = true
	}

	if placeholder {
		return buildPlaceholderArrowCodec(acc, mode)
	}

	fields := make([]arrow.Field, len(sfs))
	for i, sf := range sfs {
		fields[i] = arrow.Field{Name: sf.name, Type: sf.dt}
	}

	build := func(values []reflect.Value) (*ArrowColumn, error) {
		builders := make([]array.Builder, len(sfs))
		for i, f := range fields {
			builders[i] = array.NewBuilder(memory.DefaultAllocator, f.Type)
		}
		for _, rv := range values {
			for i, sf := range sfs {
				if err := appendReflect(builders[i], rv.Field(sf.index)); err != nil {
					return nil, err
				}
			}
		}
		data := make([]arrow.Array, len(builders))
		for i, b := range builders {
			data[i] = b.NewArray()
			b.Release()
		}
		return &ArrowColumn{Fields: fields, Data: data}, nil
	}

	decode := func(col *ArrowColumn) ([]T, error) {
		arrays, err := matchColumnFields(col, fields)
		if err != nil {
			return nil, err
		}
		n := col.Len()
		out := make([]T, n)
		for row := 0; row < n; row++ {
			rv := reflect.ValueOf(&out[row]).Elem()
			for i, sf := range sfs {
				cell, err := arrayCell(arrays[i], row)
				if err != nil {
					return nil, err
				}
				if cell == nil {
					continue
				}
				fv := rv.Field(sf.index)
				fv.Set(reflect.ValueOf(cell).Convert(fv.Type()))
			}
		}
		return out, nil
	}

	return assembleArrowCodec(acc, mode, fields,
		func(ptr *T) reflect.Value { return reflect.ValueOf(ptr).Elem() },
		build, decode)
}

// buildArrowCodecWith derives the triple for T serialized through wrapper W
func buildArrowCodecWith[T any, W any](acc AccessibleComponent[T], from func(*T) W, into func(W) T) *ArrowCodec {
	sfs, ok := arrowStructFields(typeOf[W]())
	if !ok || len(sfs) == 0 {
		return nil
	}
	fields := make([]arrow.Field, len(sfs))
	for i, sf := range sfs {
		fields[i] = arrow.Field{Name: sf.name, Type: sf.dt}
	}

	build := func(values []reflect.Value) (*ArrowColumn, error) {
		builders := make([]array.Builder, len(sfs))
		for i, f := range fields {
			builders[i] = array.NewBuilder(memory.DefaultAllocator, f.Type)
		}
		for _, rv := range values {
			for i, sf := range sfs {
				if err := appendReflect(builders[i], rv.Field(sf.index)); err != nil {
					return nil, err
				}
			}
		}
		data := make([]arrow.Array, len(builders))
		for i, b := range builders {
			data[i] = b.NewArray()
			b.Release()
		}
		return &ArrowColumn{Fields: fields, Data: data}, nil
	}

	decodeW := func(col *ArrowColumn) ([]T, error) {
		arrays, err := matchColumnFields(col, fields)
		if err != nil {
			return nil, err
		}
		n := col.Len()
		out := make([]T, n)
		for row := 0; row < n; row++ {
			var w W
			rv := reflect.ValueOf(&w).Elem()
			for i, sf := range sfs {
				cell, err := arrayCell(arrays[i], row)
				if err != nil {
					return nil, err
				}
				if cell == nil {
					continue
				}
				fv := rv.Field(sf.index)
				fv.Set(reflect.ValueOf(cell).Convert(fv.Type()))
			}
			out[row] = into(w)
		}
		return out, nil
	}

	return assembleArrowCodec(acc, ModeFull, fields,
		func(ptr *T) reflect.Value { return reflect.ValueOf(from(ptr)) },
		build, decodeW)
}

// assembleArrowCodec wires the shared export/import/dyn plumbing around a
// type-specific column builder and decoder
func assembleArrowCodec[T any](
	acc AccessibleComponent[T],
	mode SnapshotMode,
	fields []arrow.Field,
	project func(*T) reflect.Value,
	build func([]reflect.Value) (*ArrowColumn, error),
	decode func(*ArrowColumn) ([]T, error),
) *ArrowCodec {
	name := ShortTypeName[T]()
	drop := dropHookFor[T]()

	return &ArrowCodec{
		fields: fields,
		export: func(sto Storage, entities []Entity) (*ArrowColumn, error) {
			values := make([]reflect.Value, len(entities))
			for i, e := range entities {
				ptr := acc.GetFromEntity(e)
				if ptr == nil {
					return nil, MissingComponentError{TypeName: name}
				}
				values[i] = project(ptr)
			}
			return build(values)
		},
		importFn: func(col *ArrowColumn, sto Storage, entities []Entity) error {
			ts, err := decode(col)
			if err != nil {
				return err
			}
			if len(ts) != len(entities) {
				return ArrowError{Err: fmt.Errorf("column/entity length mismatch: %d != %d", len(ts), len(entities))}
			}
			for i, e := range entities {
				if mode.emplaceOnly() && acc.CheckEntity(e) {
					continue
				}
				if err := e.SetComponent(acc.Component, ts[i]); err != nil {
					return err
				}
			}
			return nil
		},
		dynCtor: func(col *ArrowColumn, arena *Arena) ([]ArenaBox, error) {
			ts, err := decode(col)
			if err != nil {
				return nil, err
			}
			boxes := make([]ArenaBox, len(ts))
			for i := range ts {
				t := ts[i]
				boxes[i] = arena.Alloc(&t, drop)
			}
			return boxes, nil
		},
		fromDynCells: func(cells []any) (*ArrowColumn, error) {
			values := make([]reflect.Value, len(cells))
			for i, cell := range cells {
				t, err := fromDyn[T](cell)
				if err != nil {
					return nil, DecodeError{TypeName: name, Err: err}
				}
				values[i] = project(&t)
			}
			return build(values)
		},
		toDynCells: func(col *ArrowColumn) ([]any, error) {
			ts, err := decode(col)
			if err != nil {
				return nil, err
			}
			cells := make([]any, len(ts))
			for i := range ts {
				cell, err := toDyn(&ts[i])
				if err != nil {
					return nil, err
				}
				cells[i] = cell
			}
			return cells, nil
		},
	}
}

func buildPlaceholderArrowCodec[T any](acc AccessibleComponent[T], mode SnapshotMode) *ArrowCodec {
	fields := placeholderArrowFields(mode)
	drop := dropHookFor[T]()

	build := func(n int) (*ArrowColumn, error) {
		b := array.NewBuilder(memory.DefaultAllocator, arrow.FixedWidthTypes.Boolean).(*array.BooleanBuilder)
		for i := 0; i < n; i++ {
			b.Append(true)
		}
		arr := b.NewArray()
		b.Release()
		return &ArrowColumn{Fields: fields, Data: []arrow.Array{arr}}, nil
	}

	return &ArrowCodec{
		fields: fields,
		export: func(sto Storage, entities []Entity) (*ArrowColumn, error) {
			return build(len(entities))
		},
		importFn: func(col *ArrowColumn, sto Storage, entities []Entity) error {
			for _, e := range entities {
				if mode == ModePlaceholderIfNotExists && acc.CheckEntity(e) {
					continue
				}
				var t T
				if err := e.SetComponent(acc.Component, t); err != nil {
					return err
				}
			}
			return nil
		},
		dynCtor: func(col *ArrowColumn, arena *Arena) ([]ArenaBox, error) {
			boxes := make([]ArenaBox, col.Len())
			for i := range boxes {
				var t T
				boxes[i] = arena.Alloc(&t, drop)
			}
			return boxes, nil
		},
		fromDynCells: func(cells []any) (*ArrowColumn, error) {
			return build(len(cells))
		},
		toDynCells: func(col *ArrowColumn) ([]any, error) {
			return make([]any, col.Len()), nil
		},
	}
}

// matchColumnFields aligns a column's arrays with the expected schema by
// field name, falling back to positional order when the record came back
// with mangled names.
func matchColumnFields(col *ArrowColumn, expected []arrow.Field) ([]arrow.Array, error) {
	if len(col.Data) != len(col.Fields) {
		return nil, ArrowError{Err: fmt.Errorf("column field/array count mismatch")}
	}
	out := make([]arrow.Array, len(expected))
	for i, want := range expected {
		found := -1
		for j, have := range col.Fields {
			if have.Name == want.Name {
				found = j
				break
			}
		}
		if found < 0 {
			if len(col.Fields) == len(expected) {
				found = i
			} else {
				return nil, ArrowError{Err: fmt.Errorf("missing field %q", want.Name)}
			}
		}
		out[i] = col.Data[found]
	}
	return out, nil
}

// ComponentTable collects per-type columns plus the entity-index column for
// one archetype. Column iteration is name-ordered so serialized layouts are
// deterministic.
type ComponentTable struct {
	columns  map[string]*ArrowColumn
	entities []EntityID
}

// NewComponentTable creates an empty table
func NewComponentTable() *ComponentTable {
	return &ComponentTable{columns: make(map[string]*ArrowColumn)}
}

// InsertColumn installs or replaces a type's column
func (t *ComponentTable) InsertColumn(name string, col *ArrowColumn) {
	t.columns[name] = col
}

// RemoveColumn drops a type's column
func (t *ComponentTable) RemoveColumn(name string) {
	delete(t.columns, name)
}

// Column returns a type's column
func (t *ComponentTable) Column(name string) (*ArrowColumn, bool) {
	col, ok := t.columns[name]
	return col, ok
}

// ColumnNames returns the type names in sorted order
func (t *ComponentTable) ColumnNames() []string {
	names := make([]string, 0, len(t.columns))
	for name := range t.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entities returns the table's entity-index column
func (t *ComponentTable) Entities() []EntityID {
	return t.entities
}

// SetEntities installs the entity-index column
func (t *ComponentTable) SetEntities(entities []EntityID) {
	t.entities = entities
}

// IsEmpty reports whether the table has no rows
func (t *ComponentTable) IsEmpty() bool {
	return len(t.entities) == 0
}

// ToRecord flattens the table into a single RecordBatch. Field names are
// mangled `<Type>` for single-field schemas and `<Type>.<field>` otherwise;
// each field carries a `prefix` metadata key naming its owning type, and
// the schema metadata carries a JSON `type_mapping` of type name to field
// group.
func (t *ComponentTable) ToRecord() (arrow.Record, error) {
	var fields []arrow.Field
	var cols []arrow.Array
	typeMapping := map[string][]string{"id": {"id"}}

	idb := array.NewBuilder(memory.DefaultAllocator, arrow.PrimitiveTypes.Uint32).(*array.Uint32Builder)
	for _, e := range t.entities {
		idb.Append(uint32(e))
	}
	idArr := idb.NewArray()
	idb.Release()
	fields = append(fields, arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Uint32})
	cols = append(cols, idArr)

	for _, typeName := range t.ColumnNames() {
		col := t.columns[typeName]
		groupNames := make([]string, 0, len(col.Fields))
		for i, f := range col.Fields {
			// Single-field schemas collapse to the bare type name; only
			// multi-field schemas carry the `<Type>.<field>` mangling.
			mangled := typeName
			if len(col.Fields) > 1 {
				mangled = typeName + "." + f.Name
			}
			md := arrow.NewMetadata([]string{"prefix"}, []string{typeName})
			fields = append(fields, arrow.Field{Name: mangled, Type: f.Type, Nullable: f.Nullable, Metadata: md})
			cols = append(cols, col.Data[i])
			groupNames = append(groupNames, mangled)
		}
		typeMapping[typeName] = groupNames
	}

	tm, err := json.Marshal(typeMapping)
	if err != nil {
		return nil, ArrowError{Err: err}
	}
	md := arrow.NewMetadata([]string{"type_mapping"}, []string{string(tm)})
	schema := arrow.NewSchema(fields, &md)
	return array.NewRecord(schema, cols, int64(len(t.entities))), nil
}

// ComponentTableFromRecord inverts ToRecord. The per-field `prefix`
// metadata is the source of truth for field grouping.
func ComponentTableFromRecord(rec arrow.Record) (*ComponentTable, error) {
	out := NewComponentTable()
	schema := rec.Schema()

	for i, f := range schema.Fields() {
		prefix := f.Name
		if idx := f.Metadata.FindKey("prefix"); idx >= 0 {
			prefix = f.Metadata.Values()[idx]
		}
		arr := rec.Column(i)

		if prefix == "id" {
			ids, ok := arr.(*array.Uint32)
			if !ok {
				return nil, ArrowError{Err: fmt.Errorf("id column must be uint32, got %T", arr)}
			}
			entities := make([]EntityID, ids.Len())
			for row := 0; row < ids.Len(); row++ {
				entities[row] = EntityID(ids.Value(row))
			}
			out.entities = entities
			continue
		}

		unmangled := strings.TrimPrefix(f.Name, prefix+".")
		if unmangled == f.Name {
			// A single-field schema collapsed to the bare type name; the
			// original field name is gone, so the field comes back
			// anonymous and decoders align it positionally.
			unmangled = ""
		}
		col, ok := out.columns[prefix]
		if !ok {
			col = &ArrowColumn{}
			out.columns[prefix] = col
		}
		col.Fields = append(col.Fields, arrow.Field{Name: unmangled, Type: f.Type, Nullable: f.Nullable})
		col.Data = append(col.Data, arr)
	}
	return out, nil
}
