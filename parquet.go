package freight

import (
	"bytes"
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// ToParquet serializes the table as parquet bytes via its RecordBatch form
func (t *ComponentTable) ToParquet() ([]byte, error) {
	rec, err := t.ToRecord()
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Zstd),
	)
	// WithStoreSchema keeps the arrow schema (and its prefix/type_mapping
	// metadata) readable on the way back out.
	fw, err := pqarrow.NewFileWriter(rec.Schema(), &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, ParquetError{Err: err}
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return nil, ParquetError{Err: err}
	}
	if err := fw.Close(); err != nil {
		return nil, ParquetError{Err: err}
	}
	return buf.Bytes(), nil
}

// ComponentTableFromParquet reads parquet bytes back into a table
func ComponentTableFromParquet(data []byte) (*ComponentTable, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, ParquetError{Err: err}
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: 8192}, memory.DefaultAllocator)
	if err != nil {
		return nil, ParquetError{Err: err}
	}
	tbl, err := fr.ReadTable(context.Background())
	if err != nil {
		return nil, ParquetError{Err: err}
	}
	defer tbl.Release()

	rows := tbl.NumRows()
	if rows == 0 {
		rows = 1
	}
	tr := array.NewTableReader(tbl, rows)
	defer tr.Release()

	if tr.Next() {
		rec := tr.Record()
		rec.Retain()
		defer rec.Release()
		return ComponentTableFromRecord(rec)
	}
	// no rows: reconstruct an empty table from the schema alone
	empty := array.NewRecord(tbl.Schema(), emptyArrays(tbl.Schema()), 0)
	defer empty.Release()
	return ComponentTableFromRecord(empty)
}

// ToCSV emits the table through the Arrow CSV writer with the same mangled
// headers as the RecordBatch. Nested structures cannot be represented.
func (t *ComponentTable) ToCSV() (string, error) {
	rec, err := t.ToRecord()
	if err != nil {
		return "", err
	}
	defer rec.Release()

	var buf bytes.Buffer
	w := arrowcsv.NewWriter(&buf, rec.Schema(), arrowcsv.WithHeader(true))
	if err := w.Write(rec); err != nil {
		return "", ArrowError{Err: err}
	}
	if err := w.Flush(); err != nil {
		return "", ArrowError{Err: err}
	}
	return buf.String(), nil
}

func emptyArrays(schema *arrow.Schema) []arrow.Array {
	out := make([]arrow.Array, len(schema.Fields()))
	for i, f := range schema.Fields() {
		b := array.NewBuilder(memory.DefaultAllocator, f.Type)
		out[i] = b.NewArray()
		b.Release()
	}
	return out
}

// WorldArrowSnapshot is the columnar dual of WorldSnapshot: one
// ComponentTable per archetype, resources as msgpack blobs.
type WorldArrowSnapshot struct {
	Entities   []EntityID
	Archetypes []*ComponentTable
	Resources  map[string]BinBlob
	Meta       map[string]string
}

// SaveWorldArrowSnapshot captures every non-empty archetype that has at
// least one registered component with an Arrow codec. Columns of
// unregistered types, or of types without a columnar form, are skipped with
// a diagnostic.
func SaveWorldArrowSnapshot(sto Storage, reg *SnapshotRegistry) (*WorldArrowSnapshot, error) {
	snap := &WorldArrowSnapshot{
		Resources: make(map[string]BinBlob),
		Meta:      make(map[string]string),
	}
	for _, e := range sto.Entities() {
		snap.Entities = append(snap.Entities, EntityID(e.ID()-1))
	}

	for _, arch := range sto.Archetypes() {
		tbl := arch.Table()
		if tbl.Length() == 0 {
			continue
		}
		entities := make([]Entity, tbl.Length())
		ids := make([]EntityID, tbl.Length())
		for row := 0; row < tbl.Length(); row++ {
			e, err := tbl.Entry(row)
			if err != nil {
				return nil, err
			}
			entities[row] = e
			ids[row] = EntityID(e.ID() - 1)
		}

		table := NewComponentTable()
		table.SetEntities(ids)
		for _, comp := range arch.Components() {
			name, ok := reg.NameForType(comp.Type())
			if !ok {
				logger.WithField("type", comp.Type().String()).Debug("no codec; column skipped on save")
				continue
			}
			codec, _ := reg.Codec(name)
			if codec.arrow == nil {
				logger.WithField("type", name).Warn("no arrow codec; column skipped in columnar save")
				continue
			}
			col, err := codec.arrow.ExportColumn(sto, entities)
			if err != nil {
				return nil, err
			}
			table.InsertColumn(name, col)
		}
		if len(table.columns) > 0 {
			snap.Archetypes = append(snap.Archetypes, table)
		}
	}

	resources, err := saveResourceBlobs(sto, reg)
	if err != nil {
		return nil, err
	}
	snap.Resources = resources
	return snap, nil
}

// ToStorage restores the columnar snapshot through the command buffer: one
// bundle per entity, no transient archetypes.
func (s *WorldArrowSnapshot) ToStorage(sto Storage, reg *SnapshotRegistry) error {
	return s.apply(sto, reg, nil, nil)
}

// ToStorageWithRemap restores into mapper-supplied entities, rewriting
// entity references through the registered hooks after in-arena
// construction and before the bulk insert.
func (s *WorldArrowSnapshot) ToStorageWithRemap(sto Storage, reg *SnapshotRegistry, ids *RemapRegistry, mapper EntityRemapper) error {
	return s.apply(sto, reg, ids, mapper)
}

func (s *WorldArrowSnapshot) apply(sto Storage, reg *SnapshotRegistry, ids *RemapRegistry, mapper EntityRemapper) error {
	if mapper == nil {
		var max int
		for _, e := range s.Entities {
			if int(e)+1 > max {
				max = int(e) + 1
			}
		}
		for _, table := range s.Archetypes {
			for _, e := range table.Entities() {
				if int(e)+1 > max {
					max = int(e) + 1
				}
			}
		}
		if err := sto.EnsureEntities(max); err != nil {
			return err
		}
	}

	buf := NewCommandBuffer()
	defer buf.Close()
	arena := NewArena()
	defer arena.Reset()

	for _, table := range s.Archetypes {
		type stagedColumn struct {
			codec *ComponentCodec
			boxes []ArenaBox
		}
		var staged []stagedColumn
		for _, name := range table.ColumnNames() {
			codec, ok := reg.Codec(name)
			if !ok || codec.arrow == nil {
				logger.WithField("type", name).Warn("column cannot be converted; skipped")
				continue
			}
			col, _ := table.Column(name)
			boxes, err := codec.arrow.DynColumnCtor(col, arena)
			if err != nil {
				return err
			}
			staged = append(staged, stagedColumn{codec: codec, boxes: boxes})
		}

		for i, idx := range table.Entities() {
			var target Entity
			if mapper != nil {
				mapped, ok := mapper.Map(idx)
				if !ok || mapped == nil || !mapped.Valid() {
					logger.WithField("entity", idx).Debug("unmapped entity skipped")
					continue
				}
				target = mapped
			} else {
				e, err := sto.Entity(int(idx) + 1)
				if err != nil {
					return InvalidEntityIDError{ID: uint32(idx)}
				}
				target = e
			}

			for _, sc := range staged {
				if i >= len(sc.boxes) {
					return ArrowError{Err: GenericError{Msg: "column shorter than entity list"}}
				}
				box := sc.boxes[i]
				if mapper != nil {
					if hook, ok := ids.HookFor(sc.codec.typ); ok {
						hook(box.Value(), mapper)
					}
				}
				if sc.codec.mode.emplaceOnly() {
					buf.InsertIfNew(target, sc.codec.comp, box)
				} else {
					buf.Insert(target, sc.codec.comp, box)
				}
			}
		}
		if err := buf.Apply(sto); err != nil {
			return err
		}
		arena.Reset()
	}

	return loadResourceBlobs(s.Resources, sto, reg)
}
