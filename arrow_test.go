package freight

import (
	"encoding/json"
	"reflect"
	"testing"
)

// TestArrowCodecColumnRoundTrip tests typed bulk export and import
func TestArrowCodecColumnRoundTrip(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()

	entities, _ := storage.NewEntities(3, posComp)
	for i, e := range entities {
		pos := posComp.GetFromEntity(e)
		pos.X, pos.Y = float32(i), float32(i)*2
	}

	codec, _ := registry.Codec("Position")
	if codec.Arrow() == nil {
		t.Fatal("Position should have an arrow codec")
	}

	col, err := codec.Arrow().ExportColumn(storage, entities)
	if err != nil {
		t.Fatal(err)
	}
	if col.Len() != 3 {
		t.Fatalf("column rows = %d", col.Len())
	}
	if len(col.Fields) != 2 || col.Fields[0].Name != "x" {
		t.Errorf("fields = %v", col.Fields)
	}

	restored := Factory.NewStorage()
	targets, _ := restored.ReserveEntities(3)
	if err := codec.Arrow().ImportColumn(col, restored, targets); err != nil {
		t.Fatal(err)
	}
	for i, e := range targets {
		got := posComp.GetFromEntity(e)
		if got.X != float32(i) || got.Y != float32(i)*2 {
			t.Errorf("entity %d = %+v", i, got)
		}
	}
}

// TestArrowDynColumnCtor tests the type-erased column constructor
func TestArrowDynColumnCtor(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()
	entities, _ := storage.NewEntities(2, posComp)
	posComp.GetFromEntity(entities[0]).X = 5

	codec, _ := registry.Codec("Position")
	col, err := codec.Arrow().ExportColumn(storage, entities)
	if err != nil {
		t.Fatal(err)
	}

	arena := NewArena()
	defer arena.Reset()
	boxes, err := codec.Arrow().DynColumnCtor(col, arena)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 2 {
		t.Fatalf("boxes = %d", len(boxes))
	}
	if got := boxes[0].Value().(*Position); got.X != 5 {
		t.Errorf("box value = %+v", got)
	}
}

// TestArrowCellConversion tests dynamic-cell <-> typed-column equivalence
func TestArrowCellConversion(t *testing.T) {
	_, registry := newTestWorld(t)
	codec, _ := registry.Codec("Position")

	cells := []any{
		map[string]any{"x": 1.0, "y": 2.0},
		map[string]any{"x": 3.0, "y": 4.0},
	}
	col, err := codec.Arrow().ColumnFromCells(cells)
	if err != nil {
		t.Fatal(err)
	}
	back, err := codec.Arrow().CellsFromColumn(col)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, cells) {
		t.Errorf("cells = %v, want %v", back, cells)
	}
}

// TestComponentTableRecordMangling tests field mangling, prefix metadata,
// and the schema-level type_mapping
func TestComponentTableRecordMangling(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()
	labelComp := FactoryNewComponent[Label]()

	entities, _ := storage.NewEntities(2, posComp, labelComp)
	posComp.GetFromEntity(entities[0]).X = 1

	table := NewComponentTable()
	table.SetEntities([]EntityID{0, 1})
	for _, name := range []string{"Position", "Label"} {
		codec, _ := registry.Codec(name)
		col, err := codec.Arrow().ExportColumn(storage, entities)
		if err != nil {
			t.Fatal(err)
		}
		table.InsertColumn(name, col)
	}

	rec, err := table.ToRecord()
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Release()

	schema := rec.Schema()
	names := make([]string, 0)
	for _, f := range schema.Fields() {
		names = append(names, f.Name)
	}
	// Single-field schemas collapse to the bare type name
	want := []string{"id", "Label", "Position.x", "Position.y"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("record fields = %v, want %v", names, want)
	}

	// Every component field carries its owning type in prefix metadata
	for _, f := range schema.Fields()[1:] {
		idx := f.Metadata.FindKey("prefix")
		if idx < 0 {
			t.Errorf("field %s missing prefix metadata", f.Name)
		}
	}

	// Schema metadata carries the field grouping
	md := schema.Metadata()
	idx := md.FindKey("type_mapping")
	if idx < 0 {
		t.Fatal("type_mapping missing")
	}
	var mapping map[string][]string
	if err := json.Unmarshal([]byte(md.Values()[idx]), &mapping); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(mapping["Position"], []string{"Position.x", "Position.y"}) {
		t.Errorf("type_mapping[Position] = %v", mapping["Position"])
	}
	if !reflect.DeepEqual(mapping["Label"], []string{"Label"}) {
		t.Errorf("type_mapping[Label] = %v", mapping["Label"])
	}

	// Inversion restores the unmangled grouping
	back, err := ComponentTableFromRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back.Entities(), []EntityID{0, 1}) {
		t.Errorf("entities = %v", back.Entities())
	}
	posCol, ok := back.Column("Position")
	if !ok {
		t.Fatal("Position column lost")
	}
	if posCol.Fields[0].Name != "x" {
		t.Errorf("unmangled field = %q", posCol.Fields[0].Name)
	}

	// The collapsed single-field column comes back anonymous and still
	// decodes through positional alignment
	labelCol, ok := back.Column("Label")
	if !ok {
		t.Fatal("Label column lost")
	}
	if labelCol.Fields[0].Name != "" {
		t.Errorf("collapsed field name = %q, want anonymous", labelCol.Fields[0].Name)
	}
	labelCodec, _ := registry.Codec("Label")
	cells, err := labelCodec.Arrow().CellsFromColumn(labelCol)
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 2 {
		t.Fatalf("label cells = %d", len(cells))
	}
}

// TestParquetTableRoundTrip tests parquet byte round trips
func TestParquetTableRoundTrip(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()
	entities, _ := storage.NewEntities(2, posComp)
	posComp.GetFromEntity(entities[0]).X = 1.25

	codec, _ := registry.Codec("Position")
	col, err := codec.Arrow().ExportColumn(storage, entities)
	if err != nil {
		t.Fatal(err)
	}
	table := NewComponentTable()
	table.SetEntities([]EntityID{0, 1})
	table.InsertColumn("Position", col)

	blob, err := table.ToParquet()
	if err != nil {
		t.Fatal(err)
	}
	back, err := ComponentTableFromParquet(blob)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back.Entities(), []EntityID{0, 1}) {
		t.Errorf("entities = %v", back.Entities())
	}
	posCol, ok := back.Column("Position")
	if !ok {
		t.Fatal("Position column lost")
	}
	cells, err := codec.Arrow().CellsFromColumn(posCol)
	if err != nil {
		t.Fatal(err)
	}
	first := cells[0].(map[string]any)
	if first["x"] != 1.25 {
		t.Errorf("cells = %v", cells)
	}
}

// TestColumnarDynParquetEquivalence tests that the dynamic-value path and
// the Arrow path produce identical world state after load
func TestColumnarDynParquetEquivalence(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()
	healthComp := FactoryNewComponent[Health]()
	entities, _ := storage.NewEntities(4, posComp, healthComp)
	for i, e := range entities {
		posComp.GetFromEntity(e).X = float32(i) * 1.5
		healthComp.GetFromEntity(e).Current = i
	}

	// Dynamic-value path
	snap, err := SaveWorldSnapshot(storage, registry)
	if err != nil {
		t.Fatal(err)
	}
	dynWorld := Factory.NewStorage()
	if err := LoadWorldSnapshotDefragment(dynWorld, snap, registry); err != nil {
		t.Fatal(err)
	}

	// Arrow path
	arrowSnap, err := SaveWorldArrowSnapshot(storage, registry)
	if err != nil {
		t.Fatal(err)
	}
	arrowWorld := Factory.NewStorage()
	if err := arrowSnap.ToStorage(arrowWorld, registry); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 4; i++ {
		a, _ := dynWorld.Entity(i)
		b, _ := arrowWorld.Entity(i)
		if *posComp.GetFromEntity(a) != *posComp.GetFromEntity(b) {
			t.Errorf("entity %d position differs between paths", i)
		}
		if *healthComp.GetFromEntity(a) != *healthComp.GetFromEntity(b) {
			t.Errorf("entity %d health differs between paths", i)
		}
	}
}
