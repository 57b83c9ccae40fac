package freight

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

// TestSparseEntityList tests range compression round trips
func TestSparseEntityList(t *testing.T) {
	tests := []struct {
		name     string
		input    []EntityID
		segments int
	}{
		{name: "empty", input: nil, segments: 0},
		{name: "single", input: []EntityID{42}, segments: 1},
		{name: "contiguous run", input: []EntityID{0, 1, 2, 3}, segments: 1},
		{name: "mixed", input: []EntityID{0, 1, 2, 9, 11, 12}, segments: 3},
		{name: "unsorted input", input: []EntityID{5, 1, 2, 0}, segments: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := SparseFromUnsorted(tt.input)
			if len(list.Segments) != tt.segments {
				t.Errorf("segments = %d, want %d", len(list.Segments), tt.segments)
			}
			back := list.ToSlice()
			sorted := append([]EntityID(nil), tt.input...)
			for i := 1; i < len(sorted); i++ {
				for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
					sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
				}
			}
			if len(back) != len(sorted) {
				t.Fatalf("ToSlice = %v, want %v", back, sorted)
			}
			for i := range sorted {
				if back[i] != sorted[i] {
					t.Errorf("ToSlice = %v, want %v", back, sorted)
				}
			}
		})
	}
}

// TestMsgPackArchiveRoundTrip tests the row-oriented binary archive,
// including a Placeholder tag whose payload bytes stay absent
func TestMsgPackArchiveRoundTrip(t *testing.T) {
	registry := NewSnapshotRegistry()
	RegisterComponentMode[Tag](registry, ModePlaceholder)
	RegisterComponent[Position](registry)

	tagComp := FactoryNewComponent[Tag]()
	posComp := FactoryNewComponent[Position]()

	storage := Factory.NewStorage()
	storage.NewEntities(3, tagComp)
	entities, _ := storage.NewEntities(1, posComp)
	posComp.GetFromEntity(entities[0]).X = 11

	archive, err := CreateMsgPackArchive(storage, registry)
	if err != nil {
		t.Fatal(err)
	}

	// Tag cells travel as nulls: the blob carries no payload bytes
	var tagArch ArchetypeSnapshot
	if err := msgpack.Unmarshal(archive.snap.Archetypes[0], &tagArch); err != nil {
		t.Fatal(err)
	}
	if tagArch.ComponentTypes[0] != "Tag" {
		t.Fatalf("unexpected blob order: %v", tagArch.ComponentTypes)
	}
	for _, cell := range tagArch.Columns[0] {
		if cell != nil {
			t.Errorf("tag cell = %v, want null", cell)
		}
	}

	restored := Factory.NewStorage()
	if err := archive.Apply(restored, registry); err != nil {
		t.Fatal(err)
	}
	tagged := 0
	for _, e := range restored.Entities() {
		if tagComp.CheckEntity(e) {
			tagged++
		}
	}
	if tagged != 3 {
		t.Errorf("tagged entities = %d, want 3", tagged)
	}
	e4, _ := restored.Entity(4)
	if got := posComp.GetFromEntity(e4); got.X != 11 {
		t.Errorf("position = %+v", got)
	}
}

// TestMsgPackArchiveFileIO tests save_to/load_from
func TestMsgPackArchiveFileIO(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()
	entities, _ := storage.NewEntities(1, posComp)
	posComp.GetFromEntity(entities[0]).X = 1

	archive, err := CreateMsgPackArchive(storage, registry)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "world.msgpack")
	if err := archive.SaveTo(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadMsgPackArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded.Entities(), []EntityID{0}) {
		t.Errorf("entities = %v", loaded.Entities())
	}

	restored := Factory.NewStorage()
	if err := loaded.Apply(restored, registry); err != nil {
		t.Fatal(err)
	}
	e, _ := restored.Entity(1)
	if got := posComp.GetFromEntity(e); got.X != 1 {
		t.Errorf("position = %+v", got)
	}
}

// TestBinaryFormatMismatchPanics tests the structural-error policy for
// mislabeled envelopes
func TestBinaryFormatMismatchPanics(t *testing.T) {
	storage, registry := newTestWorld(t)
	storage.NewEntities(1, FactoryNewComponent[Position]())

	archive, err := CreateMsgPackArchive(storage, registry)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "world.msgpack")
	if err := archive.SaveTo(path); err != nil {
		t.Fatal(err)
	}

	// Reopen the same bytes as the parquet-columned archive
	mislabeled, err := LoadBinaryArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for format mismatch")
		}
	}()
	_ = mislabeled.Apply(Factory.NewStorage(), registry)
}

// TestBinaryArchiveParquetRoundTrip tests the columnar binary archive
func TestBinaryArchiveParquetRoundTrip(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()
	healthComp := FactoryNewComponent[Health]()
	entities, _ := storage.NewEntities(3, posComp, healthComp)
	for i, e := range entities {
		posComp.GetFromEntity(e).X = float32(i)
		healthComp.GetFromEntity(e).Max = 100 + i
	}

	archive, err := CreateBinaryArchive(storage, registry)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "world.parquet")
	if err := archive.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadBinaryArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	restored := Factory.NewStorage()
	if err := loaded.Apply(restored, registry); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		e, err := restored.Entity(i)
		if err != nil {
			t.Fatal(err)
		}
		if got := posComp.GetFromEntity(e); got.X != float32(i-1) {
			t.Errorf("entity %d position = %+v", i, got)
		}
		if got := healthComp.GetFromEntity(e); got.Max != 100+(i-1) {
			t.Errorf("entity %d health = %+v", i, got)
		}
	}
}

// TestArrowSnapshotZipBundle tests the bundled binary ZIP layout
func TestArrowSnapshotZipBundle(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()
	entities, _ := storage.NewEntities(2, posComp)
	posComp.GetFromEntity(entities[0]).Y = 8

	snap, err := SaveWorldArrowSnapshot(storage, registry)
	if err != nil {
		t.Fatal(err)
	}
	snap.Meta["app"] = "freight-test"

	data, err := snap.ToZip()
	if err != nil {
		t.Fatal(err)
	}

	back, err := ArrowSnapshotFromZip(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.Meta["app"] != "freight-test" {
		t.Errorf("meta = %v", back.Meta)
	}
	restored := Factory.NewStorage()
	if err := back.ToStorage(restored, registry); err != nil {
		t.Fatal(err)
	}
	e, _ := restored.Entity(1)
	if got := posComp.GetFromEntity(e); got.Y != 8 {
		t.Errorf("position = %+v", got)
	}
}
