package freight

import (
	"path/filepath"
	"strings"
	"testing"
)

// TestZipHybridRoundTrip tests a ZIP container with one parquet and one
// CSV archetype payload
func TestZipHybridRoundTrip(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()

	entities, _ := storage.NewEntities(1, posComp, velComp)
	pos := posComp.GetFromEntity(entities[0])
	pos.X, pos.Y = 1, 2
	velComp.GetFromEntity(entities[0]).DX = 10

	soloEntities, _ := storage.NewEntities(1, posComp)
	solo := posComp.GetFromEntity(soloEntities[0])
	solo.X, solo.Y = 9, 3.5

	guidance := &ExportGuidance{}
	guidance.SetStrategyFor(0, OutputStrategy{Kind: StrategyReturn, Format: FormatParquet, Path: "data/pos_vel.parquet"})
	guidance.SetStrategyFor(1, OutputStrategy{Kind: StrategyReturn, Format: FormatCSV, Path: "data/pos.csv"})

	archive, err := CreateZipArchive(storage, registry, guidance)
	if err != nil {
		t.Fatal(err)
	}

	manifest := archive.Manifest()
	if got := len(manifest.World.Archetypes); got != 2 {
		t.Fatalf("manifest archetypes = %d, want 2", got)
	}
	if got := len(archive.blobs); got != 2 {
		t.Fatalf("external payloads = %d, want 2", got)
	}
	for _, spec := range manifest.World.Archetypes {
		if !strings.HasPrefix(spec.Source, "file://data/") {
			t.Errorf("source = %q", spec.Source)
		}
	}

	// Round trip through raw bytes
	data, err := archive.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := ZipArchiveFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}

	restored := Factory.NewStorage()
	if err := reopened.Apply(restored, registry); err != nil {
		t.Fatal(err)
	}

	e1, _ := restored.Entity(1)
	if got := posComp.GetFromEntity(e1); got.X != 1 || got.Y != 2 {
		t.Errorf("entity 1 position = %+v", got)
	}
	if got := velComp.GetFromEntity(e1); got.DX != 10 {
		t.Errorf("entity 1 velocity = %+v", got)
	}
	e2, _ := restored.Entity(2)
	if velComp.CheckEntity(e2) {
		t.Error("entity 2 should have no velocity")
	}
	if got := posComp.GetFromEntity(e2); got.X != 9 || got.Y != 3.5 {
		t.Errorf("entity 2 position = %+v", got)
	}
}

// TestZipFileIO tests the container's save_to/load_from path
func TestZipFileIO(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()
	entities, _ := storage.NewEntities(3, posComp)
	for i, e := range entities {
		posComp.GetFromEntity(e).X = float32(i)
	}

	path := filepath.Join(t.TempDir(), "world.zip")
	if err := SaveWorldTo(storage, registry, path); err != nil {
		t.Fatal(err)
	}

	restored := Factory.NewStorage()
	if err := LoadWorldFrom(restored, registry, path); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		e, err := restored.Entity(i)
		if err != nil {
			t.Fatal(err)
		}
		if got := posComp.GetFromEntity(e); got.X != float32(i-1) {
			t.Errorf("entity %d = %+v", i, got)
		}
	}
}
