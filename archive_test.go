package freight

import (
	"path/filepath"
	"testing"
)

// TestJsonArchiveScenario tests the basic JSON save/load scenario:
// (Position, Velocity) and (Position) entities land in two archetypes
func TestJsonArchiveScenario(t *testing.T) {
	storage, registry := newTestWorld(t)
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()

	pair, _ := storage.NewEntities(1, posComp, velComp)
	pos := posComp.GetFromEntity(pair[0])
	pos.X, pos.Y = 1, 2
	vel := velComp.GetFromEntity(pair[0])
	vel.DX, vel.DY = 0.1, -0.2

	solo, _ := storage.NewEntities(1, posComp)
	soloPos := posComp.GetFromEntity(solo[0])
	soloPos.X, soloPos.Y = 9, 3.5

	path := filepath.Join(t.TempDir(), "world.json")
	if err := SaveWorldTo(storage, registry, path); err != nil {
		t.Fatal(err)
	}

	restored := Factory.NewStorage()
	if err := LoadWorldFrom(restored, registry, path); err != nil {
		t.Fatal(err)
	}

	if got := len(restored.Entities()); got != 2 {
		t.Fatalf("restored entities = %d, want 2", got)
	}
	if got := len(restored.Archetypes()); got != 2 {
		t.Errorf("archetype count = %d, want 2", got)
	}

	e1, _ := restored.Entity(1)
	if got := velComp.GetFromEntity(e1); got.DX != 0.1 || got.DY != -0.2 {
		t.Errorf("velocity = %+v", got)
	}
	e2, _ := restored.Entity(2)
	if velComp.CheckEntity(e2) {
		t.Error("solo entity gained velocity")
	}
	if got := posComp.GetFromEntity(e2); got.X != 9 || got.Y != 3.5 {
		t.Errorf("solo position = %+v", got)
	}
}

// TestDeferredBuildSingleArchetype tests that 100 empty spawns with 4
// buffered inserts each land in exactly one archetype
func TestDeferredBuildSingleArchetype(t *testing.T) {
	storage := Factory.NewStorage()
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	healthComp := FactoryNewComponent[Health]()
	labelComp := FactoryNewComponent[Label]()

	entities, err := storage.ReserveEntities(100)
	if err != nil {
		t.Fatal(err)
	}

	arena := NewArena()
	defer arena.Reset()
	buf := NewCommandBuffer()
	defer buf.Close()
	for i, e := range entities {
		pos := Position{X: float32(i)}
		vel := Velocity{DX: 1}
		health := Health{Current: i}
		label := Label{Value: "unit"}
		buf.Insert(e, posComp, arena.Alloc(&pos, nil))
		buf.Insert(e, velComp, arena.Alloc(&vel, nil))
		buf.Insert(e, healthComp, arena.Alloc(&health, nil))
		buf.Insert(e, labelComp, arena.Alloc(&label, nil))
	}
	if err := buf.Apply(storage); err != nil {
		t.Fatal(err)
	}

	if got := len(storage.Archetypes()); got != 1 {
		t.Errorf("archetype count = %d, want 1", got)
	}
	e50, _ := storage.Entity(50)
	if got := posComp.GetFromEntity(e50); got.X != 49 {
		t.Errorf("entity 50 position = %+v", got)
	}
}

// TestArchiveDispatchByExtension tests every facade format end to end
func TestArchiveDispatchByExtension(t *testing.T) {
	formats := []string{"world.json", "world.toml", "world.msgpack", "world.parquet", "world.zip"}

	for _, name := range formats {
		t.Run(name, func(t *testing.T) {
			storage, registry := newTestWorld(t)
			posComp := FactoryNewComponent[Position]()
			entities, _ := storage.NewEntities(2, posComp)
			posComp.GetFromEntity(entities[0]).X = 5
			posComp.GetFromEntity(entities[1]).X = 6

			path := filepath.Join(t.TempDir(), name)
			if err := SaveWorldTo(storage, registry, path); err != nil {
				t.Fatal(err)
			}

			restored := Factory.NewStorage()
			if err := LoadWorldFrom(restored, registry, path); err != nil {
				t.Fatal(err)
			}
			e1, err := restored.Entity(1)
			if err != nil {
				t.Fatal(err)
			}
			if got := posComp.GetFromEntity(e1); got.X != 5 {
				t.Errorf("entity 1 = %+v", got)
			}
			e2, err := restored.Entity(2)
			if err != nil {
				t.Fatal(err)
			}
			if got := posComp.GetFromEntity(e2); got.X != 6 {
				t.Errorf("entity 2 = %+v", got)
			}
		})
	}
}

// TestUnknownExtensionFails tests dispatch rejection
func TestUnknownExtensionFails(t *testing.T) {
	storage, registry := newTestWorld(t)
	if err := SaveWorldTo(storage, registry, "world.yaml"); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := LoadArchiveFrom("world.yaml"); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

// TestSnapshotArchiveResources tests resources traveling inside the JSON
// snapshot archive
func TestSnapshotArchiveResources(t *testing.T) {
	type WorldSeed struct {
		Value int `json:"value"`
	}
	storage, registry := newTestWorld(t)
	RegisterResource[WorldSeed](registry)
	storage.SetResource(&WorldSeed{Value: 77})
	storage.NewEntities(1, FactoryNewComponent[Position]())

	path := filepath.Join(t.TempDir(), "world.json")
	if err := SaveWorldTo(storage, registry, path); err != nil {
		t.Fatal(err)
	}

	restored := Factory.NewStorage()
	if err := LoadWorldFrom(restored, registry, path); err != nil {
		t.Fatal(err)
	}
	v, ok := restored.ResourceOf(typeOf[WorldSeed]())
	if !ok {
		t.Fatal("resource lost")
	}
	if v.(*WorldSeed).Value != 77 {
		t.Errorf("resource = %+v", v)
	}
}
