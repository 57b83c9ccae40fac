package freight

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Archive is the uniform contract every persisted world form implements.
// Create-side constructors are per-format; everything after that is
// interchangeable.
type Archive interface {
	Apply(sto Storage, reg *SnapshotRegistry) error
	ApplyWithRemap(sto Storage, reg *SnapshotRegistry, ids *RemapRegistry, mapper EntityRemapper) error
	SaveTo(path string) error
	Entities() []EntityID
	LoadResources(sto Storage, reg *SnapshotRegistry) error
}

var (
	_ Archive = &SnapshotArchive{}
	_ Archive = &ManifestArchive{}
	_ Archive = &MsgPackArchive{}
	_ Archive = &BinaryArchive{}
	_ Archive = &ZipArchive{}
)

// SnapshotArchive is the plain text archive: the world snapshot itself,
// JSON on disk (entity-major TOML for .toml paths).
type SnapshotArchive struct {
	snap *WorldSnapshot
}

// CreateSnapshotArchive captures the world into an in-memory snapshot
func CreateSnapshotArchive(sto Storage, reg *SnapshotRegistry) (*SnapshotArchive, error) {
	snap, err := SaveWorldSnapshot(sto, reg)
	if err != nil {
		return nil, err
	}
	return &SnapshotArchive{snap: snap}, nil
}

// Snapshot exposes the archive's world snapshot
func (a *SnapshotArchive) Snapshot() *WorldSnapshot {
	return a.snap
}

// Apply restores the snapshot through the deferred builder
func (a *SnapshotArchive) Apply(sto Storage, reg *SnapshotRegistry) error {
	return LoadWorldSnapshotDefragment(sto, a.snap, reg)
}

// ApplyWithRemap walks the snapshot entity-major, importing each component
// into its mapped entity and rewriting entity references through the
// registered hooks afterwards.
func (a *SnapshotArchive) ApplyWithRemap(sto Storage, reg *SnapshotRegistry, ids *RemapRegistry, mapper EntityRemapper) error {
	list := a.snap.ToEntityList()
	for _, ev := range list.Entities {
		target, ok := mapper.Map(EntityID(ev.ID))
		if !ok || target == nil || !target.Valid() {
			logger.WithField("entity", ev.ID).Debug("unmapped entity skipped")
			continue
		}
		for _, cv := range ev.Components {
			codec, found := reg.Codec(cv.Type)
			if !found {
				logger.WithField("type", cv.Type).Warn("no codec; column skipped on load")
				continue
			}
			if err := codec.Import(cv.Value, sto, target); err != nil {
				logCellError(cv.Type, EntityID(ev.ID), err)
				continue
			}
			if hook, hooked := ids.HookFor(codec.typ); hooked {
				if ptr := codec.ptrTo(target); ptr != nil {
					hook(ptr, mapper)
				}
			}
		}
	}
	return LoadWorldResources(a.snap.Resources, sto, reg)
}

// Entities lists the entity indices the snapshot addresses
func (a *SnapshotArchive) Entities() []EntityID {
	return a.snap.Entities
}

// LoadResources imports only the snapshot's resource values
func (a *SnapshotArchive) LoadResources(sto Storage, reg *SnapshotRegistry) error {
	return LoadWorldResources(a.snap.Resources, sto, reg)
}

// SaveTo writes the snapshot: JSON by default, entity-major TOML for .toml
// paths (TOML carries no null cells, so the row form with omitted null
// values is the one that survives).
func (a *SnapshotArchive) SaveTo(path string) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		content, err := toml.Marshal(a.snap.ToEntityList())
		if err != nil {
			return GenericError{Msg: "snapshot encode failed", Err: err}
		}
		return os.WriteFile(path, content, 0o644)
	}
	content, err := json.Marshal(a.snap)
	if err != nil {
		return GenericError{Msg: "snapshot encode failed", Err: err}
	}
	return os.WriteFile(path, content, 0o644)
}

// LoadSnapshotArchive reads a snapshot file (JSON, or entity-major TOML)
func LoadSnapshotArchive(path string) (*SnapshotArchive, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var list EntityListSnapshot
		if err := toml.Unmarshal(content, &list); err != nil {
			return nil, DecodeError{TypeName: "EntityListSnapshot", Err: err}
		}
		return &SnapshotArchive{snap: FromEntityList(&list)}, nil
	}
	var snap WorldSnapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		return nil, DecodeError{TypeName: "WorldSnapshot", Err: err}
	}
	return &SnapshotArchive{snap: &snap}, nil
}

// ManifestArchive is the declarative-index archive: an Aurora manifest plus
// any external blobs it references.
type ManifestArchive struct {
	manifest *AuroraManifest
	sidecar  map[string][]byte
	baseDir  string
}

// CreateManifestArchive captures the world into a manifest per the export
// guidance (nil guidance embeds everything in the configured default
// format)
func CreateManifestArchive(sto Storage, reg *SnapshotRegistry, guidance *ExportGuidance) (*ManifestArchive, error) {
	manifest, sidecar, err := ManifestFromWorld(sto, reg, guidance)
	if err != nil {
		return nil, err
	}
	return &ManifestArchive{manifest: manifest, sidecar: sidecar, baseDir: "."}, nil
}

// Manifest exposes the archive's index
func (a *ManifestArchive) Manifest() *AuroraManifest {
	return a.manifest
}

func (a *ManifestArchive) loader() BlobLoader {
	if len(a.sidecar) > 0 {
		return &ZipBlobLoader{files: a.sidecar}
	}
	return DirBlobLoader{Base: a.baseDir}
}

func (a *ManifestArchive) decode(reg *SnapshotRegistry) (*WorldSnapshot, error) {
	return SnapshotFromManifest(a.manifest, reg, a.loader())
}

// Apply restores the manifest's world through the deferred builder
func (a *ManifestArchive) Apply(sto Storage, reg *SnapshotRegistry) error {
	snap, err := a.decode(reg)
	if err != nil {
		return err
	}
	return LoadWorldSnapshotDefragment(sto, snap, reg)
}

// ApplyWithRemap restores into mapper-supplied entities
func (a *ManifestArchive) ApplyWithRemap(sto Storage, reg *SnapshotRegistry, ids *RemapRegistry, mapper EntityRemapper) error {
	snap, err := a.decode(reg)
	if err != nil {
		return err
	}
	return LoadWorldSnapshotWithRemap(sto, snap, reg, ids, mapper)
}

// Entities lists the entity indices the manifest addresses
func (a *ManifestArchive) Entities() []EntityID {
	snap, err := a.decode(NewSnapshotRegistry())
	if err != nil {
		return nil
	}
	return snap.Entities
}

// LoadResources imports only the manifest's resource values
func (a *ManifestArchive) LoadResources(sto Storage, reg *SnapshotRegistry) error {
	return LoadWorldResources(a.manifest.World.Resources, sto, reg)
}

// SaveTo writes the manifest (TOML or JSON by extension) plus any sidecar
// blobs as sibling files
func (a *ManifestArchive) SaveTo(path string) error {
	format := ManifestTOML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = ManifestJSON
	}
	if err := WriteManifestFile(a.manifest, path, format); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	for blobPath, data := range a.sidecar {
		full := filepath.Join(dir, blobPath)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// LoadManifestArchive reads a manifest file; file:// sources resolve
// against the manifest's directory
func LoadManifestArchive(path string) (*ManifestArchive, error) {
	manifest, err := ReadManifestFile(path)
	if err != nil {
		return nil, err
	}
	return &ManifestArchive{manifest: manifest, baseDir: filepath.Dir(path)}, nil
}

// CreateArchiveFor builds the archive form matching the path's extension
func CreateArchiveFor(path string, sto Storage, reg *SnapshotRegistry) (Archive, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return CreateSnapshotArchive(sto, reg)
	case ".toml":
		return CreateManifestArchive(sto, reg, nil)
	case ".msgpack":
		return CreateMsgPackArchive(sto, reg)
	case ".parquet":
		return CreateBinaryArchive(sto, reg)
	case ".zip":
		return CreateZipArchive(sto, reg, nil)
	}
	return nil, GenericError{Msg: "no archive format for extension " + filepath.Ext(path)}
}

// LoadArchiveFrom opens the archive form matching the path's extension
func LoadArchiveFrom(path string) (Archive, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadSnapshotArchive(path)
	case ".toml":
		return LoadManifestArchive(path)
	case ".msgpack":
		return LoadMsgPackArchive(path)
	case ".parquet":
		return LoadBinaryArchive(path)
	case ".zip":
		return LoadZipArchive(path)
	}
	return nil, GenericError{Msg: "no archive format for extension " + filepath.Ext(path)}
}

// SaveWorldTo captures the world and writes it in the format the extension
// names
func SaveWorldTo(sto Storage, reg *SnapshotRegistry, path string) error {
	archive, err := CreateArchiveFor(path, sto, reg)
	if err != nil {
		return err
	}
	return archive.SaveTo(path)
}

// LoadWorldFrom reads an archive and restores it into the world
func LoadWorldFrom(sto Storage, reg *SnapshotRegistry, path string) error {
	archive, err := LoadArchiveFrom(path)
	if err != nil {
		return err
	}
	return archive.Apply(sto, reg)
}

// LoadWorldFromWithRemap reads an archive and restores it into
// mapper-supplied entities
func LoadWorldFromWithRemap(sto Storage, reg *SnapshotRegistry, path string, ids *RemapRegistry, mapper EntityRemapper) error {
	archive, err := LoadArchiveFrom(path)
	if err != nil {
		return err
	}
	return archive.ApplyWithRemap(sto, reg, ids, mapper)
}
