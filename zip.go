package freight

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// zipManifestName is the manifest's fixed location inside a container
const zipManifestName = "manifest.toml"

// ZipBlobLoader resolves a manifest's file:// sources against the entries
// of a ZIP archive
type ZipBlobLoader struct {
	files map[string][]byte
}

// NewZipBlobLoader reads every archive entry into memory
func NewZipBlobLoader(r *zip.Reader) (*ZipBlobLoader, error) {
	loader := &ZipBlobLoader{files: make(map[string][]byte)}
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		loader.files[f.Name] = data
	}
	return loader, nil
}

// Load implements BlobLoader. Paths resolve against the archive root.
func (l *ZipBlobLoader) Load(path string) ([]byte, error) {
	path = strings.TrimPrefix(path, "/")
	data, ok := l.files[path]
	if !ok {
		return nil, GenericError{Msg: "no archive entry " + path}
	}
	return data, nil
}

// ZipArchive bundles a manifest and its archetype blobs into one container.
// The manifest sits at the archive root; blobs live under caller-chosen
// virtual paths.
type ZipArchive struct {
	manifest *AuroraManifest
	blobs    map[string][]byte
}

// Manifest exposes the archive's index
func (a *ZipArchive) Manifest() *AuroraManifest {
	return a.manifest
}

// CreateZipArchive captures the world. Without guidance every archetype is
// written as an external payload under archetypes/ in the configured default
// embed format (CSV unless changed).
func CreateZipArchive(sto Storage, reg *SnapshotRegistry, guidance *ExportGuidance) (*ZipArchive, error) {
	snap, err := SaveWorldSnapshot(sto, reg)
	if err != nil {
		return nil, err
	}
	if guidance == nil {
		guidance = &ExportGuidance{}
		for i := range snap.Archetypes {
			format := Config.defaultEmbedFormat
			guidance.SetStrategyFor(i, OutputStrategy{
				Kind:   StrategyReturn,
				Format: format,
				Path:   fmt.Sprintf("archetypes/arch_%d%s", i, format.Ext()),
			})
		}
	}
	manifest, sidecar, err := ManifestFromSnapshot(snap, reg, guidance)
	if err != nil {
		return nil, err
	}
	return &ZipArchive{manifest: manifest, blobs: sidecar}, nil
}

// Apply restores the archive into the world through the deferred builder
func (a *ZipArchive) Apply(sto Storage, reg *SnapshotRegistry) error {
	snap, err := SnapshotFromManifest(a.manifest, reg, &ZipBlobLoader{files: a.blobs})
	if err != nil {
		return err
	}
	return LoadWorldSnapshotDefragment(sto, snap, reg)
}

// ApplyWithRemap restores into mapper-supplied entities
func (a *ZipArchive) ApplyWithRemap(sto Storage, reg *SnapshotRegistry, ids *RemapRegistry, mapper EntityRemapper) error {
	snap, err := SnapshotFromManifest(a.manifest, reg, &ZipBlobLoader{files: a.blobs})
	if err != nil {
		return err
	}
	return LoadWorldSnapshotWithRemap(sto, snap, reg, ids, mapper)
}

// Entities lists the entity indices the archive addresses
func (a *ZipArchive) Entities() []EntityID {
	snap, err := SnapshotFromManifest(a.manifest, NewSnapshotRegistry(), &ZipBlobLoader{files: a.blobs})
	if err != nil {
		return nil
	}
	return snap.Entities
}

// LoadResources imports only the manifest's resource values
func (a *ZipArchive) LoadResources(sto Storage, reg *SnapshotRegistry) error {
	return LoadWorldResources(a.manifest.World.Resources, sto, reg)
}

// Bytes serializes the container in memory
func (a *ZipArchive) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	mw, err := zw.Create(zipManifestName)
	if err != nil {
		return nil, err
	}
	content, err := toml.Marshal(a.manifest)
	if err != nil {
		return nil, GenericError{Msg: "manifest encode failed", Err: err}
	}
	if _, err := mw.Write(content); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(a.blobs))
	for path := range a.blobs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		w, err := zw.Create(path)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(a.blobs[path]); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveTo writes the container to a file
func (a *ZipArchive) SaveTo(path string) error {
	data, err := a.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ZipArchiveFromBytes reopens a container from its raw bytes
func ZipArchiveFromBytes(data []byte) (*ZipArchive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	loader, err := NewZipBlobLoader(zr)
	if err != nil {
		return nil, err
	}
	manifestBytes, err := loader.Load(zipManifestName)
	if err != nil {
		return nil, GenericError{Msg: "manifest.toml missing in archive", Err: err}
	}
	manifest, err := ParseManifest(manifestBytes, ManifestTOML)
	if err != nil {
		return nil, err
	}
	delete(loader.files, zipManifestName)
	return &ZipArchive{manifest: manifest, blobs: loader.files}, nil
}

// LoadZipArchive reads a container from a file
func LoadZipArchive(path string) (*ZipArchive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ZipArchiveFromBytes(data)
}

// ToZip writes the bundled binary layout: meta.toml, entities.msgpack,
// resources/<name>.msgpack, and archetypes/arch_<N>.parquet
func (s *WorldArrowSnapshot) ToZip() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	meta, err := toml.Marshal(s.Meta)
	if err != nil {
		return nil, GenericError{Msg: "meta encode failed", Err: err}
	}
	if err := writeZipEntry(zw, "meta.toml", meta); err != nil {
		return nil, err
	}

	entities, err := msgpack.Marshal(SparseFromUnsorted(s.Entities))
	if err != nil {
		return nil, GenericError{Msg: "entity list encode failed", Err: err}
	}
	if err := writeZipEntry(zw, "entities.msgpack", entities); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(s.Resources))
	for name := range s.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeZipEntry(zw, "resources/"+name+".msgpack", s.Resources[name]); err != nil {
			return nil, err
		}
	}

	for i, table := range s.Archetypes {
		blob, err := table.ToParquet()
		if err != nil {
			return nil, err
		}
		if err := writeZipEntry(zw, fmt.Sprintf("archetypes/arch_%d.parquet", i), blob); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ArrowSnapshotFromZip reads the bundled binary layout back
func ArrowSnapshotFromZip(data []byte) (*WorldArrowSnapshot, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	loader, err := NewZipBlobLoader(zr)
	if err != nil {
		return nil, err
	}

	out := &WorldArrowSnapshot{
		Resources: make(map[string]BinBlob),
		Meta:      make(map[string]string),
	}

	if meta, err := loader.Load("meta.toml"); err == nil {
		if err := toml.Unmarshal(meta, &out.Meta); err != nil {
			return nil, DecodeError{TypeName: "meta.toml", Err: err}
		}
	}

	entities, err := loader.Load("entities.msgpack")
	if err != nil {
		return nil, err
	}
	var sparse SparseEntityList
	if err := msgpack.Unmarshal(entities, &sparse); err != nil {
		return nil, DecodeError{TypeName: "entities.msgpack", Err: err}
	}
	out.Entities = sparse.ToSlice()

	var archNames []string
	for name := range loader.files {
		switch {
		case strings.HasPrefix(name, "resources/") && strings.HasSuffix(name, ".msgpack"):
			key := strings.TrimSuffix(strings.TrimPrefix(name, "resources/"), ".msgpack")
			out.Resources[key] = loader.files[name]
		case strings.HasPrefix(name, "archetypes/") && strings.HasSuffix(name, ".parquet"):
			archNames = append(archNames, name)
		}
	}
	sort.Strings(archNames)
	for _, name := range archNames {
		table, err := ComponentTableFromParquet(loader.files[name])
		if err != nil {
			return nil, err
		}
		out.Archetypes = append(out.Archetypes, table)
	}
	return out, nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
