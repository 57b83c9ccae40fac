package freight

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// ArchiveFormat names the encoding of one archetype blob
type ArchiveFormat string

const (
	FormatCSV        ArchiveFormat = "csv"
	FormatJSON       ArchiveFormat = "json"
	FormatMsgPack    ArchiveFormat = "msgpack"
	FormatCSVMsgPack ArchiveFormat = "csv.msgpack"
	FormatParquet    ArchiveFormat = "parquet"
	FormatUnknown    ArchiveFormat = ""
)

// FormatFromPath selects a blob format from a file extension
func FormatFromPath(path string) ArchiveFormat {
	switch {
	case strings.HasSuffix(path, ".csv.msgpack"):
		return FormatCSVMsgPack
	case strings.HasSuffix(path, ".csv"):
		return FormatCSV
	case strings.HasSuffix(path, ".json"):
		return FormatJSON
	case strings.HasSuffix(path, ".msgpack"):
		return FormatMsgPack
	case strings.HasSuffix(path, ".parquet"):
		return FormatParquet
	}
	return FormatUnknown
}

// FormatFromString parses an explicit format field
func FormatFromString(s string) ArchiveFormat {
	switch ArchiveFormat(s) {
	case FormatCSV, FormatJSON, FormatMsgPack, FormatCSVMsgPack, FormatParquet:
		return ArchiveFormat(s)
	}
	return FormatUnknown
}

// Binary reports whether blobs of this format are raw bytes (base64 inside
// a manifest) rather than UTF-8 text
func (f ArchiveFormat) Binary() bool {
	switch f {
	case FormatMsgPack, FormatCSVMsgPack, FormatParquet:
		return true
	}
	return false
}

// Ext returns the file extension for the format
func (f ArchiveFormat) Ext() string {
	return "." + string(f)
}

// LocationKind tags a manifest source URL scheme
type LocationKind int

const (
	LocUnknown LocationKind = iota
	LocFile
	LocEmbed
)

// Location is a parsed manifest source URL
type Location struct {
	Kind LocationKind
	Path string
}

// ParseSource parses `embed://name` and `file://path` URLs. Any other
// scheme is a decode error at load time.
func ParseSource(s string) Location {
	if rest, ok := strings.CutPrefix(s, "file://"); ok {
		return Location{Kind: LocFile, Path: rest}
	}
	if rest, ok := strings.CutPrefix(s, "embed://"); ok {
		return Location{Kind: LocEmbed, Path: rest}
	}
	return Location{Kind: LocUnknown, Path: s}
}

// EmbeddedBlob is a manifest-inline payload: UTF-8 text for text formats,
// base64 for binary formats
type EmbeddedBlob struct {
	Format string `toml:"format" json:"format"`
	Data   string `toml:"data" json:"data"`
}

// ArchetypeSpec indexes one archetype: its component names, optional
// storage hints, and where its data lives
type ArchetypeSpec struct {
	Name       string        `toml:"name,omitempty" json:"name,omitempty"`
	Components []string      `toml:"components" json:"components"`
	Storage    []StorageHint `toml:"storage,omitempty" json:"storage,omitempty"`
	Source     string        `toml:"source" json:"source"`
}

// WorldAurora is the manifest's world section
type WorldAurora struct {
	Version    string                  `toml:"version" json:"version"`
	Name       string                  `toml:"name,omitempty" json:"name,omitempty"`
	Archetypes []ArchetypeSpec         `toml:"archetypes" json:"archetypes"`
	Embed      map[string]EmbeddedBlob `toml:"embed,omitempty" json:"embed,omitempty"`
	Resources  map[string]any          `toml:"resources,omitempty" json:"resources,omitempty"`
}

// AuroraManifest is the top-level declarative index of a saved world
type AuroraManifest struct {
	Metadata map[string]any `toml:"metadata,omitempty" json:"metadata,omitempty"`
	World    WorldAurora    `toml:"world" json:"world"`
}

// ManifestVersion is written into every saved manifest
const ManifestVersion = "0.1"

// BlobLoader yields raw bytes for a manifest's file:// sources
type BlobLoader interface {
	Load(path string) ([]byte, error)
}

// DirBlobLoader resolves relative paths against a base directory
type DirBlobLoader struct {
	Base string
}

// Load implements BlobLoader
func (l DirBlobLoader) Load(path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.Base, path)
	}
	return os.ReadFile(path)
}

// StrategyKind selects where an archetype blob is emitted
type StrategyKind int

const (
	// StrategyEmbed puts the blob inside the manifest
	StrategyEmbed StrategyKind = iota
	// StrategyFile writes the blob to disk in the strategy's Path directory
	// and records a file:// source naming the file, which the loader
	// resolves against the manifest's directory
	StrategyFile
	// StrategyReturn hands the blob back in a side-channel map, for ZIP
	// builders and other container writers
	StrategyReturn
)

// OutputStrategy describes how one archetype's blob is stored
type OutputStrategy struct {
	Kind   StrategyKind
	Format ArchiveFormat
	// Path is the base directory for StrategyFile and the virtual path for
	// StrategyReturn
	Path string
}

// ExportGuidance assigns per-archetype output strategies, with a default
// covering unspecified archetypes
type ExportGuidance struct {
	Default     OutputStrategy
	byArchetype map[int]OutputStrategy
}

// EmbedAll is guidance that embeds every archetype in the given format
func EmbedAll(format ArchiveFormat) *ExportGuidance {
	return &ExportGuidance{Default: OutputStrategy{Kind: StrategyEmbed, Format: format}}
}

// SetStrategyFor overrides the strategy for one archetype index
func (g *ExportGuidance) SetStrategyFor(index int, strategy OutputStrategy) {
	if g.byArchetype == nil {
		g.byArchetype = make(map[int]OutputStrategy)
	}
	g.byArchetype[index] = strategy
}

func (g *ExportGuidance) strategyFor(index int) OutputStrategy {
	if s, ok := g.byArchetype[index]; ok {
		return s
	}
	return g.Default
}

// encodeArchetypeBlob serializes one archetype snapshot in the given format
func encodeArchetypeBlob(arch *ArchetypeSnapshot, format ArchiveFormat, reg *SnapshotRegistry) ([]byte, error) {
	switch format {
	case FormatCSV:
		var buf bytes.Buffer
		if err := columnarFromSnapshot(arch, !Config.strictCSVScan).WriteCSV(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		return json.Marshal(arch)
	case FormatMsgPack:
		return msgpack.Marshal(arch)
	case FormatCSVMsgPack:
		csv := columnarFromSnapshot(arch, !Config.strictCSVScan)
		return msgpack.Marshal(csvEnvelope{
			Headers:  csv.Headers,
			Columns:  csv.Columns,
			RowIndex: csv.RowIndex,
		})
	case FormatParquet:
		table, err := componentTableFromSnapshot(arch, reg)
		if err != nil {
			return nil, err
		}
		return table.ToParquet()
	}
	return nil, GenericError{Msg: "cannot encode unknown format"}
}

// decodeArchetypeBlob parses blob bytes back into an archetype snapshot
func decodeArchetypeBlob(data []byte, format ArchiveFormat, reg *SnapshotRegistry) (*ArchetypeSnapshot, error) {
	switch format {
	case FormatCSV:
		csv, err := ReadColumnarCsv(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return csv.ToSnapshot(), nil
	case FormatJSON:
		var arch ArchetypeSnapshot
		if err := json.Unmarshal(data, &arch); err != nil {
			return nil, DecodeError{TypeName: "ArchetypeSnapshot", Err: err}
		}
		return &arch, nil
	case FormatMsgPack:
		var arch ArchetypeSnapshot
		if err := msgpack.Unmarshal(data, &arch); err != nil {
			return nil, DecodeError{TypeName: "ArchetypeSnapshot", Err: err}
		}
		normalizeSnapshotCells(&arch)
		return &arch, nil
	case FormatCSVMsgPack:
		var env csvEnvelope
		if err := msgpack.Unmarshal(data, &env); err != nil {
			return nil, DecodeError{TypeName: "ColumnarCsv", Err: err}
		}
		csv := NewColumnarCsv()
		if err := csv.AppendColumns(env.Headers...); err != nil {
			return nil, err
		}
		csv.RowIndex = env.RowIndex
		for i := range csv.Columns {
			csv.Columns[i] = env.Columns[i]
			for j, cell := range csv.Columns[i] {
				csv.Columns[i][j] = normalizeDyn(cell)
			}
		}
		return csv.ToSnapshot(), nil
	case FormatParquet:
		table, err := ComponentTableFromParquet(data)
		if err != nil {
			return nil, err
		}
		return snapshotFromComponentTable(table, reg)
	}
	return nil, GenericError{Msg: "cannot parse unknown format"}
}

// csvEnvelope is the msgpack wire form of a columnar CSV table
type csvEnvelope struct {
	Headers  []string   `msgpack:"headers"`
	Columns  [][]any    `msgpack:"columns"`
	RowIndex []EntityID `msgpack:"row_index"`
}

// componentTableFromSnapshot lifts dynamic-value columns into typed Arrow
// columns. Types without an Arrow codec are skipped with a diagnostic.
func componentTableFromSnapshot(arch *ArchetypeSnapshot, reg *SnapshotRegistry) (*ComponentTable, error) {
	table := NewComponentTable()
	table.SetEntities(append([]EntityID(nil), arch.Entities...))
	for i, name := range arch.ComponentTypes {
		codec, ok := reg.Codec(name)
		if !ok || codec.arrow == nil {
			logger.WithField("type", name).Warn("no arrow codec; column skipped in parquet blob")
			continue
		}
		col, err := codec.arrow.ColumnFromCells(arch.Columns[i])
		if err != nil {
			return nil, err
		}
		table.InsertColumn(name, col)
	}
	return table, nil
}

// snapshotFromComponentTable lowers typed Arrow columns back to
// dynamic-value cells
func snapshotFromComponentTable(table *ComponentTable, reg *SnapshotRegistry) (*ArchetypeSnapshot, error) {
	snap := &ArchetypeSnapshot{}
	snap.Entities = append([]EntityID(nil), table.Entities()...)
	for _, name := range table.ColumnNames() {
		codec, ok := reg.Codec(name)
		if !ok || codec.arrow == nil {
			logger.WithField("type", name).Warn("no arrow codec; column skipped on load")
			continue
		}
		col, _ := table.Column(name)
		cells, err := codec.arrow.CellsFromColumn(col)
		if err != nil {
			return nil, err
		}
		snap.AddType(name, HintTable)
		idx, _ := snap.ColumnIndex(name)
		snap.Columns[idx] = cells
	}
	return snap, nil
}

// ManifestFromWorld captures the world into a manifest following the
// export guidance. The returned side-channel map carries blobs for
// StrategyReturn archetypes, keyed by virtual path.
func ManifestFromWorld(sto Storage, reg *SnapshotRegistry, guidance *ExportGuidance) (*AuroraManifest, map[string][]byte, error) {
	snap, err := SaveWorldSnapshot(sto, reg)
	if err != nil {
		return nil, nil, err
	}
	return ManifestFromSnapshot(snap, reg, guidance)
}

// ManifestFromSnapshot converts a world snapshot into a manifest per the
// export guidance
func ManifestFromSnapshot(snap *WorldSnapshot, reg *SnapshotRegistry, guidance *ExportGuidance) (*AuroraManifest, map[string][]byte, error) {
	if guidance == nil {
		guidance = EmbedAll(Config.defaultEmbedFormat)
	}
	world := WorldAurora{
		Version:   ManifestVersion,
		Embed:     make(map[string]EmbeddedBlob),
		Resources: snap.Resources,
	}
	sidecar := make(map[string][]byte)

	for i, arch := range snap.Archetypes {
		if arch.IsEmpty() {
			continue
		}
		strategy := guidance.strategyFor(i)
		blob, err := encodeArchetypeBlob(arch, strategy.Format, reg)
		if err != nil {
			return nil, nil, err
		}

		name := fmt.Sprintf("arch_%d", i)
		spec := ArchetypeSpec{
			Name:       name,
			Components: append([]string(nil), arch.ComponentTypes...),
		}

		switch strategy.Kind {
		case StrategyEmbed:
			data := string(blob)
			if strategy.Format.Binary() {
				data = base64.StdEncoding.EncodeToString(blob)
			}
			world.Embed[name] = EmbeddedBlob{Format: string(strategy.Format), Data: data}
			spec.Source = "embed://" + name
		case StrategyFile:
			fileName := name + strategy.Format.Ext()
			path := filepath.Join(strategy.Path, fileName)
			if err := os.WriteFile(path, blob, 0o644); err != nil {
				return nil, nil, err
			}
			spec.Source = "file://" + fileName
		case StrategyReturn:
			sidecar[strategy.Path] = blob
			spec.Source = "file://" + strategy.Path
		}
		world.Archetypes = append(world.Archetypes, spec)
	}

	return &AuroraManifest{World: world}, sidecar, nil
}

// SnapshotFromManifest fetches and parses every archetype blob, rebuilding
// the world snapshot. A missing embedded blob fails the whole load.
func SnapshotFromManifest(m *AuroraManifest, reg *SnapshotRegistry, loader BlobLoader) (*WorldSnapshot, error) {
	if loader == nil {
		loader = DirBlobLoader{Base: "."}
	}
	snap := &WorldSnapshot{Resources: m.World.Resources}

	for _, spec := range m.World.Archetypes {
		loc := ParseSource(spec.Source)
		var (
			data   []byte
			format ArchiveFormat
		)
		switch loc.Kind {
		case LocEmbed:
			blob, ok := m.World.Embed[loc.Path]
			if !ok {
				return nil, GenericError{Msg: "missing embedded blob " + loc.Path}
			}
			format = FormatFromString(blob.Format)
			if format.Binary() {
				decoded, err := base64.StdEncoding.DecodeString(blob.Data)
				if err != nil {
					return nil, DecodeError{TypeName: loc.Path, Err: err}
				}
				data = decoded
			} else {
				data = []byte(blob.Data)
			}
		case LocFile:
			raw, err := loader.Load(loc.Path)
			if err != nil {
				return nil, GenericError{Msg: "blob load failed for " + loc.Path, Err: err}
			}
			data = raw
			format = FormatFromPath(loc.Path)
		default:
			return nil, DecodeError{TypeName: spec.Source, Err: GenericError{Msg: "unsupported source scheme"}}
		}

		arch, err := decodeArchetypeBlob(data, format, reg)
		if err != nil {
			return nil, err
		}
		if len(spec.Storage) == len(arch.ComponentTypes) {
			arch.StorageHints = append([]StorageHint(nil), spec.Storage...)
		}
		snap.Archetypes = append(snap.Archetypes, arch)
	}

	snap.PurgeNull()
	return snap, nil
}

// ManifestOutputFormat selects the manifest's own encoding
type ManifestOutputFormat int

const (
	ManifestTOML ManifestOutputFormat = iota
	ManifestJSON
)

// WriteManifestFile writes the manifest in the given encoding
func WriteManifestFile(m *AuroraManifest, path string, format ManifestOutputFormat) error {
	var (
		content []byte
		err     error
	)
	switch format {
	case ManifestJSON:
		content, err = json.MarshalIndent(m, "", "  ")
	default:
		content, err = toml.Marshal(m)
	}
	if err != nil {
		return GenericError{Msg: "manifest encode failed", Err: err}
	}
	return os.WriteFile(path, content, 0o644)
}

// ReadManifestFile parses a manifest, guessing the encoding from the
// extension
func ReadManifestFile(path string) (*AuroraManifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseManifest(content, ManifestJSON)
	case ".toml":
		return ParseManifest(content, ManifestTOML)
	}
	return nil, GenericError{Msg: "cannot guess manifest format from extension: " + filepath.Ext(path)}
}

// ParseManifest decodes manifest bytes
func ParseManifest(content []byte, format ManifestOutputFormat) (*AuroraManifest, error) {
	var m AuroraManifest
	var err error
	switch format {
	case ManifestJSON:
		err = json.Unmarshal(content, &m)
	default:
		err = toml.Unmarshal(content, &m)
	}
	if err != nil {
		return nil, DecodeError{TypeName: "AuroraManifest", Err: err}
	}
	return &m, nil
}
