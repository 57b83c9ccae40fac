package freight

import (
	"fmt"
	"os"

	"github.com/TheBitDrifter/bark"
	"github.com/vmihailenco/msgpack/v5"
)

// SparseSegment is one run of a compressed entity-index list
type SparseSegment struct {
	Start EntityID `msgpack:"start" json:"start"`
	End   EntityID `msgpack:"end" json:"end"` // inclusive; End == Start for singles
}

// SparseEntityList compresses a sorted entity-index list into contiguous
// ranges
type SparseEntityList struct {
	Segments []SparseSegment `msgpack:"segments" json:"segments"`
}

// SparseFromUnsorted sorts and compresses an index list
func SparseFromUnsorted(ids []EntityID) SparseEntityList {
	sorted := append([]EntityID(nil), ids...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return SparseFromSorted(sorted)
}

// SparseFromSorted compresses an already-sorted index list
func SparseFromSorted(ids []EntityID) SparseEntityList {
	var out SparseEntityList
	for i := 0; i < len(ids); {
		start := ids[i]
		end := start
		for i+1 < len(ids) && ids[i+1] == ids[i]+1 {
			i++
			end = ids[i]
		}
		out.Segments = append(out.Segments, SparseSegment{Start: start, End: end})
		i++
	}
	return out
}

// ToSlice decompresses the list
func (l SparseEntityList) ToSlice() []EntityID {
	var out []EntityID
	for _, seg := range l.Segments {
		for id := seg.Start; ; id++ {
			out = append(out, id)
			if id == seg.End {
				break
			}
		}
	}
	return out
}

// BinBlob is an opaque encoded payload inside a binary envelope
type BinBlob []byte

// BinFormat tags the encoding of a binary envelope's archetype blobs
type BinFormat uint8

const (
	FormatBinParquet BinFormat = iota
	FormatBinMsgPack
)

func (f BinFormat) String() string {
	switch f {
	case FormatBinParquet:
		return "parquet"
	case FormatBinMsgPack:
		return "msgpack"
	}
	return fmt.Sprintf("BinFormat(%d)", uint8(f))
}

// WorldBinarySnapshot is the binary envelope: a compressed entity list,
// one encoded blob per archetype, resource blobs, and free-form metadata.
// The envelope itself is MessagePack regardless of the blob format.
type WorldBinarySnapshot struct {
	Entities   SparseEntityList   `msgpack:"entities"`
	Archetypes []BinBlob          `msgpack:"archetypes"`
	Resources  map[string]BinBlob `msgpack:"resources"`
	Format     BinFormat          `msgpack:"format"`
	Meta       map[string]string  `msgpack:"meta"`
}

// ToMsgPack encodes the envelope
func (s *WorldBinarySnapshot) ToMsgPack() ([]byte, error) {
	return msgpack.Marshal(s)
}

// BinarySnapshotFromMsgPack decodes an envelope
func BinarySnapshotFromMsgPack(data []byte) (*WorldBinarySnapshot, error) {
	var snap WorldBinarySnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, DecodeError{TypeName: "WorldBinarySnapshot", Err: err}
	}
	return &snap, nil
}

// mustFormat asserts the envelope's blob format. A mismatch is a structural
// error, not a data error: the payload bytes would be parsed by the wrong
// codec entirely.
func (s *WorldBinarySnapshot) mustFormat(want BinFormat) {
	if s.Format != want {
		panic(bark.AddTrace(fmt.Errorf("mismatched binary format: desired %v got %v", want, s.Format)))
	}
}

// saveResourceBlobs encodes every registered resource as msgpack bytes
func saveResourceBlobs(sto Storage, reg *SnapshotRegistry) (map[string]BinBlob, error) {
	out := make(map[string]BinBlob)
	values, err := SaveWorldResources(sto, reg)
	if err != nil {
		return nil, err
	}
	for name, value := range values {
		b, err := msgpack.Marshal(value)
		if err != nil {
			return nil, GenericError{Msg: "resource encode failed for " + name, Err: err}
		}
		out[name] = b
	}
	return out, nil
}

// loadResourceBlobs decodes resource blobs and imports them. Names without
// a codec are skipped with a diagnostic.
func loadResourceBlobs(data map[string]BinBlob, sto Storage, reg *SnapshotRegistry) error {
	for name, blob := range data {
		codec, ok := reg.Resource(name)
		if !ok {
			logger.WithField("resource", name).Warn("no codec; resource skipped on load")
			continue
		}
		var value any
		if err := msgpack.Unmarshal(blob, &value); err != nil {
			return DecodeError{TypeName: name, Err: err}
		}
		if err := codec.importFn(normalizeDyn(value), sto); err != nil {
			return err
		}
	}
	return nil
}

// MsgPackArchive is the row-oriented binary archive: archetype snapshots
// individually MessagePack-encoded inside a MessagePack envelope.
type MsgPackArchive struct {
	snap WorldBinarySnapshot
}

// CreateMsgPackArchive captures the world into an in-memory archive
func CreateMsgPackArchive(sto Storage, reg *SnapshotRegistry) (*MsgPackArchive, error) {
	world, err := SaveWorldSnapshot(sto, reg)
	if err != nil {
		return nil, err
	}

	archive := &MsgPackArchive{snap: WorldBinarySnapshot{
		Format:    FormatBinMsgPack,
		Resources: make(map[string]BinBlob),
		Meta:      make(map[string]string),
	}}
	archive.snap.Entities = SparseFromUnsorted(world.Entities)

	for _, arch := range world.Archetypes {
		if arch.IsEmpty() {
			continue
		}
		b, err := msgpack.Marshal(arch)
		if err != nil {
			return nil, GenericError{Msg: "archetype encode failed", Err: err}
		}
		archive.snap.Archetypes = append(archive.snap.Archetypes, b)
	}

	resources, err := saveResourceBlobs(sto, reg)
	if err != nil {
		return nil, err
	}
	archive.snap.Resources = resources
	return archive, nil
}

// decode reconstructs the world snapshot carried by the envelope
func (a *MsgPackArchive) decode() (*WorldSnapshot, error) {
	a.snap.mustFormat(FormatBinMsgPack)
	world := &WorldSnapshot{Entities: a.snap.Entities.ToSlice()}
	for _, blob := range a.snap.Archetypes {
		var arch ArchetypeSnapshot
		if err := msgpack.Unmarshal(blob, &arch); err != nil {
			return nil, DecodeError{TypeName: "ArchetypeSnapshot", Err: err}
		}
		normalizeSnapshotCells(&arch)
		world.Archetypes = append(world.Archetypes, &arch)
	}
	return world, nil
}

// Apply restores the archive into the world through the deferred builder
func (a *MsgPackArchive) Apply(sto Storage, reg *SnapshotRegistry) error {
	world, err := a.decode()
	if err != nil {
		return err
	}
	if err := LoadWorldSnapshotDefragment(sto, world, reg); err != nil {
		return err
	}
	return loadResourceBlobs(a.snap.Resources, sto, reg)
}

// ApplyWithRemap restores into mapper-supplied entities
func (a *MsgPackArchive) ApplyWithRemap(sto Storage, reg *SnapshotRegistry, ids *RemapRegistry, mapper EntityRemapper) error {
	world, err := a.decode()
	if err != nil {
		return err
	}
	if err := LoadWorldSnapshotWithRemap(sto, world, reg, ids, mapper); err != nil {
		return err
	}
	return loadResourceBlobs(a.snap.Resources, sto, reg)
}

// Entities lists the entity indices the archive addresses
func (a *MsgPackArchive) Entities() []EntityID {
	return a.snap.Entities.ToSlice()
}

// LoadResources imports only the archive's resource blobs
func (a *MsgPackArchive) LoadResources(sto Storage, reg *SnapshotRegistry) error {
	return loadResourceBlobs(a.snap.Resources, sto, reg)
}

// SaveTo writes the envelope to a file
func (a *MsgPackArchive) SaveTo(path string) error {
	data, err := a.snap.ToMsgPack()
	if err != nil {
		return GenericError{Msg: "envelope encode failed", Err: err}
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadMsgPackArchive reads an envelope from a file
func LoadMsgPackArchive(path string) (*MsgPackArchive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	snap, err := BinarySnapshotFromMsgPack(data)
	if err != nil {
		return nil, err
	}
	return &MsgPackArchive{snap: *snap}, nil
}

// BinaryArchive is the columnar binary archive: one parquet blob per
// archetype inside a MessagePack envelope.
type BinaryArchive struct {
	snap WorldBinarySnapshot
}

// CreateBinaryArchive captures the world into parquet-encoded columns
func CreateBinaryArchive(sto Storage, reg *SnapshotRegistry) (*BinaryArchive, error) {
	arrowSnap, err := SaveWorldArrowSnapshot(sto, reg)
	if err != nil {
		return nil, err
	}
	return binaryArchiveFromArrow(arrowSnap)
}

func binaryArchiveFromArrow(arrowSnap *WorldArrowSnapshot) (*BinaryArchive, error) {
	archive := &BinaryArchive{snap: WorldBinarySnapshot{
		Format:    FormatBinParquet,
		Resources: arrowSnap.Resources,
		Meta:      arrowSnap.Meta,
	}}
	archive.snap.Entities = SparseFromUnsorted(arrowSnap.Entities)
	for _, table := range arrowSnap.Archetypes {
		blob, err := table.ToParquet()
		if err != nil {
			return nil, err
		}
		archive.snap.Archetypes = append(archive.snap.Archetypes, blob)
	}
	return archive, nil
}

// decode reconstructs the columnar snapshot carried by the envelope
func (a *BinaryArchive) decode() (*WorldArrowSnapshot, error) {
	a.snap.mustFormat(FormatBinParquet)
	out := &WorldArrowSnapshot{
		Entities:  a.snap.Entities.ToSlice(),
		Resources: a.snap.Resources,
		Meta:      a.snap.Meta,
	}
	for _, blob := range a.snap.Archetypes {
		table, err := ComponentTableFromParquet(blob)
		if err != nil {
			return nil, err
		}
		out.Archetypes = append(out.Archetypes, table)
	}
	return out, nil
}

// Apply restores the archive into the world through the deferred builder
func (a *BinaryArchive) Apply(sto Storage, reg *SnapshotRegistry) error {
	snap, err := a.decode()
	if err != nil {
		return err
	}
	return snap.ToStorage(sto, reg)
}

// ApplyWithRemap restores into mapper-supplied entities
func (a *BinaryArchive) ApplyWithRemap(sto Storage, reg *SnapshotRegistry, ids *RemapRegistry, mapper EntityRemapper) error {
	snap, err := a.decode()
	if err != nil {
		return err
	}
	return snap.ToStorageWithRemap(sto, reg, ids, mapper)
}

// Entities lists the entity indices the archive addresses
func (a *BinaryArchive) Entities() []EntityID {
	return a.snap.Entities.ToSlice()
}

// LoadResources imports only the archive's resource blobs
func (a *BinaryArchive) LoadResources(sto Storage, reg *SnapshotRegistry) error {
	return loadResourceBlobs(a.snap.Resources, sto, reg)
}

// SaveTo writes the envelope to a file
func (a *BinaryArchive) SaveTo(path string) error {
	data, err := a.snap.ToMsgPack()
	if err != nil {
		return GenericError{Msg: "envelope encode failed", Err: err}
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadBinaryArchive reads an envelope from a file
func LoadBinaryArchive(path string) (*BinaryArchive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	snap, err := BinarySnapshotFromMsgPack(data)
	if err != nil {
		return nil, err
	}
	return &BinaryArchive{snap: *snap}, nil
}
