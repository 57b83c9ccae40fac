package freight

import (
	"reflect"
)

// SnapshotMode controls how a component codec behaves on save and load.
type SnapshotMode int

const (
	// ModeFull saves and restores the component's full value, overwriting
	// any value the target entity already carries.
	ModeFull SnapshotMode = iota
	// ModeEmplaceIfNotExists restores the full value but never overwrites
	// an existing component.
	ModeEmplaceIfNotExists
	// ModePlaceholder saves a null cell and restores the zero value. For
	// tag components whose payload carries no data.
	ModePlaceholder
	// ModePlaceholderIfNotExists is ModePlaceholder without overwriting.
	ModePlaceholderIfNotExists
)

func (m SnapshotMode) emplaceOnly() bool {
	return m == ModeEmplaceIfNotExists || m == ModePlaceholderIfNotExists
}

// ExportFn reads a component from an entity and produces a dynamic value.
// A nil value with nil error means the entity has no such component or, in
// the placeholder modes, that the component is present but carries no data.
type ExportFn func(sto Storage, e Entity) (any, error)

// ImportFn decodes a dynamic value and attaches it to an entity
type ImportFn func(val any, sto Storage, e Entity) error

// DynCtorFn decodes a dynamic value into a type-erased arena cell
type DynCtorFn func(val any, arena *Arena) (ArenaBox, error)

// ComponentCodec is the per-type vtable: everything the engine needs to
// save, decode, and materialize one component type.
type ComponentCodec struct {
	name     string
	typ      reflect.Type
	comp     Component
	mode     SnapshotMode
	has      func(e Entity) bool
	ptrTo    func(e Entity) any
	export   ExportFn
	importFn ImportFn
	dynCtor  DynCtorFn
	arrow    *ArrowCodec
}

// Has reports whether the entity currently carries the component. Export
// returns a null cell for present-but-empty components, so presence is a
// separate question.
func (c *ComponentCodec) Has(e Entity) bool { return c.has(e) }

// Name returns the codec's short type name
func (c *ComponentCodec) Name() string { return c.name }

// Type returns the Go type the codec serializes
func (c *ComponentCodec) Type() reflect.Type { return c.typ }

// Component returns the ECS component identity
func (c *ComponentCodec) Component() Component { return c.comp }

// Mode returns the codec's snapshot mode
func (c *ComponentCodec) Mode() SnapshotMode { return c.mode }

// Arrow returns the codec's Arrow triple, nil when the type has no
// columnar representation
func (c *ComponentCodec) Arrow() *ArrowCodec { return c.arrow }

// Export invokes the codec's exporter
func (c *ComponentCodec) Export(sto Storage, e Entity) (any, error) {
	return c.export(sto, e)
}

// Import invokes the codec's importer
func (c *ComponentCodec) Import(val any, sto Storage, e Entity) error {
	return c.importFn(val, sto, e)
}

// DynCtor invokes the codec's dynamic constructor
func (c *ComponentCodec) DynCtor(val any, arena *Arena) (ArenaBox, error) {
	return c.dynCtor(val, arena)
}

// ResourceCodec is the vtable shape for world resources. Resources key off
// a separate table in the registry.
type ResourceCodec struct {
	name     string
	typ      reflect.Type
	export   func(sto Storage) (any, error)
	importFn func(val any, sto Storage) error
}

// Name returns the resource codec's short type name
func (c *ResourceCodec) Name() string { return c.name }

// SnapshotRegistry maps short type names to component and resource codec
// vtables. Entries are installed at setup and immutable afterwards;
// re-registration overwrites. Short-name collisions across packages are the
// caller's responsibility.
type SnapshotRegistry struct {
	components Cache[*ComponentCodec]
	resources  Cache[*ResourceCodec]
	byType     map[reflect.Type]string
}

// NewSnapshotRegistry creates an empty registry
func NewSnapshotRegistry() *SnapshotRegistry {
	return &SnapshotRegistry{
		components: FactoryNewCache[*ComponentCodec](Config.codecCacheCapacity),
		resources:  FactoryNewCache[*ResourceCodec](Config.codecCacheCapacity),
		byType:     make(map[reflect.Type]string),
	}
}

func (reg *SnapshotRegistry) install(codec *ComponentCodec) {
	if _, err := reg.components.Register(codec.name, codec); err != nil {
		panic(err)
	}
	reg.byType[codec.typ] = codec.name
}

func (reg *SnapshotRegistry) installResource(codec *ResourceCodec) {
	if _, err := reg.resources.Register(codec.name, codec); err != nil {
		panic(err)
	}
}

// Codec looks up a component codec by short name
func (reg *SnapshotRegistry) Codec(name string) (*ComponentCodec, bool) {
	idx, ok := reg.components.GetIndex(name)
	if !ok {
		return nil, false
	}
	return *reg.components.GetItem(idx), true
}

// CodecByType looks up a component codec by Go type
func (reg *SnapshotRegistry) CodecByType(t reflect.Type) (*ComponentCodec, bool) {
	name, ok := reg.byType[t]
	if !ok {
		return nil, false
	}
	return reg.Codec(name)
}

// NameForType returns the registered short name for a Go type
func (reg *SnapshotRegistry) NameForType(t reflect.Type) (string, bool) {
	name, ok := reg.byType[t]
	return name, ok
}

// Resource looks up a resource codec by short name
func (reg *SnapshotRegistry) Resource(name string) (*ResourceCodec, bool) {
	idx, ok := reg.resources.GetIndex(name)
	if !ok {
		return nil, false
	}
	return *reg.resources.GetItem(idx), true
}

// ComponentNames returns registered component names in registration order
func (reg *SnapshotRegistry) ComponentNames() []string {
	return reg.components.Keys()
}

// ResourceNames returns registered resource names in registration order
func (reg *SnapshotRegistry) ResourceNames() []string {
	return reg.resources.Keys()
}

// Merge copies every entry from other into this registry, overwriting
// entries that share a name
func (reg *SnapshotRegistry) Merge(other *SnapshotRegistry) {
	for _, name := range other.ComponentNames() {
		codec, _ := other.Codec(name)
		reg.install(codec)
	}
	for _, name := range other.ResourceNames() {
		codec, _ := other.Resource(name)
		reg.installResource(codec)
	}
}

// MergeOnlyNew copies entries from other whose names are not yet present
func (reg *SnapshotRegistry) MergeOnlyNew(other *SnapshotRegistry) {
	for _, name := range other.ComponentNames() {
		if _, exists := reg.Codec(name); exists {
			continue
		}
		codec, _ := other.Codec(name)
		reg.install(codec)
	}
	for _, name := range other.ResourceNames() {
		if _, exists := reg.Resource(name); exists {
			continue
		}
		codec, _ := other.Resource(name)
		reg.installResource(codec)
	}
}
