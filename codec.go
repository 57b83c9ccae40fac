package freight

import (
	"encoding/json"
	"reflect"
	"strings"
)

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// ShortTypeName returns the last segment of T's type path. A deliberate
// ergonomic compromise: callers avoiding cross-package collisions can use
// RegisterComponentNamed with a fully qualified key instead.
func ShortTypeName[T any]() string {
	full := typeOf[T]().String()
	if idx := strings.LastIndex(full, "."); idx >= 0 {
		return full[idx+1:]
	}
	return full
}

// toDyn converts a Go value to the dynamic cell model: a tree of
// nil/bool/float64/string/[]any/map[string]any.
func toDyn(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromDyn decodes a dynamic cell into a concrete T, failing on shape
// mismatch
func fromDyn[T any](val any) (T, error) {
	var t T
	b, err := json.Marshal(val)
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(b, &t); err != nil {
		return t, err
	}
	return t, nil
}

// RegisterComponent installs a full-mode codec for T keyed by its short
// type name
func RegisterComponent[T any](reg *SnapshotRegistry) {
	RegisterComponentNamed[T](reg, ShortTypeName[T]())
}

// RegisterComponentNamed installs a full-mode codec for T under an explicit
// name
func RegisterComponentNamed[T any](reg *SnapshotRegistry, name string) {
	reg.install(buildCodec[T](name, ModeFull))
}

// RegisterComponentMode installs a codec for T in the given snapshot mode.
// Placeholder modes require only that T's zero value is meaningful.
func RegisterComponentMode[T any](reg *SnapshotRegistry, mode SnapshotMode) {
	reg.install(buildCodec[T](ShortTypeName[T](), mode))
}

// RegisterComponentWith installs a codec for T that serializes through the
// wrapper type W. from projects a component to its surface form; into
// reverses it.
func RegisterComponentWith[T any, W any](reg *SnapshotRegistry, from func(*T) W, into func(W) T) {
	name := ShortTypeName[T]()
	acc := FactoryNewComponent[T]()
	drop := dropHookFor[T]()

	codec := &ComponentCodec{
		name: name,
		typ:  typeOf[T](),
		comp: acc.Component,
		mode: ModeFull,
		has: acc.CheckEntity,
		ptrTo: func(e Entity) any {
			if ptr := acc.GetFromEntity(e); ptr != nil {
				return ptr
			}
			return nil
		},
		export: func(sto Storage, e Entity) (any, error) {
			ptr := acc.GetFromEntity(e)
			if ptr == nil {
				return nil, nil
			}
			return toDyn(from(ptr))
		},
		importFn: func(val any, sto Storage, e Entity) error {
			w, err := fromDyn[W](val)
			if err != nil {
				return DecodeError{TypeName: name, Entity: entityIndexOf(e), Err: err}
			}
			return e.SetComponent(acc.Component, into(w))
		},
		dynCtor: func(val any, arena *Arena) (ArenaBox, error) {
			w, err := fromDyn[W](val)
			if err != nil {
				return ArenaBox{}, DecodeError{TypeName: name, Err: err}
			}
			t := into(w)
			return arena.Alloc(&t, drop), nil
		},
	}
	codec.arrow = buildArrowCodecWith[T, W](acc, from, into)
	reg.install(codec)
}

// RegisterResource installs a resource codec for T keyed by its short type
// name. Resources are read from and written to the storage's resource
// table.
func RegisterResource[T any](reg *SnapshotRegistry) {
	name := ShortTypeName[T]()
	reg.installResource(&ResourceCodec{
		name: name,
		typ:  typeOf[T](),
		export: func(sto Storage) (any, error) {
			v, ok := sto.ResourceOf(typeOf[T]())
			if !ok {
				return nil, nil
			}
			return toDyn(v)
		},
		importFn: func(val any, sto Storage) error {
			t, err := fromDyn[T](val)
			if err != nil {
				return DecodeError{TypeName: name, Err: err}
			}
			sto.SetResource(&t)
			return nil
		},
	})
}

func buildCodec[T any](name string, mode SnapshotMode) *ComponentCodec {
	acc := FactoryNewComponent[T]()
	drop := dropHookFor[T]()
	placeholder := mode == ModePlaceholder || mode == ModePlaceholderIfNotExists

	codec := &ComponentCodec{
		name: name,
		typ:  typeOf[T](),
		comp: acc.Component,
		mode: mode,
		has: acc.CheckEntity,
		ptrTo: func(e Entity) any {
			if ptr := acc.GetFromEntity(e); ptr != nil {
				return ptr
			}
			return nil
		},
	}

	if placeholder {
		codec.export = func(sto Storage, e Entity) (any, error) {
			// Component present but carrying no data: a null cell stands in.
			return nil, nil
		}
		codec.importFn = func(val any, sto Storage, e Entity) error {
			if mode == ModePlaceholderIfNotExists && acc.CheckEntity(e) {
				return nil
			}
			var t T
			return e.SetComponent(acc.Component, t)
		}
		codec.dynCtor = func(val any, arena *Arena) (ArenaBox, error) {
			var t T
			return arena.Alloc(&t, drop), nil
		}
	} else {
		codec.export = func(sto Storage, e Entity) (any, error) {
			ptr := acc.GetFromEntity(e)
			if ptr == nil {
				return nil, nil
			}
			return toDyn(ptr)
		}
		codec.importFn = func(val any, sto Storage, e Entity) error {
			if mode == ModeEmplaceIfNotExists && acc.CheckEntity(e) {
				return nil
			}
			t, err := fromDyn[T](val)
			if err != nil {
				return DecodeError{TypeName: name, Entity: entityIndexOf(e), Err: err}
			}
			return e.SetComponent(acc.Component, t)
		}
		codec.dynCtor = func(val any, arena *Arena) (ArenaBox, error) {
			t, err := fromDyn[T](val)
			if err != nil {
				return ArenaBox{}, DecodeError{TypeName: name, Err: err}
			}
			return arena.Alloc(&t, drop), nil
		}
	}

	codec.arrow = buildArrowCodec[T](acc, mode)
	return codec
}

func entityIndexOf(e Entity) EntityID {
	if e == nil {
		return PlaceholderID
	}
	return EntityID(e.ID() - 1)
}
