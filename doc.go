/*
Package freight is a persistence engine for archetype-based
Entity-Component-System worlds. It captures a live world — entities, the
components attached to each, and global resources — into portable
artifacts, and reconstitutes an equivalent world from them.

Artifacts come in several forms: JSON and TOML snapshots, columnar CSV,
row-oriented MessagePack, columnar Parquet (through Arrow), and a ZIP
container indexed by a declarative manifest.

Core Concepts:

  - Storage: an archetype-based entity store; entities with the same
    component set share a table.
  - SnapshotRegistry: per-component codec vtables keyed by short type
    names; the registry decides what is saved and how it is decoded.
  - ArchetypeSnapshot / WorldSnapshot: language-neutral, in-memory
    columnar descriptions of world state.
  - CommandBuffer: a deferred builder that coalesces every insertion
    targeting one entity into a single archetype move.
  - AuroraManifest: a human-readable index describing where and how each
    archetype's data is stored (embedded, on disk, or inside a ZIP).

Basic Usage:

	storage := freight.Factory.NewStorage()
	position := freight.FactoryNewComponent[Position]()
	storage.NewEntities(100, position)

	registry := freight.NewSnapshotRegistry()
	freight.RegisterComponent[Position](registry)

	// Save and reload through any supported format.
	freight.SaveWorldTo(storage, registry, "world.msgpack")

	restored := freight.Factory.NewStorage()
	freight.LoadWorldFrom(restored, registry, "world.msgpack")

Freight is the persistence layer for the Bappa Framework but also works
against any storage built on the same archetype contract.
*/
package freight
