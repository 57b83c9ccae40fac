package freight

import "reflect"

// argMeta carries one staged component insertion: identity, payload, and
// whether an existing component must be preserved.
type argMeta struct {
	comp        Component
	payload     ArenaBox
	ifNotExists bool
}

// bufferOp is a recorded command. Ops either apply to storage or dispose
// their payloads — never both for the same payload.
type bufferOp interface {
	apply(sto Storage) error
	dispose()
}

// CommandBuffer stages per-entity component insertions and structural
// operations, coalescing every insertion that targets the same entity into a
// single archetype move on apply.
//
// Pending insertions flush into an op whenever the target entity changes or
// a structural op is recorded. If the buffer is closed without apply, every
// owned payload is dropped exactly once.
type CommandBuffer struct {
	ops           []bufferOp
	pendingEntity Entity
	pendingArgs   []argMeta
}

// NewCommandBuffer creates an empty buffer
func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{}
}

// Insert stages a component payload for the entity, overwriting any earlier
// staged payload of the same component (write combining)
func (b *CommandBuffer) Insert(e Entity, comp Component, payload ArenaBox) {
	b.insert(e, comp, payload, false)
}

// InsertIfNew stages a payload that must not overwrite a component the
// entity already carries at apply time
func (b *CommandBuffer) InsertIfNew(e Entity, comp Component, payload ArenaBox) {
	b.insert(e, comp, payload, true)
}

func (b *CommandBuffer) insert(e Entity, comp Component, payload ArenaBox, ifNotExists bool) {
	if b.pendingEntity != e {
		b.flush()
		b.pendingEntity = e
	}
	b.pendingArgs = append(b.pendingArgs, argMeta{comp: comp, payload: payload, ifNotExists: ifNotExists})
}

// BatchInsert stages one homogeneous-type payload per entity
func (b *CommandBuffer) BatchInsert(entities []Entity, comp Component, payloads []ArenaBox, ifNotExists bool) {
	b.flush()
	b.ops = append(b.ops, &batchInsertOp{
		entities:    entities,
		comp:        comp,
		payloads:    payloads,
		ifNotExists: ifNotExists,
	})
}

// Remove stages a component removal
func (b *CommandBuffer) Remove(e Entity, comps ...Component) {
	b.flush()
	if len(comps) == 0 {
		return
	}
	b.ops = append(b.ops, &removeComponentsOp{entity: e, comps: comps})
}

// Despawn stages an entity destruction
func (b *CommandBuffer) Despawn(e Entity) {
	b.flush()
	b.ops = append(b.ops, &despawnOp{entity: e})
}

// flush moves the pending entity's args into a recorded op. Duplicate
// component IDs keep only the last payload; earlier payloads are dropped.
func (b *CommandBuffer) flush() {
	if b.pendingEntity == nil || len(b.pendingArgs) == 0 {
		b.pendingEntity = nil
		return
	}

	combined := b.pendingArgs[:0]
	for i := 0; i < len(b.pendingArgs); i++ {
		arg := b.pendingArgs[i]
		overwritten := false
		for j := i + 1; j < len(b.pendingArgs); j++ {
			if b.pendingArgs[j].comp.ID() == arg.comp.ID() {
				overwritten = true
				break
			}
		}
		if overwritten {
			arg.payload.Dispose()
			continue
		}
		combined = append(combined, arg)
	}

	if len(combined) > 0 {
		args := make([]argMeta, len(combined))
		copy(args, combined)
		b.ops = append(b.ops, &modifyEntityOp{entity: b.pendingEntity, args: args})
	}
	b.pendingArgs = b.pendingArgs[:0]
	b.pendingEntity = nil
}

// Apply flushes and replays the recorded ops in order. Missing or dead
// entities are tolerated: their ops are skipped and payloads dropped.
func (b *CommandBuffer) Apply(sto Storage) error {
	b.flush()
	for i, op := range b.ops {
		if err := op.apply(sto); err != nil {
			// The failed op settled its own payloads; the rest still need
			// their drops.
			for _, rest := range b.ops[i+1:] {
				rest.dispose()
			}
			b.ops = b.ops[:0]
			return err
		}
	}
	b.ops = b.ops[:0]
	return nil
}

// Close drops every payload still owned by the buffer. Calling Close after
// a successful Apply is a no-op.
func (b *CommandBuffer) Close() {
	for _, arg := range b.pendingArgs {
		arg.payload.Dispose()
	}
	b.pendingArgs = nil
	b.pendingEntity = nil
	for _, op := range b.ops {
		op.dispose()
	}
	b.ops = nil
}

type modifyEntityOp struct {
	entity Entity
	args   []argMeta
}

func (op *modifyEntityOp) apply(sto Storage) error {
	if op.entity == nil || !op.entity.Valid() {
		logger.WithField("entity", entityIDOf(op.entity)).Warn("skipping insert for missing entity")
		op.dispose()
		return nil
	}

	comps := make([]Component, 0, len(op.args))
	values := make([]any, 0, len(op.args))
	for _, arg := range op.args {
		if arg.ifNotExists && tableContains(op.entity.Table(), arg.comp) {
			arg.payload.Dispose()
			continue
		}
		comps = append(comps, arg.comp)
		values = append(values, derefPayload(arg.payload))
	}
	if len(comps) == 0 {
		return nil
	}
	if err := sto.InsertBundle(op.entity, comps, values); err != nil {
		op.dispose()
		return err
	}
	for _, arg := range op.args {
		arg.payload.Release()
	}
	return nil
}

func (op *modifyEntityOp) dispose() {
	for _, arg := range op.args {
		arg.payload.Dispose()
	}
}

type batchInsertOp struct {
	entities    []Entity
	comp        Component
	payloads    []ArenaBox
	ifNotExists bool
}

func (op *batchInsertOp) apply(sto Storage) error {
	for i, e := range op.entities {
		payload := op.payloads[i]
		if e == nil || !e.Valid() {
			logger.WithField("entity", entityIDOf(e)).Warn("skipping batch insert for missing entity")
			payload.Dispose()
			continue
		}
		if op.ifNotExists && tableContains(e.Table(), op.comp) {
			payload.Dispose()
			continue
		}
		if err := sto.InsertBundle(e, []Component{op.comp}, []any{derefPayload(payload)}); err != nil {
			for _, rest := range op.payloads[i:] {
				rest.Dispose()
			}
			return err
		}
		payload.Release()
	}
	return nil
}

func (op *batchInsertOp) dispose() {
	for _, payload := range op.payloads {
		payload.Dispose()
	}
}

type removeComponentsOp struct {
	entity Entity
	comps  []Component
}

func (op *removeComponentsOp) apply(sto Storage) error {
	if op.entity == nil || !op.entity.Valid() {
		return nil
	}
	return sto.RemoveComponents(op.entity, op.comps...)
}

func (op *removeComponentsOp) dispose() {}

type despawnOp struct {
	entity Entity
}

func (op *despawnOp) apply(sto Storage) error {
	if op.entity == nil || !op.entity.Valid() {
		return nil
	}
	return sto.DestroyEntities(op.entity)
}

func (op *despawnOp) dispose() {}

func tableContains(tbl *Table, c Component) bool {
	return tbl != nil && tbl.Contains(c)
}

// derefPayload unwraps the arena's pointer cell into the concrete component
// value the storage expects
func derefPayload(b ArenaBox) any {
	v := reflect.ValueOf(b.Value())
	if v.Kind() == reflect.Ptr {
		return v.Elem().Interface()
	}
	return b.Value()
}
