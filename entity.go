package freight

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Verify entity implements Entity interface
var _ Entity = &entity{}

// entity implements the Entity interface
type entity struct {
	id            uint32
	dead          bool
	sto           *storage
	arch          *archetype
	row           int
	relationships relationships
	components    []Component
}

// relationships tracks parent-child relationships and destroy callbacks
type relationships struct {
	recycled  int
	parent    Entity
	onDestroy EntityDestroyCallback
}

// ID returns the entity's unique identifier
func (e *entity) ID() uint32 {
	return e.id
}

// Index returns the entity's row index in its table
func (e *entity) Index() int {
	return e.row
}

// Recycled returns the entity's recycled count
func (e *entity) Recycled() int {
	return e.relationships.recycled
}

// Table returns the table this entity belongs to, nil while the entity is
// empty (reserved but without components)
func (e *entity) Table() *Table {
	if e.arch == nil {
		return nil
	}
	return e.arch.table
}

// Storage returns the storage this entity belongs to
func (e *entity) Storage() Storage {
	return e.sto
}

// SetParent establishes a parent-child relationship with another entity
func (e *entity) SetParent(parent Entity, callback EntityDestroyCallback) error {
	if e.relationships.parent != nil {
		return EntityRelationError{child: e, parent: parent}
	}
	e.relationships.parent = parent
	e.relationships.recycled = parent.Recycled()
	err := parent.SetDestroyCallback(callback)
	if err != nil {
		return err
	}
	return nil
}

// Parent returns the parent entity if it exists and hasn't been recycled
func (e *entity) Parent() Entity {
	if e.relationships.parent != nil {
		if e.relationships.parent.Recycled() != e.relationships.recycled {
			return nil
		}
		return e.relationships.parent
	}
	return nil
}

// SetDestroyCallback sets the callback to be invoked when this entity is destroyed
func (e *entity) SetDestroyCallback(callback EntityDestroyCallback) error {
	e.relationships.onDestroy = callback
	return nil
}

// AddComponent adds a component to the entity, moving it to a new archetype if needed
func (e *entity) AddComponent(c Component) error {
	if e.sto.Locked() {
		return LockedStorageError{}
	}
	if e.hasComponent(c) {
		return nil
	}
	return e.sto.InsertBundle(e, []Component{c}, []any{nil})
}

// AddComponentWithValue adds a component with an initial value. Existing
// components are left untouched.
func (e *entity) AddComponentWithValue(c Component, value any) error {
	if e.sto.Locked() {
		return LockedStorageError{}
	}
	if e.hasComponent(c) {
		return nil
	}
	return e.setComponentValue(c, value)
}

// SetComponent adds the component if missing and overwrites its value
func (e *entity) SetComponent(c Component, value any) error {
	if e.sto.Locked() {
		return LockedStorageError{}
	}
	return e.setComponentValue(c, value)
}

func (e *entity) setComponentValue(c Component, value any) error {
	valueType := reflect.TypeOf(value)
	if valueType != c.Type() {
		return fmt.Errorf("invalid value type %v for component %v", valueType, c.Type())
	}
	return e.sto.InsertBundle(e, []Component{c}, []any{value})
}

// RemoveComponent removes a component from the entity, moving it to a new archetype
func (e *entity) RemoveComponent(c Component) error {
	if e.sto.Locked() {
		return LockedStorageError{}
	}
	return e.sto.RemoveComponents(e, c)
}

// EnqueueAddComponent queues a component addition or executes immediately if storage isn't locked
func (e *entity) EnqueueAddComponent(c Component) error {
	if !e.sto.Locked() {
		return e.AddComponent(c)
	}
	e.sto.Enqueue(AddComponentOperation{
		entity:    e,
		recycled:  e.Recycled(),
		component: c,
		storage:   e.sto,
	})
	return nil
}

// EnqueueAddComponentWithValue queues a component addition with value or executes immediately
func (e *entity) EnqueueAddComponentWithValue(c Component, val any) error {
	if !e.sto.Locked() {
		return e.AddComponentWithValue(c, val)
	}
	e.sto.Enqueue(AddComponentOperation{
		entity:    e,
		recycled:  e.Recycled(),
		component: c,
		value:     val,
		storage:   e.sto,
	})
	return nil
}

// EnqueueRemoveComponent queues a component removal or executes immediately if storage isn't locked
func (e *entity) EnqueueRemoveComponent(c Component) error {
	if !e.sto.Locked() {
		return e.RemoveComponent(c)
	}
	e.sto.Enqueue(RemoveComponentOperation{
		entity:    e,
		recycled:  e.Recycled(),
		component: c,
		storage:   e.sto,
	})
	return nil
}

// Components returns all components attached to this entity
func (e *entity) Components() []Component {
	return e.components
}

// ComponentsAsString returns a sorted, formatted string of component names
func (e *entity) ComponentsAsString() string {
	if len(e.components) == 0 {
		return "[]"
	}

	var components []string
	for _, c := range e.components {
		typeName := c.Type().String()
		typeName = strings.TrimPrefix(typeName, "*")
		parts := strings.Split(typeName, ".")
		name := parts[len(parts)-1]

		components = append(components, name)
	}

	sort.Strings(components)

	return "[" + strings.Join(components, ", ") + "]"
}

// Valid returns whether this entity is live
func (e *entity) Valid() bool {
	return e != nil && e.id != 0 && !e.dead
}

func (e *entity) hasComponent(c Component) bool {
	return containsComponent(e.components, c)
}
