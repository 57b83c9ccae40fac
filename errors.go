package freight

import "fmt"

type LockedStorageError struct{}

func (e LockedStorageError) Error() string {
	return "storage is currently locked"
}

type EntityRelationError struct {
	child, parent Entity
}

func (e EntityRelationError) Error() string {
	return fmt.Sprintf("child (%v) already has parent %v", e.child, e.parent)
}

type ComponentExistsError struct {
	Component Component
}

func (e ComponentExistsError) Error() string {
	return fmt.Sprintf("component already exists on entity: %T", e.Component)
}

type ComponentNotFoundError struct {
	Component Component
}

func (e ComponentNotFoundError) Error() string {
	return fmt.Sprintf("component does not exist on entity: %v", e.Component.Type())
}

// MissingFactoryError reports a component or resource name with no codec in
// the registry
type MissingFactoryError struct {
	Name string
}

func (e MissingFactoryError) Error() string {
	return fmt.Sprintf("missing factory for component/resource: %s", e.Name)
}

// DecodeError reports a cell that could not be decoded into its component
type DecodeError struct {
	TypeName string
	Entity   EntityID
	Err      error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("decode error for %s (entity %d): %v", e.TypeName, e.Entity, e.Err)
}

func (e DecodeError) Unwrap() error { return e.Err }

// ArrowError wraps a failure in the Arrow column bridge
type ArrowError struct {
	Err error
}

func (e ArrowError) Error() string { return fmt.Sprintf("arrow error: %v", e.Err) }
func (e ArrowError) Unwrap() error { return e.Err }

// ParquetError wraps a failure in parquet serialization
type ParquetError struct {
	Err error
}

func (e ParquetError) Error() string { return fmt.Sprintf("parquet error: %v", e.Err) }
func (e ParquetError) Unwrap() error { return e.Err }

// InvalidEntityIDError reports an entity index that could not be resolved
type InvalidEntityIDError struct {
	ID uint32
}

func (e InvalidEntityIDError) Error() string {
	return fmt.Sprintf("failed to resolve entity id: %d", e.ID)
}

// MissingComponentError reports an exporter that expected a component value
// which wasn't present
type MissingComponentError struct {
	TypeName string
}

func (e MissingComponentError) Error() string {
	return fmt.Sprintf("unexpected null component %s", e.TypeName)
}

// GenericError carries a wrapped message for failures with no richer kind
type GenericError struct {
	Msg string
	Err error
}

func (e GenericError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e GenericError) Unwrap() error { return e.Err }
