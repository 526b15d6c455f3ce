package wkpf

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// maxObjectID is the largest identifier the one-byte object field can carry.
const maxObjectID = 255

// Behavior implements a class on a device. The object table validates slot,
// access mode and type before calling it.
type Behavior interface {
	// OnPropertyUpdate is called after a SET has stored value in slot index.
	OnPropertyUpdate(obj *Object, index uint8, value any)

	// OnPropertyRead returns the value to answer a GET with. The result must
	// have the slot's declared type.
	OnPropertyRead(obj *Object, index uint8) (any, error)
}

// BaseBehavior stores values and answers reads from the store. Embed it to
// override only one of the two callbacks.
type BaseBehavior struct{}

// OnPropertyUpdate does nothing.
func (BaseBehavior) OnPropertyUpdate(*Object, uint8, any) {}

// OnPropertyRead returns the stored value.
func (BaseBehavior) OnPropertyRead(obj *Object, index uint8) (any, error) {
	return obj.Value(index)
}

// Object is one instance of a class on this device.
type Object struct {
	id       uint8
	class    *Class
	behavior Behavior
	table    *ObjectTable

	mu     sync.Mutex
	values []any
}

// ID returns the object identifier.
func (o *Object) ID() uint8 { return o.id }

// Class returns the object's class.
func (o *Object) Class() *Class { return o.class }

// Behavior returns the behavior bound to the object.
func (o *Object) Behavior() Behavior { return o.behavior }

// Value returns the stored value of slot index. List values are copies.
func (o *Object) Value(index uint8) (any, error) {
	if _, err := o.class.Slot(index); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneValue(o.values[index]), nil
}

// Report stores a value produced by the device itself, bypassing the wire
// access check. When the value changed and the slot is readable, a
// PROPERTY_UPDATE is emitted through the table's report hook.
func (o *Object) Report(index uint8, value any) error {
	slot, err := o.class.Slot(index)
	if err != nil {
		return err
	}
	if err := CheckType(value, slot.Type); err != nil {
		return err
	}

	changed := o.store(index, value)
	if changed && slot.Access.CanRead() {
		o.table.emit(o, index, cloneValue(value))
	}
	return nil
}

// store saves value and reports whether it differs from the previous one.
func (o *Object) store(index uint8, value any) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	changed := !reflect.DeepEqual(o.values[index], value)
	o.values[index] = cloneValue(value)
	return changed
}

// ReportFunc receives property changes reported by behaviors.
type ReportFunc func(obj *Object, index uint8, value any)

// ObjectTable owns the objects of one device runtime. Object identifiers are
// assigned in strictly increasing order starting at 1 and are never reused.
//
// Thread Safety: All methods are safe for concurrent use.
type ObjectTable struct {
	registry *ClassRegistry

	mu      sync.RWMutex
	objects map[uint8]*Object
	nextID  int

	reportMu sync.RWMutex
	onReport ReportFunc
}

// NewObjectTable creates an empty table bound to registry.
func NewObjectTable(registry *ClassRegistry) *ObjectTable {
	return &ObjectTable{
		registry: registry,
		objects:  make(map[uint8]*Object),
		nextID:   1,
	}
}

// OnReport sets the hook that receives reported property changes.
func (t *ObjectTable) OnReport(fn ReportFunc) {
	t.reportMu.Lock()
	t.onReport = fn
	t.reportMu.Unlock()
}

func (t *ObjectTable) emit(obj *Object, index uint8, value any) {
	t.reportMu.RLock()
	fn := t.onReport
	t.reportMu.RUnlock()
	if fn != nil {
		fn(obj, index, value)
	}
}

// AddObject creates an object of the given class with a fresh identifier
// and a new behavior from the class factory. Slots start at their zero
// values.
//
// Returns:
//   - uint8: The new object identifier
//   - error: ErrUnknownClass or ErrObjectTableFull
func (t *ObjectTable) AddObject(classID uint16) (uint8, error) {
	class, err := t.registry.Class(classID)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nextID > maxObjectID {
		return 0, fmt.Errorf("%w: %d objects allocated", ErrObjectTableFull, maxObjectID)
	}
	id := uint8(t.nextID)
	t.nextID++

	values := make([]any, class.SlotCount())
	for i, s := range class.slots {
		values[i] = ZeroValue(s.Type)
	}

	t.objects[id] = &Object{
		id:       id,
		class:    class,
		behavior: class.factory(),
		table:    t,
		values:   values,
	}
	return id, nil
}

// Get returns the object with the given identifier.
func (t *ObjectTable) Get(id uint8) (*Object, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	obj, ok := t.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}
	return obj, nil
}

// Objects returns all objects ordered by identifier.
func (t *ObjectTable) Objects() []*Object {
	t.mu.RLock()
	out := make([]*Object, 0, len(t.objects))
	for _, obj := range t.objects {
		out = append(out, obj)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of objects.
func (t *ObjectTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.objects)
}

// lookup resolves an object and slot in one step.
func (t *ObjectTable) lookup(id, index uint8) (*Object, Slot, error) {
	obj, err := t.Get(id)
	if err != nil {
		return nil, Slot{}, err
	}
	slot, err := obj.class.Slot(index)
	if err != nil {
		return nil, Slot{}, err
	}
	return obj, slot, nil
}

// SetProperty writes a property as a remote SET would: the slot must exist,
// permit writes, and value must match the declared type. On success the
// value is stored and the behavior's OnPropertyUpdate is called. On failure
// the stored value is unchanged.
//
// Returns:
//   - error: ErrUnknownObject, ErrUnknownProperty, ErrAccessDenied,
//     ErrTypeMismatch or ErrPayloadTooLarge
func (t *ObjectTable) SetProperty(id, index uint8, value any) error {
	obj, slot, err := t.lookup(id, index)
	if err != nil {
		return err
	}
	if !slot.Access.CanWrite() {
		return fmt.Errorf("%w: object %d property %d is %s", ErrAccessDenied, id, index, slot.Access)
	}
	if err := CheckType(value, slot.Type); err != nil {
		return err
	}

	obj.store(index, value)
	obj.behavior.OnPropertyUpdate(obj, index, cloneValue(value))
	return nil
}

// GetProperty reads a property as a remote GET would.
//
// Returns:
//   - any: Value produced by the behavior
//   - error: ErrUnknownObject, ErrUnknownProperty, ErrAccessDenied, or
//     ErrTypeMismatch if the behavior produced a value of the wrong type
func (t *ObjectTable) GetProperty(id, index uint8) (any, error) {
	obj, slot, err := t.lookup(id, index)
	if err != nil {
		return nil, err
	}
	if !slot.Access.CanRead() {
		return nil, fmt.Errorf("%w: object %d property %d is %s", ErrAccessDenied, id, index, slot.Access)
	}

	value, err := obj.behavior.OnPropertyRead(obj, index)
	if err != nil {
		return nil, err
	}
	if err := CheckType(value, slot.Type); err != nil {
		return nil, fmt.Errorf("behavior for class %d: %w", obj.class.ID, err)
	}
	return value, nil
}

// cloneValue copies list values so callers never share backing arrays with
// the store.
func cloneValue(v any) any {
	switch list := v.(type) {
	case []uint8:
		out := make([]uint8, len(list))
		copy(out, list)
		return out
	case []int16:
		out := make([]int16, len(list))
		copy(out, list)
		return out
	default:
		return v
	}
}
