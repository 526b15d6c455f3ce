package wkpf

import (
	"fmt"
	"sort"
	"sync"
)

// maxSlots is the number of slots addressable by the one-byte property index.
const maxSlots = 256

// BehaviorFactory creates the behavior bound to each new object of a class.
type BehaviorFactory func() Behavior

// Class is a registered class definition. It is immutable after Register
// returns and serves as the registration handle.
type Class struct {
	ID      uint16
	Name    string
	slots   []Slot
	factory BehaviorFactory
}

// Slots returns a copy of the class's property slots in index order.
func (c *Class) Slots() []Slot {
	out := make([]Slot, len(c.slots))
	copy(out, c.slots)
	return out
}

// SlotCount returns the number of property slots.
func (c *Class) SlotCount() int {
	return len(c.slots)
}

// Slot returns the slot at index.
func (c *Class) Slot(index uint8) (Slot, error) {
	if int(index) >= len(c.slots) {
		return Slot{}, fmt.Errorf("%w: class %d has %d properties, index %d",
			ErrUnknownProperty, c.ID, len(c.slots), index)
	}
	return c.slots[index], nil
}

// ClassRegistry maps class identifiers to their declared slots and behavior
// factories. Registration is append-only and ends with Seal; dispatch only
// starts against a sealed registry.
//
// Thread Safety: All methods are safe for concurrent use.
type ClassRegistry struct {
	mu      sync.RWMutex
	classes map[uint16]*Class
	sealed  bool
}

// NewClassRegistry creates an empty registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{
		classes: make(map[uint16]*Class),
	}
}

// Register declares a class.
//
// Slot indices must run 0, 1, 2, ... in order. A nil factory binds objects
// of the class to BaseBehavior.
//
// Parameters:
//   - id: Class identifier
//   - name: Human-readable class name
//   - slots: Property slots in index order
//   - factory: Behavior factory for new objects, or nil
//
// Returns:
//   - *Class: The registered class
//   - error: ErrDuplicateClass, ErrRegistrySealed or ErrInvalidClass
func (r *ClassRegistry) Register(id uint16, name string, slots []Slot, factory BehaviorFactory) (*Class, error) {
	if err := validateSlots(id, slots); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, fmt.Errorf("%w: cannot register class %d", ErrRegistrySealed, id)
	}
	if existing, ok := r.classes[id]; ok {
		return nil, fmt.Errorf("%w: class %d already registered as %q", ErrDuplicateClass, id, existing.Name)
	}

	if factory == nil {
		factory = func() Behavior { return BaseBehavior{} }
	}
	c := &Class{
		ID:      id,
		Name:    name,
		slots:   make([]Slot, len(slots)),
		factory: factory,
	}
	copy(c.slots, slots)
	r.classes[id] = c
	return c, nil
}

func validateSlots(id uint16, slots []Slot) error {
	if len(slots) > maxSlots {
		return fmt.Errorf("%w: class %d declares %d slots, limit %d", ErrInvalidClass, id, len(slots), maxSlots)
	}
	for i, s := range slots {
		if int(s.Index) != i {
			return fmt.Errorf("%w: class %d slot at position %d has index %d", ErrInvalidClass, id, i, s.Index)
		}
		if !s.Type.Valid() {
			return fmt.Errorf("%w: class %d slot %d has unsupported type %s", ErrInvalidClass, id, i, s.Type)
		}
		if !s.Access.Valid() {
			return fmt.Errorf("%w: class %d slot %d has unknown access mode %s", ErrInvalidClass, id, i, s.Access)
		}
	}
	return nil
}

// Seal ends registration. It is idempotent.
func (r *ClassRegistry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *ClassRegistry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Class returns the registered class with the given identifier.
func (r *ClassRegistry) Class(id uint16) (*Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.classes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownClass, id)
	}
	return c, nil
}

// SlotOf returns the slot descriptor for a class property.
//
// Returns:
//   - Slot: The descriptor supplied at registration
//   - error: ErrUnknownClass or ErrUnknownProperty
func (r *ClassRegistry) SlotOf(classID uint16, index uint8) (Slot, error) {
	c, err := r.Class(classID)
	if err != nil {
		return Slot{}, err
	}
	return c.Slot(index)
}

// ClassIDs returns all registered identifiers in ascending order.
func (r *ClassRegistry) ClassIDs() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint16, 0, len(r.classes))
	for id := range r.classes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered classes.
func (r *ClassRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.classes)
}
