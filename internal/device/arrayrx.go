package device

import (
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// ArrayRxClassID is the class identifier of the ArrayRx example class.
const ArrayRxClassID uint16 = 1

// Behavior names used in class libraries.
const (
	BehaviorArrayRx = "ArrayRx"
	BehaviorGeneric = "Generic"
)

// ArrayRx receives a byte array in property 0 and logs it on every update.
type ArrayRx struct {
	wkpf.BaseBehavior
	logger Logger
}

// NewArrayRx creates an ArrayRx behavior.
func NewArrayRx(logger Logger) *ArrayRx {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ArrayRx{logger: logger}
}

// OnPropertyUpdate logs the current array and its length.
func (a *ArrayRx) OnPropertyUpdate(obj *wkpf.Object, index uint8, _ any) {
	val, err := obj.Value(0)
	if err != nil {
		a.logger.Warn("array property missing", "object", obj.ID(), "error", err)
		return
	}
	a.logger.Info("get array", "object", obj.ID(), "property", index, "value", val)
	if list, ok := val.([]uint8); ok {
		a.logger.Info("array length", "object", obj.ID(), "length", len(list))
	}
}

// Behaviors maps library behavior names to factories.
type Behaviors map[string]wkpf.BehaviorFactory

// DefaultBehaviors returns the built-in behavior factories.
func DefaultBehaviors(logger Logger) Behaviors {
	return Behaviors{
		BehaviorArrayRx: func() wkpf.Behavior { return NewArrayRx(logger) },
		BehaviorGeneric: func() wkpf.Behavior { return wkpf.BaseBehavior{} },
	}
}
