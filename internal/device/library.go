package device

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// Library is a class library: the read-only set of class definitions a
// device may host, loaded from YAML at startup.
//
// Example:
//
//	classes:
//	  - id: 1
//	    name: ArrayRx
//	    behavior: ArrayRx
//	    properties:
//	      - name: array
//	        type: byte_list
//	        access: readwrite
type Library struct {
	Classes []ClassDef `yaml:"classes"`
}

// ClassDef is one class in a library.
type ClassDef struct {
	ID   uint16 `yaml:"id"`
	Name string `yaml:"name"`

	// Behavior selects the factory (ArrayRx or Generic). Empty means Generic.
	Behavior string `yaml:"behavior"`

	Properties []PropertyDef `yaml:"properties"`
}

// PropertyDef is one property of a class definition.
type PropertyDef struct {
	Name   string          `yaml:"name"`
	Type   wkpf.ValueType  `yaml:"type"`
	Access wkpf.AccessMode `yaml:"access"`
}

// Slots converts the property list to indexed slots.
func (c ClassDef) Slots() []wkpf.Slot {
	slots := make([]wkpf.Slot, len(c.Properties))
	for i, p := range c.Properties {
		slots[i] = wkpf.Slot{
			Index:  uint8(i), //nolint:gosec // bounded by registry validation
			Name:   p.Name,
			Type:   p.Type,
			Access: p.Access,
		}
	}
	return slots
}

// LoadLibrary reads and parses a class library file.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading class library: %w", err)
	}
	return ParseLibrary(data)
}

// ParseLibrary parses class library YAML.
func ParseLibrary(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLibrary, err)
	}

	seen := make(map[uint16]bool, len(lib.Classes))
	for _, c := range lib.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: class %d has no name", ErrInvalidLibrary, c.ID)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: class %d defined twice", ErrInvalidLibrary, c.ID)
		}
		seen[c.ID] = true
	}
	return &lib, nil
}

// Find returns the class definition with the given name.
func (l *Library) Find(name string) (ClassDef, bool) {
	for _, c := range l.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return ClassDef{}, false
}

// DefaultLibrary returns the built-in class library.
func DefaultLibrary() *Library {
	return &Library{
		Classes: []ClassDef{
			{
				ID:       ArrayRxClassID,
				Name:     "ArrayRx",
				Behavior: BehaviorArrayRx,
				Properties: []PropertyDef{
					{Name: "array", Type: wkpf.TypeByteList, Access: wkpf.ReadWrite},
				},
			},
		},
	}
}
