// Package controltable describes the control tables of known Dynamixel
// models. Models are defined in embedded YAML files and looked up by the
// model number a Protocol 2.0 ping (or a read of address 0) returns.
package controltable

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/hipsterbrown/servobus/session"
)

// Access modes of a control table field.
const (
	AccessRead      = "R"
	AccessReadWrite = "RW"
)

// Field is one entry in a control table.
type Field struct {
	Name    string           `json:"name"`
	Address uint16           `json:"address"`
	Size    uint16           `json:"size"`
	Access  string           `json:"access"`
	Unit    string           `json:"unit,omitempty"`
	Scale   decimal.Decimal  `json:"scale"`
	Values  map[int64]string `json:"values,omitempty"`
}

// Writable reports whether the field accepts writes.
func (f Field) Writable() bool {
	return f.Access == AccessReadWrite
}

// Register returns the span the field occupies.
func (f Field) Register() session.RegisterField {
	return session.RegisterField{Address: f.Address, Size: f.Size}
}

// Scaled converts a raw register value to the field's unit. Fields without a
// unit are returned unchanged.
func (f Field) Scaled(raw int64) decimal.Decimal {
	v := decimal.NewFromInt(raw)
	if f.Scale.IsZero() {
		return v
	}
	return v.Mul(f.Scale)
}

// Raw converts a value in the field's unit back to the nearest raw value.
func (f Field) Raw(value decimal.Decimal) int64 {
	if f.Scale.IsZero() {
		return value.Round(0).IntPart()
	}
	return value.Div(f.Scale).Round(0).IntPart()
}

// Format renders a raw value for display: the label for enumerated values,
// the scaled value with its unit, or the bare number.
func (f Field) Format(raw int64) string {
	if label, ok := f.Values[raw]; ok {
		return fmt.Sprintf("%d (%s)", raw, label)
	}
	if f.Unit != "" {
		return fmt.Sprintf("%d (%s %s)", raw, f.Scaled(raw).String(), f.Unit)
	}
	return fmt.Sprintf("%d", raw)
}

// Model is the control table of one servo model.
type Model struct {
	Name     string           `json:"name"`
	Number   uint16           `json:"number"`
	Protocol session.Protocol `json:"protocol"`
	Fields   []Field          `json:"fields"`
}

// Field returns the named field.
func (m *Model) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldAt returns the field starting at address.
func (m *Model) FieldAt(address uint16) (Field, bool) {
	for _, f := range m.Fields {
		if f.Address == address {
			return f, true
		}
	}
	return Field{}, false
}

// Registers returns every field's span in table order.
func (m *Model) Registers() []session.RegisterField {
	regs := make([]session.RegisterField, len(m.Fields))
	for i, f := range m.Fields {
		regs[i] = f.Register()
	}
	return regs
}

type yamlField struct {
	Name    string           `yaml:"name"`
	Address uint16           `yaml:"address"`
	Size    uint16           `yaml:"size"`
	Access  string           `yaml:"access"`
	Unit    string           `yaml:"unit"`
	Scale   string           `yaml:"scale"`
	Values  map[int64]string `yaml:"values"`
}

type yamlModel struct {
	Name     string      `yaml:"name"`
	Number   uint16      `yaml:"number"`
	Protocol string      `yaml:"protocol"`
	Fields   []yamlField `yaml:"fields"`
}

// Parse decodes and validates a YAML model definition.
func Parse(data []byte) (*Model, error) {
	var raw yamlModel
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if raw.Name == "" {
		return nil, fmt.Errorf("model has no name")
	}

	protocol, err := session.ParseProtocol(raw.Protocol)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", raw.Name, err)
	}

	m := &Model{
		Name:     raw.Name,
		Number:   raw.Number,
		Protocol: protocol,
		Fields:   make([]Field, 0, len(raw.Fields)),
	}

	seen := make(map[string]bool, len(raw.Fields))
	for _, rf := range raw.Fields {
		if seen[rf.Name] {
			return nil, fmt.Errorf("model %s: duplicate field %q", raw.Name, rf.Name)
		}
		seen[rf.Name] = true

		if !slices.Contains([]uint16{1, 2, 4}, rf.Size) {
			return nil, fmt.Errorf("model %s: field %s has size %d", raw.Name, rf.Name, rf.Size)
		}
		if protocol == session.ProtocolV1 && int(rf.Address)+int(rf.Size) > 0x100 {
			return nil, fmt.Errorf("model %s: field %s is outside the protocol 1.0 address space", raw.Name, rf.Name)
		}

		access := strings.ToUpper(rf.Access)
		if access != AccessRead && access != AccessReadWrite {
			return nil, fmt.Errorf("model %s: field %s has access %q", raw.Name, rf.Name, rf.Access)
		}

		f := Field{
			Name:    rf.Name,
			Address: rf.Address,
			Size:    rf.Size,
			Access:  access,
			Unit:    rf.Unit,
			Values:  rf.Values,
		}
		if rf.Scale != "" {
			f.Scale, err = decimal.NewFromString(rf.Scale)
			if err != nil {
				return nil, fmt.Errorf("model %s: field %s scale: %w", raw.Name, rf.Name, err)
			}
		}
		m.Fields = append(m.Fields, f)
	}

	slices.SortStableFunc(m.Fields, func(a, b Field) int {
		return int(a.Address) - int(b.Address)
	})
	return m, nil
}

//go:embed models/*.yaml
var builtin embed.FS

var registry = struct {
	sync.RWMutex
	byName   map[string]*Model
	byNumber map[uint16]*Model
}{
	byName:   make(map[string]*Model),
	byNumber: make(map[uint16]*Model),
}

func init() {
	files, err := fs.Glob(builtin, "models/*.yaml")
	if err != nil {
		panic(err)
	}
	for _, name := range files {
		data, err := builtin.ReadFile(name)
		if err != nil {
			panic(err)
		}
		m, err := Parse(data)
		if err != nil {
			panic(fmt.Sprintf("%s: %v", path.Base(name), err))
		}
		Register(m)
	}
}

// Register adds a model to the registry, replacing any model with the same
// name or number.
func Register(m *Model) {
	registry.Lock()
	defer registry.Unlock()
	registry.byName[m.Name] = m
	registry.byNumber[m.Number] = m
}

// ByName returns a model by name.
func ByName(name string) (*Model, bool) {
	registry.RLock()
	defer registry.RUnlock()
	m, ok := registry.byName[name]
	return m, ok
}

// ByNumber returns a model by its hardware model number.
func ByNumber(number uint16) (*Model, bool) {
	registry.RLock()
	defer registry.RUnlock()
	m, ok := registry.byNumber[number]
	return m, ok
}

// List returns all registered model names, sorted.
func List() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.byName))
	for name := range registry.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
