package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hipsterbrown/servobus/controltable"
	"github.com/hipsterbrown/servobus/session"
)

// fieldSpec is a --field argument: a control table field name, or an
// explicit ADDRESS:SIZE span.
type fieldSpec struct {
	name     string
	register session.RegisterField
}

func parseFieldSpec(s string) (fieldSpec, error) {
	addr, size, ok := strings.Cut(s, ":")
	if !ok {
		return fieldSpec{name: s}, nil
	}
	a, err := strconv.ParseUint(addr, 0, 16)
	if err != nil {
		return fieldSpec{}, fmt.Errorf("invalid address in %q: %w", s, err)
	}
	n, err := strconv.ParseUint(size, 0, 16)
	if err != nil || (n != 1 && n != 2 && n != 4) {
		return fieldSpec{}, fmt.Errorf("invalid size in %q: must be 1, 2 or 4", s)
	}
	return fieldSpec{register: session.RegisterField{Address: uint16(a), Size: uint16(n)}}, nil
}

func (f fieldSpec) needsModel() bool {
	return f.name != ""
}

// resolve returns the span for the spec, looking named fields up in m.
func (f fieldSpec) resolve(m *controltable.Model) (session.RegisterField, error) {
	if !f.needsModel() {
		return f.register, nil
	}
	field, ok := m.Field(f.name)
	if !ok {
		return session.RegisterField{}, fmt.Errorf("model %s has no field %q", m.Name, f.name)
	}
	return field.Register(), nil
}

// openAndIdentify opens a persistent connection and, when needed, reads the
// servo's model number.
func openAndIdentify(ctx context.Context, s *session.Session, port string, protocol session.Protocol, baudrate int, id uint8, identify bool) (*controltable.Model, error) {
	if err := s.OpenConnection(port, protocol, baudrate); err != nil {
		return nil, err
	}
	if !identify {
		return nil, nil
	}
	return controltable.Identify(ctx, s, id)
}
