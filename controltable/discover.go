package controltable

import (
	"context"
	"errors"
	"fmt"

	"github.com/hipsterbrown/servobus/session"
)

// ErrUnknownModel is returned when a servo reports a model number with no
// registered control table.
var ErrUnknownModel = errors.New("unknown servo model")

// ModelReader is the part of a session needed to identify a servo.
type ModelReader interface {
	ReadControlTable(ctx context.Context, servoID uint8, fields []session.RegisterField, sink session.Sink[session.ReadEvent]) error
}

// Identify reads the model number at address 0 over the open connection and
// returns the matching model.
func Identify(ctx context.Context, r ModelReader, servoID uint8) (*Model, error) {
	var (
		number  int64
		readErr string
		got     bool
	)
	sink := session.SinkFunc[session.ReadEvent](func(ev session.ReadEvent) error {
		switch ev := ev.(type) {
		case session.Value:
			number, got = ev.Value, true
		case session.ReadError:
			readErr = ev.Message
		}
		return nil
	})

	if err := r.ReadControlTable(ctx, servoID, []session.RegisterField{{Address: 0, Size: 2}}, sink); err != nil {
		return nil, err
	}
	if !got {
		return nil, fmt.Errorf("servo %d: read model number: %s", servoID, readErr)
	}

	m, ok := ByNumber(uint16(number))
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownModel, uint16(number))
	}
	return m, nil
}
