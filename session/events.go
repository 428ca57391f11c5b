package session

// ServoInfo describes one servo found by a scan. Protocol 1.0 pings carry no
// model number, so ModelNumber is 0 for those.
type ServoInfo struct {
	ID          uint8  `json:"id"`
	ModelNumber uint16 `json:"model_number"`
}

// Event is anything streamed to a Sink. EventName is the tag used on the wire.
type Event interface {
	EventName() string
}

// ScanEvent is one of Found, Progress or ScanFinished.
type ScanEvent interface {
	Event
	scanEvent()
}

// Found reports a servo that answered a ping.
type Found struct {
	ServoInfo
}

// Progress is emitted before each ID is pinged.
type Progress struct {
	Current uint8  `json:"current"`
	Total   uint16 `json:"total"`
}

// ScanFinished is always the last event of a scan.
type ScanFinished struct {
	Cancelled bool `json:"cancelled"`
}

func (Found) EventName() string        { return "found" }
func (Progress) EventName() string     { return "progress" }
func (ScanFinished) EventName() string { return "finished" }

func (Found) scanEvent()        {}
func (Progress) scanEvent()     {}
func (ScanFinished) scanEvent() {}

// ReadEvent is one of Value, ReadError or ReadFinished.
type ReadEvent interface {
	Event
	readEvent()
}

// Value is a decoded register value.
type Value struct {
	Address uint16 `json:"address"`
	Value   int64  `json:"value"`
}

// ReadError reports a register that could not be read.
type ReadError struct {
	Address uint16 `json:"address"`
	Message string `json:"message"`
}

// ReadFinished is always the last event of a read batch.
type ReadFinished struct{}

func (Value) EventName() string        { return "value" }
func (ReadError) EventName() string    { return "error" }
func (ReadFinished) EventName() string { return "finished" }

func (Value) readEvent()        {}
func (ReadError) readEvent()    {}
func (ReadFinished) readEvent() {}

// Envelope is the wire shape of an event: {"event": name, "data": payload}.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Wrap builds the wire envelope for an event.
func Wrap(e Event) Envelope {
	return Envelope{Event: e.EventName(), Data: e}
}

// Sink receives events. Delivery is best effort: producers ignore Send
// errors and keep working.
type Sink[E any] interface {
	Send(E) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc[E any] func(E) error

// Send calls f(e).
func (f SinkFunc[E]) Send(e E) error {
	return f(e)
}
