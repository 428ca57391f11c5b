package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hipsterbrown/servobus/dynamixel"
)

type fakeServo struct {
	model uint16
	table map[uint16][]byte
}

type fakeWrite struct {
	id      byte
	address uint16
	data    []byte
}

// fakeBus backs both protocol adapters. It tracks how many handles are open
// so tests can check that the port is never opened twice.
type fakeBus struct {
	mu        sync.Mutex
	servos    map[byte]fakeServo
	pings     []byte
	writes    []fakeWrite
	open      int
	maxOpen   int
	closes    int
	onPing    func(id byte)
	readPanic bool
}

func newFakeBus(servos map[byte]fakeServo) *fakeBus {
	if servos == nil {
		servos = map[byte]fakeServo{}
	}
	return &fakeBus{servos: servos}
}

func (b *fakeBus) opened() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open++
	b.maxOpen = max(b.maxOpen, b.open)
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open--
	b.closes++
	return nil
}

func (b *fakeBus) ping(id byte) []byte {
	b.mu.Lock()
	b.pings = append(b.pings, id)
	hook := b.onPing
	b.mu.Unlock()

	if hook != nil {
		hook(id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if id == dynamixel.BroadcastID {
		ids := make([]byte, 0, len(b.servos))
		for id := range b.servos {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		return ids
	}
	if _, ok := b.servos[id]; ok {
		return []byte{id}
	}
	return nil
}

func (b *fakeBus) read(id byte, address, length uint16) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readPanic {
		panic("read exploded")
	}
	servo, ok := b.servos[id]
	if !ok {
		return nil, &dynamixel.ServoError{ID: int(id), Op: "read", Err: dynamixel.ErrNoResponse}
	}
	data, ok := servo.table[address]
	if !ok || len(data) != int(length) {
		return nil, &dynamixel.ServoError{ID: int(id), Op: "read", Status: dynamixel.StatusErrorV2(dynamixel.StatusAccess)}
	}
	return data, nil
}

func (b *fakeBus) write(id byte, address uint16, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.servos[id]; !ok {
		return &dynamixel.ServoError{ID: int(id), Op: "write", Err: dynamixel.ErrNoResponse}
	}
	b.writes = append(b.writes, fakeWrite{id: id, address: address, data: slices.Clone(data)})
	return nil
}

func (b *fakeBus) pinged() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.pings)
}

type fakeV1 struct{ *fakeBus }

func (b fakeV1) Ping(_ context.Context, id byte) ([]byte, error) {
	ids := b.ping(id)
	if len(ids) == 0 {
		return nil, dynamixel.ErrNoResponse
	}
	return ids, nil
}

func (b fakeV1) Read(_ context.Context, id, address, length byte) ([]byte, error) {
	return b.read(id, uint16(address), uint16(length))
}

func (b fakeV1) Write(_ context.Context, id, address byte, data []byte) error {
	return b.write(id, uint16(address), data)
}

type fakeV2 struct{ *fakeBus }

func (b fakeV2) Ping(_ context.Context, id byte) ([]dynamixel.PingResponse, error) {
	ids := b.ping(id)
	if len(ids) == 0 {
		return nil, dynamixel.ErrNoResponse
	}
	resps := make([]dynamixel.PingResponse, 0, len(ids))
	for _, id := range ids {
		resps = append(resps, dynamixel.PingResponse{ID: id, ModelNumber: b.servos[id].model})
	}
	return resps, nil
}

func (b fakeV2) Read(_ context.Context, id byte, address, length uint16) ([]byte, error) {
	return b.read(id, address, length)
}

func (b fakeV2) Write(_ context.Context, id byte, address uint16, data []byte) error {
	return b.write(id, address, data)
}

type connectCall struct {
	protocol Protocol
	port     string
	baudrate int
	timeout  time.Duration
}

type fakeConnector struct {
	bus *fakeBus

	mu    sync.Mutex
	fail  error
	calls []connectCall
}

func newFakeConnector(servos map[byte]fakeServo) *fakeConnector {
	return &fakeConnector{bus: newFakeBus(servos)}
}

func (c *fakeConnector) connect(protocol Protocol, port string, baudrate int, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, connectCall{protocol: protocol, port: port, baudrate: baudrate, timeout: timeout})
	if c.fail != nil {
		return c.fail
	}
	c.bus.opened()
	return nil
}

func (c *fakeConnector) ConnectV1(port string, baudrate int, timeout time.Duration) (V1Bus, error) {
	if err := c.connect(ProtocolV1, port, baudrate, timeout); err != nil {
		return nil, err
	}
	return fakeV1{c.bus}, nil
}

func (c *fakeConnector) ConnectV2(port string, baudrate int, timeout time.Duration) (V2Bus, error) {
	if err := c.connect(ProtocolV2, port, baudrate, timeout); err != nil {
		return nil, err
	}
	return fakeV2{c.bus}, nil
}

func (c *fakeConnector) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *fakeConnector) connects() []connectCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

type recorder[E any] struct {
	mu     sync.Mutex
	events []E
}

func (r *recorder[E]) Send(e E) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder[E]) Events() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func le32(v int32) []byte {
	return dynamixel.EncodeValue(int64(v), 4)
}

func errSink[E any]() Sink[E] {
	return SinkFunc[E](func(E) error { return fmt.Errorf("receiver gone") })
}
