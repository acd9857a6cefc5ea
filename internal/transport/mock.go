// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockDevice scripts the behavior of one device on a Mock medium.
type MockDevice struct {
	Address string
	Name    string
	RSSI    int16

	// Readvertise repeats the advertisement this many extra times per
	// scan window, to exercise caller-side de-duplication.
	Readvertise int

	// ConnectErr, when set, makes every connect attempt fail.
	ConnectErr error

	// ConnectDelay pauses connect attempts before they resolve.
	ConnectDelay time.Duration

	// WriteErr, when set, fails every characteristic write after
	// WriteErrAfter successful ones.
	WriteErr      error
	WriteErrAfter int

	// Notifications are replayed in order once a subscriber registers.
	Notifications [][]byte

	// NotifyInterval is the pause between notifications; defaults to
	// one millisecond.
	NotifyInterval time.Duration

	// DropAfter > 0 drops the link after that many notifications were
	// delivered (or after the replay finishes, whichever comes first).
	DropAfter int

	// StallOnStop blocks Unsubscribe until the link is force-released,
	// simulating a device that never acknowledges shutdown.
	StallOnStop bool
}

// Write records one characteristic write for test assertions.
type Write struct {
	UUID  string
	Value []byte
}

// Mock is an in-memory Transport. It mirrors the shape of the BLE
// implementation closely enough that sessions and the coordinator run
// unmodified against it.
type Mock struct {
	mu      sync.Mutex
	devices map[string]*MockDevice
	order   []string
	links   map[string]*MockLink
}

// NewMock returns an empty medium.
func NewMock() *Mock {
	return &Mock{
		devices: make(map[string]*MockDevice),
		links:   make(map[string]*MockLink),
	}
}

// AddDevice puts a scripted device on the medium.
func (m *Mock) AddDevice(d *MockDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.Address]; !ok {
		m.order = append(m.order, d.Address)
	}
	m.devices[d.Address] = d
}

// Link returns the most recent link established to address, or nil.
func (m *Mock) Link(address string) *MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[address]
}

func (m *Mock) Scan(ctx context.Context, timeout time.Duration, found func(Advertisement)) error {
	m.mu.Lock()
	devices := make([]*MockDevice, 0, len(m.order))
	for _, addr := range m.order {
		devices = append(devices, m.devices[addr])
	}
	m.mu.Unlock()

	for _, d := range devices {
		for i := 0; i <= d.Readvertise; i++ {
			found(Advertisement{Address: d.Address, Name: d.Name, RSSI: d.RSSI})
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return nil
	}
}

func (m *Mock) Connect(ctx context.Context, address string, timeout time.Duration) (Link, error) {
	m.mu.Lock()
	d := m.devices[address]
	m.mu.Unlock()

	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	if d.ConnectDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.ConnectDelay):
		}
	}
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	link := &MockLink{dev: d, released: make(chan struct{})}
	m.mu.Lock()
	m.links[address] = link
	m.mu.Unlock()
	return link, nil
}

// MockLink is the Link half of the mock medium.
type MockLink struct {
	dev *MockDevice

	mu           sync.Mutex
	writes       []Write
	handler      NotificationHandler
	subscribed   string
	onDisconnect func(error)
	closed       bool

	released    chan struct{}
	releaseOnce sync.Once
}

// Writes returns every characteristic write seen so far, in order.
func (l *MockLink) Writes() []Write {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Write(nil), l.writes...)
}

// SubscribedUUID returns the characteristic UUID of the active
// subscription, or empty.
func (l *MockLink) SubscribedUUID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribed
}

// Closed reports whether the link has been released, locally or by a
// simulated drop.
func (l *MockLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *MockLink) WriteCharacteristic(uuid string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if l.dev.WriteErr != nil && len(l.writes) >= l.dev.WriteErrAfter {
		return l.dev.WriteErr
	}
	l.writes = append(l.writes, Write{UUID: uuid, Value: append([]byte(nil), value...)})
	return nil
}

func (l *MockLink) Subscribe(uuid string, h NotificationHandler) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	l.handler = h
	l.subscribed = uuid
	l.mu.Unlock()

	go l.replay()
	return nil
}

func (l *MockLink) replay() {
	interval := l.dev.NotifyInterval
	if interval <= 0 {
		interval = time.Millisecond
	}

	delivered := 0
	for _, buf := range l.dev.Notifications {
		select {
		case <-l.released:
			return
		case <-time.After(interval):
		}

		l.mu.Lock()
		h := l.handler
		closed := l.closed
		l.mu.Unlock()
		if closed || h == nil {
			return
		}
		h(buf)
		delivered++

		if l.dev.DropAfter > 0 && delivered >= l.dev.DropAfter {
			l.drop()
			return
		}
	}

	if l.dev.DropAfter > 0 {
		l.drop()
	}
}

// drop simulates the peer vanishing mid-stream.
func (l *MockLink) drop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.handler = nil
	f := l.onDisconnect
	l.mu.Unlock()

	l.releaseOnce.Do(func() { close(l.released) })
	if f != nil {
		f(ErrLinkDropped)
	}
}

func (l *MockLink) Unsubscribe(uuid string) error {
	if l.dev.StallOnStop {
		<-l.released
		return ErrLinkClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.handler = nil
	l.subscribed = ""
	return nil
}

func (l *MockLink) Disconnect() error {
	l.mu.Lock()
	l.closed = true
	l.handler = nil
	l.mu.Unlock()
	l.releaseOnce.Do(func() { close(l.released) })
	return nil
}

func (l *MockLink) SetDisconnectHandler(f func(err error)) {
	l.mu.Lock()
	l.onDisconnect = f
	l.mu.Unlock()
}
