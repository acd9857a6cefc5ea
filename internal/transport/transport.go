package transport

import (
	"context"
	"errors"
	"time"
)

// Advertisement is one observation of a device broadcasting on the
// wireless medium.
type Advertisement struct {
	Address string // opaque hardware address, stable per device
	Name    string // advertised local name, may be empty
	RSSI    int16  // signal strength in dBm at observation time
}

// NotificationHandler receives one raw notification payload. Handlers
// are invoked sequentially in link reception order.
type NotificationHandler func(buf []byte)

// Link is one established connection to a device. A Link is owned by a
// single session; none of its methods are required to be safe for
// concurrent use with each other, except Disconnect.
type Link interface {
	// WriteCharacteristic writes value to the characteristic with the
	// given UUID.
	WriteCharacteristic(uuid string, value []byte) error

	// Subscribe enables notifications on the characteristic and
	// registers h as the per-packet handler.
	Subscribe(uuid string, h NotificationHandler) error

	// Unsubscribe disables notifications on the characteristic.
	Unsubscribe(uuid string) error

	// Disconnect releases the link. Safe to call more than once.
	Disconnect() error

	// SetDisconnectHandler registers f to be called when the link drops
	// unexpectedly. A local Disconnect does not trigger it.
	SetDisconnectHandler(f func(err error))
}

// Transport is the wireless boundary the streaming core runs against.
// The production implementation is BLE; tests use the in-memory mock.
type Transport interface {
	// Scan listens for advertisements until timeout elapses or ctx is
	// cancelled, invoking found for every observation. Repeated
	// observations of the same device are delivered repeatedly; the
	// caller de-duplicates.
	Scan(ctx context.Context, timeout time.Duration, found func(Advertisement)) error

	// Connect establishes a link to the device with the given address,
	// failing after timeout.
	Connect(ctx context.Context, address string, timeout time.Duration) (Link, error)
}

var (
	// ErrDeviceNotFound means the address could not be resolved on the
	// medium within the connect timeout.
	ErrDeviceNotFound = errors.New("transport: device not found")

	// ErrLinkClosed is returned by operations on a released link.
	ErrLinkClosed = errors.New("transport: link closed")

	// ErrLinkDropped is passed to the disconnect handler when the peer
	// vanishes mid-session.
	ErrLinkDropped = errors.New("transport: link dropped")
)
