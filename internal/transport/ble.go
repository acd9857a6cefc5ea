package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// BLE is the production Transport on top of the platform Bluetooth
// stack. One BLE value multiplexes scanning and any number of links on
// the default adapter.
type BLE struct {
	adapter *bluetooth.Adapter
	log     logrus.FieldLogger

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	links map[string]*bleLink
}

// NewBLE returns a Transport on the default adapter. The adapter is
// enabled lazily on first use.
func NewBLE(log logrus.FieldLogger) *BLE {
	return &BLE{
		adapter: bluetooth.DefaultAdapter,
		log:     log,
		links:   make(map[string]*bleLink),
	}
}

func (t *BLE) enable() error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fmt.Errorf("enable BLE adapter: %w", err)
			return
		}
		t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			t.mu.Lock()
			link := t.links[device.Address.String()]
			t.mu.Unlock()
			if link != nil {
				link.peerDropped()
			}
		})
	})
	return t.enableErr
}

// Scan listens for advertisements for the given window. The adapter
// delivers every observation, including repeats of the same device.
func (t *BLE) Scan(ctx context.Context, timeout time.Duration, found func(Advertisement)) error {
	if err := t.enable(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(_ *bluetooth.Adapter, sr bluetooth.ScanResult) {
			found(Advertisement{
				Address: sr.Address.String(),
				Name:    sr.LocalName(),
				RSSI:    sr.RSSI,
			})
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = t.adapter.StopScan()
		<-done
		return ctx.Err()
	case <-timer.C:
		_ = t.adapter.StopScan()
		return <-done
	}
}

// Connect resolves the address on the medium, establishes the link, and
// discovers the device's characteristics. Address resolution goes
// through a scan so identifiers stay opaque strings regardless of how
// the platform represents hardware addresses.
func (t *BLE) Connect(ctx context.Context, address string, timeout time.Duration) (Link, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	target, err := t.resolve(ctx, address, timeout)
	if err != nil {
		return nil, err
	}

	device, err := t.adapter.Connect(target, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	link := &bleLink{t: t, address: address, device: device, log: t.log}
	if err := link.discover(); err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	t.mu.Lock()
	t.links[address] = link
	t.mu.Unlock()

	t.log.WithField("device", address).Debug("BLE link established")
	return link, nil
}

func (t *BLE) resolve(ctx context.Context, address string, timeout time.Duration) (bluetooth.Address, error) {
	var (
		mu     sync.Mutex
		target bluetooth.Address
		ok     bool
	)

	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(_ *bluetooth.Adapter, sr bluetooth.ScanResult) {
			if !strings.EqualFold(sr.Address.String(), address) {
				return
			}
			mu.Lock()
			target = sr.Address
			ok = true
			mu.Unlock()
			_ = t.adapter.StopScan()
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return bluetooth.Address{}, fmt.Errorf("resolve %s: %w", address, err)
		}
	case <-ctx.Done():
		_ = t.adapter.StopScan()
		<-done
		return bluetooth.Address{}, ctx.Err()
	case <-timer.C:
		_ = t.adapter.StopScan()
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	if !ok {
		return bluetooth.Address{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	return target, nil
}

func (t *BLE) forget(address string) {
	t.mu.Lock()
	delete(t.links, address)
	t.mu.Unlock()
}

type bleLink struct {
	t       *BLE
	address string
	device  bluetooth.Device
	log     logrus.FieldLogger

	mu           sync.Mutex
	chars        map[string]bluetooth.DeviceCharacteristic
	onDisconnect func(error)
	closed       bool
}

// discover indexes every characteristic the device exposes by UUID so
// the link stays generic over GATT layouts.
func (l *bleLink) discover() error {
	services, err := l.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("discover services on %s: %w", l.address, err)
	}

	chars := make(map[string]bluetooth.DeviceCharacteristic)
	for _, srv := range services {
		cc, err := srv.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("discover characteristics on %s: %w", l.address, err)
		}
		for _, c := range cc {
			chars[strings.ToLower(c.UUID().String())] = c
		}
	}

	l.mu.Lock()
	l.chars = chars
	l.mu.Unlock()
	return nil
}

func (l *bleLink) characteristic(uuid string) (bluetooth.DeviceCharacteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return bluetooth.DeviceCharacteristic{}, ErrLinkClosed
	}
	c, ok := l.chars[strings.ToLower(uuid)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not found on %s", uuid, l.address)
	}
	return c, nil
}

func (l *bleLink) WriteCharacteristic(uuid string, value []byte) error {
	c, err := l.characteristic(uuid)
	if err != nil {
		return err
	}
	if _, err := c.WriteWithoutResponse(value); err != nil {
		return fmt.Errorf("write characteristic %s on %s: %w", uuid, l.address, err)
	}
	return nil
}

func (l *bleLink) Subscribe(uuid string, h NotificationHandler) error {
	c, err := l.characteristic(uuid)
	if err != nil {
		return err
	}
	if err := c.EnableNotifications(func(buf []byte) { h(buf) }); err != nil {
		return fmt.Errorf("enable notifications on %s: %w", l.address, err)
	}
	return nil
}

func (l *bleLink) Unsubscribe(uuid string) error {
	c, err := l.characteristic(uuid)
	if err != nil {
		return err
	}
	if err := c.EnableNotifications(nil); err != nil {
		return fmt.Errorf("disable notifications on %s: %w", l.address, err)
	}
	return nil
}

func (l *bleLink) Disconnect() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.t.forget(l.address)
	if err := l.device.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", l.address, err)
	}
	return nil
}

func (l *bleLink) SetDisconnectHandler(f func(err error)) {
	l.mu.Lock()
	l.onDisconnect = f
	l.mu.Unlock()
}

func (l *bleLink) peerDropped() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	f := l.onDisconnect
	l.mu.Unlock()

	l.t.forget(l.address)
	l.log.WithField("device", l.address).Warn("BLE link dropped by peer")
	if f != nil {
		f(ErrLinkDropped)
	}
}
