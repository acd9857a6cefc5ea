// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_streamer/internal/dot"
	"github.com/relabs-tech/motion_streamer/internal/transport"
)

// State of a session. Transitions run
// Idle → Connecting → Subscribing → Streaming → Closing → Closed,
// with Failed absorbing from any non-terminal state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrConnect is the session-fatal link establishment failure.
	ErrConnect = errors.New("session: connect failed")

	// ErrSubscribe is a failure to enter streaming after connecting.
	ErrSubscribe = errors.New("session: subscribe failed")

	// ErrStopTimeout marks a session that never acknowledged Stop and
	// was forcibly released.
	ErrStopTimeout = errors.New("session: stop timed out")
)

// Session owns one connect-stream-disconnect lifecycle against a single
// sensor. Sessions share no mutable state with each other; each keeps
// its own link handle and sample accumulator.
type Session struct {
	id   string
	name string
	tr   transport.Transport
	log  logrus.FieldLogger

	mu         sync.Mutex
	state      State
	link       transport.Link
	cause      error
	dropped    bool
	onSample   func(dot.QuaternionSample)
	samples    []dot.QuaternionSample
	decodeErrs int
}

// New returns an Idle session for the device with the given hardware
// address. name is a human-readable label used only for diagnostics.
func New(tr transport.Transport, id, name string, log logrus.FieldLogger) *Session {
	if name == "" {
		name = id
	}
	return &Session{
		id:   id,
		name: name,
		tr:   tr,
		log:  log.WithField("device", id),
	}
}

// ID returns the device hardware address.
func (s *Session) ID() string { return s.id }

// Name returns the human-readable device label.
func (s *Session) Name() string { return s.name }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal failure cause, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Connect transitions Idle→Connecting and establishes the link. On
// timeout or link rejection the session fails with ErrConnect.
func (s *Session) Connect(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: connect from state %s", st)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	link, err := s.tr.Connect(ctx, s.id, timeout)
	if err != nil {
		werr := fmt.Errorf("%w: %v", ErrConnect, err)
		s.fail(werr)
		return werr
	}

	s.mu.Lock()
	s.link = link
	s.mu.Unlock()
	s.log.Debug("connected")
	return nil
}

// StartStreaming transitions Connecting→Subscribing→Streaming: clears
// any stale measurement mode, enables notifications on the medium
// payload characteristic, then selects Extended Quaternion mode.
// onSample is invoked once per decoded packet, in link reception order;
// it may be nil when only the accumulated result is wanted.
func (s *Session) StartStreaming(onSample func(dot.QuaternionSample)) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: start streaming from state %s", st)
	}
	s.state = StateSubscribing
	s.onSample = onSample
	link := s.link
	s.mu.Unlock()

	link.SetDisconnectHandler(s.onLinkDropped)

	// The firmware keeps its last measurement mode across connections;
	// stop first so the mode select below starts from a clean state.
	if err := link.WriteCharacteristic(dot.ControlCharacteristicUUID, dot.CmdStopMeasurement); err != nil {
		return s.failSubscribe(err)
	}
	if err := link.Subscribe(dot.MediumPayloadCharacteristicUUID, s.onNotification); err != nil {
		return s.failSubscribe(err)
	}
	if err := link.WriteCharacteristic(dot.ControlCharacteristicUUID, dot.CmdExtendedQuaternion); err != nil {
		return s.failSubscribe(err)
	}

	s.mu.Lock()
	// A drop can race the mode select write; don't resurrect a failed
	// session.
	if s.state == StateSubscribing {
		s.state = StateStreaming
	}
	st := s.state
	s.mu.Unlock()

	if st != StateStreaming {
		return s.causeLocked()
	}
	s.log.Info("streaming extended quaternion data")
	return nil
}

// fail marks the session terminally failed unless a drop already did.
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFailed || s.state == StateClosed {
		return
	}
	s.state = StateFailed
	s.cause = err
}

func (s *Session) failSubscribe(err error) error {
	werr := fmt.Errorf("%w: %v", ErrSubscribe, err)
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()

	s.fail(werr)

	// Stop is a no-op once the session is Failed, so the link has to be
	// released here or it stays open for the life of the process.
	if link != nil {
		_ = link.Disconnect()
	}
	return werr
}

func (s *Session) causeLocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// onNotification is the per-packet path. It must never panic: a
// malformed payload is logged, counted, and dropped while the session
// continues.
func (s *Session) onNotification(buf []byte) {
	sample, err := dot.ParseExtendedQuaternion(buf)
	if err != nil {
		s.mu.Lock()
		s.decodeErrs++
		n := s.decodeErrs
		s.mu.Unlock()
		s.log.WithError(err).WithField("count", n).Debug("dropping undecodable payload")
		return
	}

	s.mu.Lock()
	if s.state != StateStreaming && s.state != StateClosing {
		s.mu.Unlock()
		return
	}
	s.samples = append(s.samples, sample)
	cb := s.onSample
	s.mu.Unlock()

	if cb != nil {
		cb(sample)
	}
}

// onLinkDropped handles an unexpected peer disconnect. The session
// transitions straight to Failed; the owner sees it in the terminal
// status, never as a crash out of the notification path.
func (s *Session) onLinkDropped(err error) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.dropped = true
	s.cause = err
	s.mu.Unlock()
	s.log.WithError(err).Warn("link dropped mid-session")
}

// Stop transitions Streaming→Closing→Closed: disables notifications,
// writes the stop measurement command, and releases the link. Calling
// Stop on an already terminal (or never started) session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateClosed, StateFailed:
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	link := s.link
	s.mu.Unlock()

	var firstErr error
	if link != nil {
		// Best effort teardown: run every step even if one fails, the
		// way the original firmware expects stop + unsubscribe before
		// disconnect.
		if err := link.Unsubscribe(dot.MediumPayloadCharacteristicUUID); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := link.WriteCharacteristic(dot.ControlCharacteristicUUID, dot.CmdStopMeasurement); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := link.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.mu.Lock()
	if s.state == StateClosing {
		s.state = StateClosed
	}
	s.mu.Unlock()

	if firstErr != nil && !errors.Is(firstErr, transport.ErrLinkClosed) {
		s.log.WithError(firstErr).Debug("teardown error")
	}
	s.log.Debug("session closed")
	return firstErr
}

// ForceRelease tears the link down without waiting for the device to
// acknowledge, marking the session failed with ErrStopTimeout. Used by
// the coordinator when Stop exceeds its grace period.
func (s *Session) ForceRelease() {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.cause = ErrStopTimeout
	link := s.link
	s.mu.Unlock()

	if link != nil {
		_ = link.Disconnect()
	}
	s.log.Warn("session unresponsive to stop, link force released")
}

// Samples returns a copy of everything decoded so far, in reception
// order.
func (s *Session) Samples() []dot.QuaternionSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dot.QuaternionSample(nil), s.samples...)
}

// Status renders the terminal status of the session.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return "completed"
	case StateFailed:
		switch {
		case s.dropped:
			return "disconnected"
		case errors.Is(s.cause, ErrConnect):
			return "failed:ConnectError"
		case errors.Is(s.cause, ErrSubscribe):
			return "failed:SubscribeError"
		case errors.Is(s.cause, ErrStopTimeout):
			return "failed:timeout"
		case s.cause != nil:
			return "failed:" + s.cause.Error()
		default:
			return "failed:unknown"
		}
	default:
		return "failed:" + s.state.String()
	}
}
