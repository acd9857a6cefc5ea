package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_streamer/internal/dot"
	"github.com/relabs-tech/motion_streamer/internal/session"
	"github.com/relabs-tech/motion_streamer/internal/transport"
)

// Target names one device to stream from.
type Target struct {
	Address string
	Name    string
}

// SessionResult is the sealed outcome of one device session: an ordered
// sample sequence (reception order) plus a terminal status.
type SessionResult struct {
	Name    string                 `json:"name,omitempty"`
	Status  string                 `json:"status"`
	Samples []dot.QuaternionSample `json:"samples"`
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultStopGrace      = 5 * time.Second
)

// Coordinator runs one session per target concurrently and merges the
// decoded readings per device. The failure of any individual session
// never aborts the others.
type Coordinator struct {
	tr  transport.Transport
	log logrus.FieldLogger

	// ConnectTimeout bounds each session's connect attempt.
	ConnectTimeout time.Duration

	// StopGrace bounds how long a session may take to acknowledge Stop
	// before it is force released and marked failed:timeout.
	StopGrace time.Duration

	// OnSample, when set, observes every decoded sample live, keyed by
	// device address. Invocations for a single device preserve link
	// reception order; devices interleave arbitrarily.
	OnSample func(device string, s dot.QuaternionSample)
}

// New returns a Coordinator with default timeouts.
func New(tr transport.Transport, log logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		tr:             tr,
		log:            log,
		ConnectTimeout: defaultConnectTimeout,
		StopGrace:      defaultStopGrace,
	}
}

// Run streams from every target for the given duration and returns
// exactly one SessionResult per requested identifier, however many
// sessions failed.
//
// Window policy: the streaming window opens once every session has
// resolved its connect and subscribe attempt, i.e. it is measured from
// the moment the last surviving session entered Streaming. Sessions
// that failed to connect do not extend the window; when no session
// survives, the window is skipped entirely.
func (c *Coordinator) Run(ctx context.Context, targets []Target, duration time.Duration) map[string]*SessionResult {
	results := make(map[string]*SessionResult, len(targets))
	if len(targets) == 0 {
		return results
	}

	// One session per identifier, regardless of how often an address
	// was requested.
	sessions := make([]*session.Session, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if seen[t.Address] {
			continue
		}
		seen[t.Address] = true
		sessions = append(sessions, session.New(c.tr, t.Address, t.Name, c.log))
	}

	// Connect and subscribe all sessions concurrently. The moment the
	// last session entered Streaming anchors the measurement window, so
	// attempts that fail slowly overlap the window instead of extending
	// it for the survivors.
	var (
		wg            sync.WaitGroup
		streamMu      sync.Mutex
		lastStreaming time.Time
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			if err := s.Connect(ctx, c.ConnectTimeout); err != nil {
				c.log.WithError(err).WithField("device", s.ID()).Error("session connect failed")
				return
			}
			if err := s.StartStreaming(c.sampleFunc(s.ID())); err != nil {
				c.log.WithError(err).WithField("device", s.ID()).Error("session subscribe failed")
				return
			}
			streamMu.Lock()
			if now := time.Now(); now.After(lastStreaming) {
				lastStreaming = now
			}
			streamMu.Unlock()
		}(s)
	}
	wg.Wait()

	streaming := 0
	for _, s := range sessions {
		if s.State() == session.StateStreaming {
			streaming++
		}
	}
	c.log.WithFields(logrus.Fields{
		"requested": len(sessions),
		"streaming": streaming,
	}).Info("streaming window open")

	if remaining := duration - time.Since(lastStreaming); streaming > 0 && remaining > 0 {
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.log.Info("run cancelled, stopping sessions")
		}
	}

	// Stop every still-active session concurrently and wait for all
	// terminal transitions.
	var stopWG sync.WaitGroup
	for _, s := range sessions {
		stopWG.Add(1)
		go func(s *session.Session) {
			defer stopWG.Done()
			c.stopWithGrace(s)
		}(s)
	}
	stopWG.Wait()

	for _, s := range sessions {
		results[s.ID()] = &SessionResult{
			Name:    s.Name(),
			Status:  s.Status(),
			Samples: s.Samples(),
		}
	}
	return results
}

func (c *Coordinator) sampleFunc(device string) func(dot.QuaternionSample) {
	if c.OnSample == nil {
		return nil
	}
	return func(s dot.QuaternionSample) {
		c.OnSample(device, s)
	}
}

// stopWithGrace issues Stop and, if the session does not reach a
// terminal state within the grace period, force releases it. The
// stalled Stop goroutine is abandoned; the forced disconnect unblocks
// it on every transport we have.
func (c *Coordinator) stopWithGrace(s *session.Session) {
	done := make(chan struct{})
	go func() {
		if err := s.Stop(); err != nil {
			c.log.WithError(err).WithField("device", s.ID()).Debug("stop error")
		}
		close(done)
	}()

	grace := c.StopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.ForceRelease()
	}
}
