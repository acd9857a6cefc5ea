package discovery

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_streamer/internal/dot"
	"github.com/relabs-tech/motion_streamer/internal/transport"
)

// ErrNoDevicesFound means the scan window elapsed with zero matching
// advertisements. Recoverable: retry or widen the timeout.
var ErrNoDevicesFound = errors.New("discovery: no matching devices found")

// Device is one scan result: identifier, advertised name, and the most
// recently observed signal strength.
type Device struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int16  `json:"rssi"`
}

// Scanner finds sensors on the wireless medium by advertised name
// prefix.
type Scanner struct {
	tr  transport.Transport
	log logrus.FieldLogger

	// Prefix filters advertisements by local name; defaults to the
	// Movella naming convention.
	Prefix string
}

// NewScanner returns a Scanner over the given transport.
func NewScanner(tr transport.Transport, log logrus.FieldLogger) *Scanner {
	return &Scanner{tr: tr, log: log, Prefix: dot.NamePrefix}
}

// Scan listens for advertisements for the given window and returns the
// distinct matching devices, de-duplicated by address with the latest
// RSSI kept, strongest signal first.
func (s *Scanner) Scan(ctx context.Context, timeout time.Duration) ([]Device, error) {
	s.log.WithField("timeout", timeout).Info("scanning for sensors")

	index := make(map[string]int)
	var found []Device

	err := s.tr.Scan(ctx, timeout, func(adv transport.Advertisement) {
		if !strings.HasPrefix(adv.Name, s.Prefix) {
			return
		}
		if i, ok := index[adv.Address]; ok {
			found[i].RSSI = adv.RSSI
			return
		}
		index[adv.Address] = len(found)
		found = append(found, Device{Address: adv.Address, Name: adv.Name, RSSI: adv.RSSI})
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	if len(found) == 0 {
		return nil, ErrNoDevicesFound
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].RSSI > found[j].RSSI })
	s.log.WithField("count", len(found)).Info("scan finished")
	return found, nil
}
