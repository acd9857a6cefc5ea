package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_streamer/internal/config"
	"github.com/relabs-tech/motion_streamer/internal/discovery"
	"github.com/relabs-tech/motion_streamer/internal/transport"
)

// RunScan performs a one-shot discovery scan and renders the matching
// sensors.
func RunScan(log logrus.FieldLogger) error {
	cfg := config.Get()
	timeout := time.Duration(cfg.ScanTimeoutMS) * time.Millisecond

	scanner := discovery.NewScanner(transport.NewBLE(log), log)
	scanner.Prefix = cfg.DeviceNamePrefix

	fmt.Printf("Scanning for %s sensors for %.1f seconds...\n", cfg.DeviceNamePrefix, timeout.Seconds())
	devices, err := scanner.Scan(context.Background(), timeout)
	if err != nil {
		return err
	}

	fmt.Println(strings.Repeat("-", 70))
	for i, d := range devices {
		fmt.Printf("%d. %s [%s] %d dBm\n", i+1, d.Name, d.Address, d.RSSI)
	}
	fmt.Println(strings.Repeat("-", 70))
	fmt.Printf("Found %d sensor(s)\n", len(devices))
	return nil
}
