// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_streamer/internal/config"
	"github.com/relabs-tech/motion_streamer/internal/discovery"
	"github.com/relabs-tech/motion_streamer/internal/dot"
	"github.com/relabs-tech/motion_streamer/internal/output"
	"github.com/relabs-tech/motion_streamer/internal/session"
	"github.com/relabs-tech/motion_streamer/internal/transport"
)

// RunStream connects to a single sensor and prints its quaternion
// stream for the configured duration. The target is the first explicit
// address, or the strongest scan match when none is configured.
func RunStream(log logrus.FieldLogger) error {
	cfg := config.Get()
	tr := transport.NewBLE(log)
	ctx := context.Background()

	address := ""
	name := ""
	if len(cfg.DeviceAddresses) > 0 {
		address = cfg.DeviceAddresses[0]
	} else {
		scanner := discovery.NewScanner(tr, log)
		scanner.Prefix = cfg.DeviceNamePrefix
		devices, err := scanner.Scan(ctx, time.Duration(cfg.ScanTimeoutMS)*time.Millisecond)
		if err != nil {
			return err
		}
		address = devices[0].Address
		name = devices[0].Name
	}

	writer, err := output.NewStreamWriter(cfg.OutputFile, cfg.OutputPretty, nil)
	if err != nil {
		return err
	}
	defer writer.Close()
	if err := writer.Write(output.NewRunMeta()); err != nil {
		return err
	}

	s := session.New(tr, address, name, log)
	log.WithField("device", address).Info("connecting")
	if err := s.Connect(ctx, time.Duration(cfg.ConnectTimeoutMS)*time.Millisecond); err != nil {
		return err
	}

	err = s.StartStreaming(func(sample dot.QuaternionSample) {
		fmt.Println(strings.Repeat("-", 50))
		fmt.Print(output.FormatSample(address, sample))
		if !sample.IsNormalized(0.1) {
			log.WithField("norm", sample.Norm()).Warn("quaternion not normalized")
		}
		if err := writer.Write(output.SampleRecord{SensorID: address, QuaternionSample: sample}); err != nil {
			log.WithError(err).Error("stream write failed")
		}
	})
	if err != nil {
		_ = s.Stop()
		return err
	}

	duration := time.Duration(cfg.StreamDurationMS) * time.Millisecond
	log.WithField("duration", duration).Info("streaming")
	time.Sleep(duration)

	if err := s.Stop(); err != nil {
		log.WithError(err).Warn("session teardown error")
	}

	fmt.Fprintf(os.Stdout, "Session %s: %s, %d samples\n", address, s.Status(), len(s.Samples()))
	return nil
}
