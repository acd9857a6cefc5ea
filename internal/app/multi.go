package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_streamer/internal/config"
	"github.com/relabs-tech/motion_streamer/internal/coordinator"
	"github.com/relabs-tech/motion_streamer/internal/discovery"
	"github.com/relabs-tech/motion_streamer/internal/dot"
	"github.com/relabs-tech/motion_streamer/internal/output"
	"github.com/relabs-tech/motion_streamer/internal/transport"
)

// MultiOptions are the per-invocation knobs of RunMulti that don't
// belong in the config file.
type MultiOptions struct {
	// Interactive renders the scan results and blocks for a human
	// device selection instead of taking the whole filtered set.
	Interactive bool

	// ResultsFile, when set, receives the final
	// {device_id: {status, samples}} document.
	ResultsFile string
}

// RunMulti streams from several sensors concurrently for the configured
// duration and reports one result per device. Only a completely empty
// target set is fatal; individual session failures end up in the
// summary.
func RunMulti(log logrus.FieldLogger, opts MultiOptions) error {
	cfg := config.Get()
	tr := transport.NewBLE(log)
	ctx := context.Background()

	targets, err := resolveTargets(ctx, tr, log, opts.Interactive)
	if err != nil {
		return err
	}

	writer, err := output.NewStreamWriter(cfg.OutputFile, cfg.OutputPretty, nil)
	if err != nil {
		return err
	}
	defer writer.Close()

	meta := output.NewRunMeta()
	if err := writer.Write(meta); err != nil {
		return err
	}
	log.WithField("run_id", meta.RunID).Info("run starting")

	coord := coordinator.New(tr, log)
	coord.ConnectTimeout = time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond
	coord.StopGrace = time.Duration(cfg.StopGraceMS) * time.Millisecond
	coord.OnSample = func(device string, sample dot.QuaternionSample) {
		fmt.Print(output.FormatSample(device, sample))
		fmt.Println("--------------------------------------------------")
		if err := writer.Write(output.SampleRecord{SensorID: device, QuaternionSample: sample}); err != nil {
			log.WithError(err).Error("stream write failed")
		}
	}

	duration := time.Duration(cfg.StreamDurationMS) * time.Millisecond
	results := coord.Run(ctx, targets, duration)

	output.WriteSummary(os.Stdout, results)
	if opts.ResultsFile != "" {
		if err := output.WriteRunDocument(opts.ResultsFile, results, cfg.OutputPretty); err != nil {
			return err
		}
		log.WithField("path", opts.ResultsFile).Info("run document written")
	}
	return nil
}

// resolveTargets turns the configured address list, or a scan plus
// optional interactive selection, into coordinator targets.
func resolveTargets(ctx context.Context, tr transport.Transport, log logrus.FieldLogger, interactive bool) ([]coordinator.Target, error) {
	cfg := config.Get()

	if len(cfg.DeviceAddresses) > 0 {
		targets := make([]coordinator.Target, 0, len(cfg.DeviceAddresses))
		for i, addr := range cfg.DeviceAddresses {
			targets = append(targets, coordinator.Target{
				Address: addr,
				Name:    fmt.Sprintf("Sensor-%d", i+1),
			})
		}
		return targets, nil
	}

	scanner := discovery.NewScanner(tr, log)
	scanner.Prefix = cfg.DeviceNamePrefix
	devices, err := scanner.Scan(ctx, time.Duration(cfg.ScanTimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}

	if interactive {
		devices, err = discovery.SelectInteractive(devices)
		if err != nil {
			return nil, err
		}
	}

	targets := make([]coordinator.Target, 0, len(devices))
	for _, d := range devices {
		targets = append(targets, coordinator.Target{Address: d.Address, Name: d.Name})
	}
	return targets, nil
}
