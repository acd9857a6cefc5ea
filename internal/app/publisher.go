package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_streamer/internal/config"
	"github.com/relabs-tech/motion_streamer/internal/coordinator"
	"github.com/relabs-tech/motion_streamer/internal/dot"
	"github.com/relabs-tech/motion_streamer/internal/output"
	"github.com/relabs-tech/motion_streamer/internal/transport"
)

// RunPublisher streams from the configured sensors and publishes every
// decoded sample as JSON to MQTT, one retained topic per device:
// <prefix>/<address>/quaternion. Terminal statuses go to
// <prefix>/<address>/status when the run ends.
func RunPublisher(log logrus.FieldLogger) error {
	cfg := config.Get()
	tr := transport.NewBLE(log)
	ctx := context.Background()

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDPublisher)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.WithField("broker", cfg.MQTTBroker).Info("connected to MQTT")

	targets, err := resolveTargets(ctx, tr, log, false)
	if err != nil {
		return err
	}

	coord := coordinator.New(tr, log)
	coord.ConnectTimeout = time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond
	coord.StopGrace = time.Duration(cfg.StopGraceMS) * time.Millisecond
	coord.OnSample = func(device string, sample dot.QuaternionSample) {
		payload, err := json.Marshal(output.SampleRecord{SensorID: device, QuaternionSample: sample})
		if err != nil {
			log.WithError(err).Error("sample marshal failed")
			return
		}
		topic := fmt.Sprintf("%s/%s/quaternion", cfg.TopicPrefix, device)
		if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).WithField("topic", topic).Error("MQTT publish failed")
		}
	}

	duration := time.Duration(cfg.StreamDurationMS) * time.Millisecond
	results := coord.Run(ctx, targets, duration)

	for device, r := range results {
		publishStatus(client, cfg.TopicPrefix, device, r, log)
	}
	return nil
}

func publishStatus(client mqtt.Client, prefix, device string, r *coordinator.SessionResult, log logrus.FieldLogger) {
	payload, err := json.Marshal(struct {
		Status  string `json:"status"`
		Samples int    `json:"samples"`
	}{Status: r.Status, Samples: len(r.Samples)})
	if err != nil {
		log.WithError(err).Error("status marshal failed")
		return
	}
	topic := fmt.Sprintf("%s/%s/status", prefix, device)
	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		log.WithError(token.Error()).WithField("topic", topic).Error("MQTT publish failed")
	}
}
