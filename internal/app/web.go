// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_streamer/internal/config"
	"github.com/relabs-tech/motion_streamer/internal/output"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// RunWeb subscribes to the live quaternion topics and serves the latest
// reading per device over HTTP: a JSON API at /api/orientation, a
// websocket push feed at /ws, and static files from ./web as the root.
func RunWeb(log logrus.FieldLogger) error {
	cfg := config.Get()

	var (
		mu     sync.RWMutex
		latest = make(map[string]output.SampleRecord)
	)

	// 1) Connect to the MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect: %w", token.Error())
	}
	log.WithField("broker", cfg.MQTTBroker).Info("connected to MQTT")

	// 2) Subscribe to every device's quaternion topic and cache the
	// latest sample per device
	topic := cfg.TopicPrefix + "/+/quaternion"
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var rec output.SampleRecord
		if err := json.Unmarshal(msg.Payload(), &rec); err != nil {
			log.WithError(err).Warn("MQTT payload unmarshal error")
			return
		}
		if rec.SensorID == "" {
			// Fall back to the topic segment for producers that omit
			// the sensor id.
			parts := strings.Split(msg.Topic(), "/")
			if len(parts) == 3 {
				rec.SensorID = parts[1]
			}
		}
		mu.Lock()
		latest[rec.SensorID] = rec
		mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.WithField("topic", topic).Info("subscribed")

	snapshot := func() map[string]output.SampleRecord {
		mu.RLock()
		defer mu.RUnlock()
		out := make(map[string]output.SampleRecord, len(latest))
		for k, v := range latest {
			out[k] = v
		}
		return out
	}

	// 3) JSON API endpoint: latest sample per device
	http.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		data := snapshot()
		if len(data) == 0 {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.WithError(err).Error("json encode error")
		}
	})

	// 4) Websocket push feed
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteJSON(snapshot()); err != nil {
				return
			}
		}
	})

	// 5) Static files from ./web as the root
	http.Handle("/", http.FileServer(http.Dir("web")))

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.WithField("addr", addr).Info("web server listening")
	return http.ListenAndServe(addr, nil)
}
