package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"bricktrack/go-sync-server/internal/model"
)

// mqttSyncPayload is the batch a field device publishes to
// bricktrack/<masonID>/placements.
type mqttSyncPayload struct {
	MasonID    string                 `json:"masonId"`
	Placements []model.PlacementEvent `json:"placements"`
}

func (a *App) startMQTT() error {
	clientID := fmt.Sprintf("bricktrack-server-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().
		AddBroker(a.cfg.MQTTBrokerURL).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt broker: %w", token.Error())
	}

	if token := client.Subscribe(a.cfg.MQTTTopic, 0, a.handleMQTTMessage); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("subscribe %s: %w", a.cfg.MQTTTopic, token.Error())
	}

	a.mqtt = client
	a.logger.Info("mqtt ingestion started", "broker", a.cfg.MQTTBrokerURL, "topic", a.cfg.MQTTTopic)
	return nil
}

func (a *App) stopMQTT() {
	if a.mqtt == nil {
		return
	}
	a.mqtt.Disconnect(250)
	a.mqtt = nil
	a.logger.Info("mqtt ingestion stopped")
}

func (a *App) handleMQTTMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload mqttSyncPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		a.logger.Warn("mqtt payload decode failed", "topic", msg.Topic(), "error", err)
		return
	}

	masonID := payload.MasonID
	if masonID == "" {
		// Topic form bricktrack/<masonID>/placements.
		parts := strings.Split(msg.Topic(), "/")
		if len(parts) >= 2 {
			masonID = parts[1]
		}
	}
	if masonID == "" {
		a.logger.Warn("mqtt payload missing mason id", "topic", msg.Topic())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := a.syncer.Sync(ctx, masonID, payload.Placements)
	if err != nil {
		a.logger.Error("mqtt sync failed", "mason", masonID, "error", err)
		return
	}

	a.logger.Info("mqtt batch ingested",
		"mason", masonID, "submitted", len(payload.Placements),
		"inserted", result.Inserted, "updated", result.Updated, "rejected", result.Rejected)
}
