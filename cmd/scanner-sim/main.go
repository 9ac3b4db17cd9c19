// scanner-sim publishes simulated placement sync batches the way a
// handheld RFID scanner would, for exercising the server end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"bricktrack/go-sync-server/internal/model"
)

type syncPayload struct {
	MasonID    string                 `json:"masonId"`
	Placements []model.PlacementEvent `json:"placements"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	masonID := flag.String("mason-id", "SIM_MASON", "Mason identifier")
	brickPrefix := flag.String("brick-prefix", "E2000017221101", "Prefix for generated brick EPCs")
	batchSize := flag.Int("batch-size", 5, "Placements per published batch")
	interval := flag.Duration("interval", 10*time.Second, "Interval between published batches")
	baseRSSI := flag.Int("base-rssi", -55, "Baseline peak RSSI value to simulate")
	rssiJitter := flag.Int("rssi-jitter", 10, "Maximum random jitter applied to RSSI readings")
	baseLat := flag.Float64("lat", 40.7128, "Base latitude for simulated GPS fixes")
	baseLon := flag.Float64("lon", -74.0060, "Base longitude for simulated GPS fixes")

	flag.Parse()

	clientID := fmt.Sprintf("%s-simulator-%d", *masonID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	eventSeq := 0
	brickCounter := 0

	topic := fmt.Sprintf("bricktrack/%s/placements", *masonID)

	publish := func() {
		placements := make([]model.PlacementEvent, 0, *batchSize)
		now := time.Now().UnixMilli()

		for i := 0; i < *batchSize; i++ {
			brickCounter++
			eventSeq++
			placements = append(placements, model.PlacementEvent{
				BrickNumber:    fmt.Sprintf("%s%04d", *brickPrefix, brickCounter),
				Timestamp:      now + int64(i),
				Latitude:       *baseLat + rand.Float64()*0.0005,
				Longitude:      *baseLon + rand.Float64()*0.0005,
				Altitude:       10 + rand.Float64()*2,
				Accuracy:       1 + rand.Float64()*4,
				BuildSessionID: sessionID,
				EventSeq:       eventSeq,
				RSSIAvg:        *baseRSSI - 3 - rand.Intn(*rssiJitter),
				RSSIPeak:       *baseRSSI + rand.Intn(*rssiJitter),
				ReadsInWindow:  3 + rand.Intn(12),
				PowerLevel:     27,
			})
		}

		data, err := json.Marshal(syncPayload{MasonID: *masonID, Placements: placements})
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}

		if token := client.Publish(topic, 0, false, data); token.Wait() && token.Error() != nil {
			log.Printf("failed to publish batch: %v", token.Error())
			return
		}
		log.Printf("published batch of %d placements to %s (session %s)", len(placements), topic, sessionID)
	}

	publish()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			client.Disconnect(250)
			log.Println("simulator stopped")
			return
		case <-ticker.C:
			publish()
		}
	}
}
