// Command genrequests generates collection request fixtures for manual
// testing. It writes the requests as a JSON file and can optionally publish
// them straight to the request topic.
//
// Usage:
//
//	go run ./cmd/genrequests -out data/mock/requests.json
//	go run ./cmd/genrequests -publish -brokers localhost:9092 -topic collection-requests
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/fernwatch/satveg-collector/internal/domain"
)

// samples covers a mix of named and unnamed locations across vegetation
// zones, including one all-water point that should yield no data.
var samples = []domain.CollectionRequest{
	{UserID: 1001, LocationName: "Home", Lat: 52.52, Lon: 13.405},
	{UserID: 1001, LocationName: "Allotment", Lat: 52.4736, Lon: 13.4018},
	{UserID: 1002, LocationName: "Vineyard", Lat: 44.8012, Lon: 0.1538},
	{UserID: 1003, LocationName: "", Lat: 48.1374, Lon: 11.5755},
	{UserID: 1004, LocationName: "Paddy fields", Lat: 10.7769, Lon: 106.7009},
	{UserID: 1005, LocationName: "Open ocean", Lat: 35.0, Lon: -40.0},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the JSON fixture")
	publish := flag.Bool("publish", false, "publish requests to Kafka instead of only writing the fixture")
	brokers := flag.String("brokers", "localhost:9092", "comma-separated Kafka brokers")
	topic := flag.String("topic", "collection-requests", "request topic")
	flag.Parse()

	if *out == "" && !*publish {
		flag.Usage()
		return fmt.Errorf("nothing to do: pass -out and/or -publish")
	}

	for _, req := range samples {
		if err := req.Validate(); err != nil {
			return fmt.Errorf("sample for user %d: %w", req.UserID, err)
		}
	}

	if *out != "" {
		if err := writeJSON(*out, samples); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote %d requests: %s", len(samples), *out)
	}

	if *publish {
		if err := publishRequests(strings.Split(*brokers, ","), *topic); err != nil {
			return fmt.Errorf("publishing: %w", err)
		}
		log.Printf("published %d requests to %s", len(samples), *topic)
	}

	return nil
}

func publishRequests(brokers []string, topic string) error {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	defer w.Close()

	msgs := make([]kafkago.Message, len(samples))
	for i, req := range samples {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		msgs[i] = kafkago.Message{
			Key:   []byte(fmt.Sprintf("%d", req.UserID)),
			Value: data,
			Headers: []kafkago.Header{
				{Key: "source", Value: []byte("genrequests")},
			},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return w.WriteMessages(ctx, msgs...)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
