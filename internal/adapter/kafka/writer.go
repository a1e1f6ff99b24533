// Package kafka publishes converted GeoJSON features to an optional Kafka
// sink, enabled through KAFKA_BROKERS.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackhillsgeo/datacube/internal/config"
	"github.com/blackhillsgeo/datacube/internal/observability"
	"github.com/blackhillsgeo/datacube/internal/osm"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces GeoJSON features to a Kafka topic.
type Writer struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a Kafka producer for the configured feature topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaFeatureTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger, metrics: metrics}
}

// WriteFeatures serializes and publishes a converted collection in a single
// WriteMessages call. The category names which gathering pass produced the
// features and becomes a message header.
func (w *Writer) WriteFeatures(ctx context.Context, category string, fc *osm.FeatureCollection) error {
	if len(fc.Features) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(fc.Features))
	for i, f := range fc.Features {
		msg, err := serializeToMessage(category, f)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publishing %s features: %w", category, err)
	}
	if w.metrics != nil {
		w.metrics.FeaturesWritten.Add(float64(len(msgs)))
	}
	w.logger.Info("published features", "category", category, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a feature into a Kafka message keyed by its
// OSM identity so replays of the same element land on one partition.
func serializeToMessage(category string, f *osm.Feature) (kafkago.Message, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feature: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(featureKey(f)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "category", Value: []byte(category)},
			{Key: "published_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}, nil
}

func featureKey(f *osm.Feature) string {
	return fmt.Sprintf("%v/%v", f.Properties["osm_type"], f.Properties["osm_id"])
}
