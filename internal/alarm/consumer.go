package alarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/graph"
	"github.com/larry091001/incubator-skywalking/internal/metrics"
	"github.com/larry091001/incubator-skywalking/internal/model"
	"github.com/larry091001/incubator-skywalking/internal/storage"
)

// Ingest kinds reported to metrics
const (
	IngestAlarm     = "alarm"
	IngestMetric    = "metric"
	IngestReference = "reference"
)

// ConsumerConfig names the stream and subjects records are ingested from.
// An empty subject disables that feed.
type ConsumerConfig struct {
	Stream           string
	AlarmSubject     string
	MetricSubject    string
	ReferenceSubject string
	// ExtraSubjects are added to the stream when it is created
	ExtraSubjects []string
	Durable       string
}

// ReferenceBatch is the payload of a reference metric message
type ReferenceBatch struct {
	Step model.Step                         `json:"step"`
	Rows []*model.ServiceReferenceMetricRow `json:"rows"`
}

// Consumer feeds JetStream messages into the alarm graph and the
// reference metric store
type Consumer struct {
	logger     *zap.Logger
	js         nats.JetStreamContext
	config     ConsumerConfig
	graph      *graph.Graph[model.AlarmRecord]
	evaluator  *Evaluator
	references storage.ServiceReferenceMetricDAO
	subs       []*nats.Subscription
}

// NewConsumer creates a consumer. references may be nil when the
// reference feed is disabled.
func NewConsumer(logger *zap.Logger, js nats.JetStreamContext, cfg ConsumerConfig, g *graph.Graph[model.AlarmRecord], evaluator *Evaluator, references storage.ServiceReferenceMetricDAO) *Consumer {
	return &Consumer{
		logger:     logger.Named("consumer"),
		js:         js,
		config:     cfg,
		graph:      g,
		evaluator:  evaluator,
		references: references,
	}
}

// Start creates the stream if needed and subscribes to every configured feed
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ensureStream(); err != nil {
		return err
	}

	feeds := []struct {
		subject string
		kind    string
		handle  func(context.Context, []byte) error
	}{
		{c.config.AlarmSubject, IngestAlarm, c.handleAlarm},
		{c.config.MetricSubject, IngestMetric, c.handleMetric},
		{c.config.ReferenceSubject, IngestReference, c.handleReference},
	}
	for _, feed := range feeds {
		if feed.subject == "" {
			continue
		}
		if feed.kind == IngestReference && c.references == nil {
			continue
		}

		feed := feed
		sub, err := c.js.Subscribe(feed.subject, func(msg *nats.Msg) {
			c.dispatch(ctx, feed.kind, msg, feed.handle)
		}, nats.Durable(c.config.Durable+"-"+feed.kind), nats.ManualAck(), nats.DeliverAll())
		if err != nil {
			c.Stop()
			return fmt.Errorf("failed to subscribe to %s: %w", feed.subject, err)
		}
		c.subs = append(c.subs, sub)
	}

	c.logger.Info("Consumer started",
		zap.String("stream", c.config.Stream),
		zap.Int("subscriptions", len(c.subs)))
	return nil
}

// Stop removes every subscription
func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("Failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	c.subs = nil
}

func (c *Consumer) ensureStream() error {
	_, err := c.js.StreamInfo(c.config.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	var subjects []string
	for _, s := range append([]string{c.config.AlarmSubject, c.config.MetricSubject, c.config.ReferenceSubject}, c.config.ExtraSubjects...) {
		if s != "" {
			subjects = append(subjects, s)
		}
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     c.config.Stream,
		Subjects: subjects,
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	c.logger.Info("Stream created", zap.String("stream", c.config.Stream), zap.Strings("subjects", subjects))
	return nil
}

// dispatch acks every message, including malformed ones, so a poison
// message is never redelivered
func (c *Consumer) dispatch(ctx context.Context, kind string, msg *nats.Msg, handle func(context.Context, []byte) error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic while handling message",
				zap.String("subject", msg.Subject),
				zap.Any("panic", r))
			metrics.ObserveIngest(kind, false)
			msg.Ack()
		}
	}()

	err := handle(ctx, msg.Data)
	if err != nil {
		c.logger.Error("Failed to handle message",
			zap.String("subject", msg.Subject),
			zap.String("kind", kind),
			zap.Error(err))
	}
	metrics.ObserveIngest(kind, err == nil)
	msg.Ack()
}

func (c *Consumer) handleAlarm(ctx context.Context, data []byte) error {
	var record model.AlarmRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return c.push(record)
}

func (c *Consumer) handleMetric(ctx context.Context, data []byte) error {
	var snapshot model.MetricSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	records, err := c.evaluator.Evaluate(snapshot)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := c.push(record); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) handleReference(ctx context.Context, data []byte) error {
	var batch ReferenceBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return c.references.Save(ctx, batch.Step, batch.Rows...)
}

func (c *Consumer) push(record model.AlarmRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.TimeBucket == 0 {
		bucket, err := model.TimeBucket(model.StepMinute, time.Now())
		if err != nil {
			return err
		}
		record.TimeBucket = bucket
	}
	return c.graph.Start(record)
}
