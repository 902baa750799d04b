// Package notify carries record change events over Kafka so that open map
// views refresh when the records they show change.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"web/clustermap/logger"
	"web/clustermap/mapview"
	"web/clustermap/metrics"
	"web/clustermap/session"
)

type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Event says that one record of an entity changed.
type Event struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Op     Op     `json:"op"`
}

func (e Event) validate() error {
	if e.Entity == "" {
		return errors.New("event without entity")
	}
	switch e.Op {
	case OpPut, OpDelete:
		return nil
	}
	return fmt.Errorf("unknown op %q", e.Op)
}

// Reader is the part of kafka.Reader the consumer uses.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler reacts to one event.
type Handler func(ctx context.Context, e Event) error

// NewKafkaReader reads topic as a member of groupID. Offsets are committed
// by the consumer after each message is handled.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       10e6,
	})
}

// Consumer reads events on one goroutine and hands each to its handler.
type Consumer struct {
	reader  Reader
	handle  Handler
	backoff time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewConsumer(r Reader, h Handler) *Consumer {
	return &Consumer{
		reader:  r,
		handle:  h,
		backoff: time.Second,
		done:    make(chan struct{}),
	}
}

// Start begins consuming until ctx is done or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		logger.L().Info("notify_consumer_started")
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					logger.L().Info("notify_consumer_stopped")
					return
				}
				logger.L().Warn("notify_read_error", "err", err)
				select {
				case <-time.After(c.backoff):
					continue
				case <-ctx.Done():
					return
				}
			}
			c.process(ctx, msg)
		}
	}()
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	var e Event
	status := "ok"
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		status = "invalid"
		logger.L().Warn("notify_event_invalid", "offset", msg.Offset, "err", err)
	} else if err := e.validate(); err != nil {
		status = "invalid"
		logger.L().Warn("notify_event_invalid", "offset", msg.Offset, "err", err)
	} else if err := c.handle(ctx, e); err != nil {
		status = "failed"
		logger.L().Warn("notify_event_failed", "entity", e.Entity, "id", e.ID, "err", err)
	}
	metrics.NotifyEventsTotal.WithLabelValues(status).Inc()

	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		logger.L().Warn("notify_commit_error", "offset", msg.Offset, "err", err)
	}
}

// Stop ends the loop and closes the reader.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		if err := c.reader.Close(); err != nil {
			logger.L().Warn("notify_reader_close_error", "err", err)
		}
	})
}

// RefreshSessions refreshes every session showing the event's entity.
func RefreshSessions(m *session.Manager) Handler {
	return func(ctx context.Context, e Event) error {
		refreshed := 0
		m.Each(func(_ string, view *mapview.MapView) {
			if view.RecordsChanged(e.Entity) {
				refreshed++
			}
		})
		logger.L().Debug("notify_refreshed", "entity", e.Entity, "id", e.ID, "op", e.Op, "sessions", refreshed)
		return nil
	}
}

// Writer is the part of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// Publisher writes events keyed by entity so one entity's events stay in
// order.
type Publisher struct {
	w Writer
}

func NewPublisher(w Writer) *Publisher {
	return &Publisher{w: w}
}

func (p *Publisher) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		if err := e.validate(); err != nil {
			return err
		}
		value, err := json.Marshal(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(e.Entity), Value: value})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
