// Package queue moves attestation traffic between the settlement engine
// and the attester network. Kafka is the production driver; stdio exists
// for local runs and pipelines.
package queue

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"
)

const envKafkaTLS = "SETTLE_QUEUE_KAFKA_TLS"

// Message is one queue record handed to a consumer.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
	// Timestamp is the producer timestamp (Kafka) or the local receive
	// time (stdio).
	Timestamp time.Time

	ackFn func(context.Context) error
}

// Ack commits the message on drivers that track consumer offsets.
func (m Message) Ack(ctx context.Context) error {
	if m.ackFn == nil {
		return nil
	}
	return m.ackFn(ctx)
}

// Consumer delivers queue messages asynchronously. Messages and Errors
// are closed after Close returns.
type Consumer interface {
	Messages() <-chan Message
	Errors() <-chan error
	Close() error
}

// Producer publishes queue messages. Key selects the partition on
// drivers that partition; it may be nil.
type Producer interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close() error
}

// ConsumerConfig configures a consumer for one driver.
type ConsumerConfig struct {
	Driver string

	// Kafka.
	Brokers  []string
	Group    string
	Topics   []string
	MinBytes int
	MaxBytes int

	// Stdio.
	Reader       interface{ Read([]byte) (int, error) }
	MaxLineBytes int
}

// ProducerConfig configures a producer for one driver.
type ProducerConfig struct {
	Driver string

	// Kafka.
	Brokers      []string
	BatchTimeout time.Duration

	// Stdio.
	Writer interface{ Write([]byte) (int, error) }
}

// NewConsumer creates a consumer for the configured driver. An empty
// driver means Kafka.
func NewConsumer(ctx context.Context, cfg ConsumerConfig) (Consumer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaConsumer(ctx, cfg)
	case DriverStdio:
		return newStdioConsumer(ctx, cfg)
	default:
		return nil, fmt.Errorf("queue: unsupported driver %q", cfg.Driver)
	}
}

// NewProducer creates a producer for the configured driver.
func NewProducer(cfg ProducerConfig) (Producer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaProducer(cfg)
	case DriverStdio:
		return newStdioProducer(cfg), nil
	default:
		return nil, fmt.Errorf("queue: unsupported driver %q", cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverKafka
	}
	return v
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// SplitCommaList splits a comma separated flag value, dropping empty
// entries.
func SplitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return trimList(strings.Split(s, ","))
}

func kafkaTLSEnabled() bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(envKafkaTLS))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
