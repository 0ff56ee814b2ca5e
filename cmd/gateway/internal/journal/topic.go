package journal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConn is the admin surface of *kafka.Conn the topic check needs.
type KafkaConn interface {
	Controller() (kafka.Broker, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

type DialFunc func(ctx context.Context, network, address string) (KafkaConn, error)

// Dial opens admin connections with d.
func Dial(d *kafka.Dialer) DialFunc {
	return func(ctx context.Context, network, address string) (KafkaConn, error) {
		conn, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

var ErrTopicNotReady = errors.New("journal topic has no partitions")

const topicPolls = 5

// EnsureTopic asks the controller to create topic, one partition per symbol
// stream, then polls until its partitions are visible. An existing topic is
// not an error.
func EnsureTopic(ctx context.Context, dial DialFunc, brokers []string, topic string, partitions int, poll time.Duration) error {
	conn, err := dialAny(ctx, dial, brokers)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	admin, err := dial(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer admin.Close()

	err = admin.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}

	for i := 1; ; i++ {
		parts, err := conn.ReadPartitions(topic)
		if err == nil && len(parts) > 0 {
			return nil
		}
		if i == topicPolls {
			return fmt.Errorf("%w: %s", ErrTopicNotReady, topic)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func dialAny(ctx context.Context, dial DialFunc, brokers []string) (KafkaConn, error) {
	err := errors.New("no brokers configured")
	for _, addr := range brokers {
		conn, dialErr := dial(ctx, "tcp", addr)
		if dialErr == nil {
			return conn, nil
		}
		err = dialErr
	}
	return nil, fmt.Errorf("dial brokers: %w", err)
}
