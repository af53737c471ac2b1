package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// KafkaQueue is the Kafka-backed notification queue. Ordering is FIFO only
// while the alert topic has a single partition; see EnsureTopics.
type KafkaQueue struct {
	writer     *kafka.Writer
	deadWriter *kafka.Writer
	reader     *kafka.Reader
}

// NewKafkaQueue creates a queue over an alert topic and a dead-letter topic.
// Producer-only processes pass an empty groupID and get no reader.
func NewKafkaQueue(brokers []string, topic, deadTopic, groupID string) *KafkaQueue {
	q := &KafkaQueue{
		writer:     newWriter(brokers, topic),
		deadWriter: newWriter(brokers, deadTopic),
	}

	if groupID != "" {
		q.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0, // synchronous commits
			// Alerts enqueued while no worker was running must still be delivered.
			StartOffset: kafka.FirstOffset,
		})
	}

	return q
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// Push publishes a payload to the alert topic
func (q *KafkaQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Pop fetches the next payload and commits its offset before returning it,
// so a crash after Pop loses the message rather than delivering it twice.
func (q *KafkaQueue) Pop(ctx context.Context) ([]byte, error) {
	if q.reader == nil {
		return nil, fmt.Errorf("%w: queue opened without a consumer group", ErrUnavailable)
	}

	msg, err := q.reader.FetchMessage(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := q.reader.CommitMessages(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: failed to commit offset %d: %v", ErrUnavailable, msg.Offset, err)
	}

	return msg.Value, nil
}

// DeadLetter publishes a payload to the dead-letter topic
func (q *KafkaQueue) DeadLetter(ctx context.Context, payload []byte) error {
	if err := q.deadWriter.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes writers and the reader
func (q *KafkaQueue) Close() error {
	var firstErr error
	closers := []interface{ Close() error }{q.writer, q.deadWriter}
	if q.reader != nil {
		closers = append(closers, q.reader)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EnsureTopics creates any missing topic with one partition and fails when an
// existing topic has more than one.
func EnsureTopics(brokers []string, topics ...string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("%w: no kafka brokers configured", ErrUnavailable)
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("%w: failed to dial broker: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("%w: failed to get controller: %v", ErrUnavailable, err)
	}

	controllerConn, err := kafka.Dial("tcp", controller.Host+":"+strconv.Itoa(controller.Port))
	if err != nil {
		return fmt.Errorf("%w: failed to dial controller: %v", ErrUnavailable, err)
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err := controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}

		partitions, err := conn.ReadPartitions(topic)
		if err != nil {
			return fmt.Errorf("failed to read partitions of %s: %w", topic, err)
		}
		if err := singlePartition(topic, partitions); err != nil {
			return err
		}
	}

	return nil
}

func singlePartition(topic string, partitions []kafka.Partition) error {
	if len(partitions) != 1 {
		return fmt.Errorf("topic %s has %d partitions, notifications need exactly 1 to stay ordered", topic, len(partitions))
	}
	return nil
}
