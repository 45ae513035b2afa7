package orders

import (
	kafkax "github.com/ariefcatur/go-flashsale-orders/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Emit wraps payload in a v1 envelope and publishes it on the event's topic,
// keyed by correlationID.
func Emit(p Publisher, producer, correlationID, traceID, eventType string, payload any) error {
	if p == nil {
		return nil
	}
	env, err := NewEnvelope(eventType, producer, correlationID, traceID, payload)
	if err != nil {
		return err
	}
	// payload sudah lolos marshal di NewEnvelope, envelope tidak bisa gagal
	p.Publish(TopicFor(eventType), PartitionKey(correlationID), kafkax.MustMarshal(env), kafkax.EventHeaders(eventType, env.EventVersion)...)
	return nil
}
