// Package tracing propagates trace context through Kafka record headers so a
// push event's span links back to the publish that produced it.
package tracing

import "github.com/IBM/sarama"

// MessageCarrier implements propagation.TextMapCarrier over Kafka record
// headers.
type MessageCarrier struct {
	Headers []sarama.RecordHeader
}

// Get returns the value of the first header with the given key.
func (mc *MessageCarrier) Get(key string) string {
	for _, h := range mc.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set appends a header with the given key and value.
func (mc *MessageCarrier) Set(key, value string) {
	mc.Headers = append(mc.Headers, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

// Keys lists the header keys present on the carrier.
func (mc *MessageCarrier) Keys() []string {
	keys := make([]string, len(mc.Headers))
	for i, h := range mc.Headers {
		keys[i] = string(h.Key)
	}
	return keys
}
