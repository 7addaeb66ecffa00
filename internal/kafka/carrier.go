package kafka

import (
	"context"

	segkafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// HeaderCarrier exposes message headers as a propagation.TextMapCarrier so
// fault reports and forwarded events keep the producer's trace.
type HeaderCarrier []segkafka.Header

func (c HeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set replaces any header already stored under key.
func (c *HeaderCarrier) Set(key, value string) {
	kept := (*c)[:0]
	for _, h := range *c {
		if h.Key != key {
			kept = append(kept, h)
		}
	}
	*c = append(kept, segkafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		keys = append(keys, h.Key)
	}
	return keys
}

// traceHeaders returns the headers carrying ctx's span context.
func traceHeaders(ctx context.Context) []segkafka.Header {
	c := make(HeaderCarrier, 0, 2)
	otel.GetTextMapPropagator().Inject(ctx, &c)
	return c
}

// withTrace returns ctx continuing the trace found in headers, if any.
func withTrace(ctx context.Context, headers []segkafka.Header) context.Context {
	c := HeaderCarrier(headers)
	return otel.GetTextMapPropagator().Extract(ctx, &c)
}
