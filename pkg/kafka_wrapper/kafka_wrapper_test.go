package kafkawrapper

import (
	"bytes"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

func TestNewBackOffBounded(t *testing.T) {
	b := newBackOff(10*time.Millisecond, 80*time.Millisecond)
	for i := 0; i < 20; i++ {
		d := b.NextBackOff()
		// randomization can push one step above MaxInterval by its factor
		if d <= 0 || d > 120*time.Millisecond {
			t.Fatalf("attempt %d backoff = %v", i, d)
		}
	}
}

func TestHashKeyStable(t *testing.T) {
	a, b := HashKey("order-1"), HashKey("order-1")
	if !bytes.Equal(a, b) || len(a) != 8 {
		t.Fatalf("hash = %x / %x", a, b)
	}
	if bytes.Equal(a, HashKey("order-2")) {
		t.Errorf("distinct keys hash equal")
	}
}

func TestWrapMessage(t *testing.T) {
	m := wrapMessage(kafka.Message{
		Topic: "orders.events", Partition: 2, Offset: 7,
		Headers: []kafka.Header{{Key: "event_id", Value: []byte("e1")}},
	})
	if m.Headers["event_id"] != "e1" || m.String() != "orders.events/2@7" {
		t.Fatalf("message = %+v", m)
	}
}

func TestNewConsumerGroupRequiresTopics(t *testing.T) {
	if _, err := NewConsumerGroup(ConsumerConfig{GroupID: "g"}); err == nil {
		t.Fatal("no topics accepted")
	}
	if _, err := NewConsumerGroup(ConsumerConfig{Topics: []string{"t"}}); err == nil {
		t.Fatal("missing group accepted")
	}
}
