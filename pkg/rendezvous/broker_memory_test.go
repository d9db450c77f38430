package rendezvous

import "testing"

func TestMemoryBrokerDeliversToSubscriber(t *testing.T) {
	hub := NewMemoryHub()
	pub := NewMemoryBroker(hub)
	sub := NewMemoryBroker(hub)

	if err := pub.Connect(); err != nil {
		t.Fatalf("pub.Connect: %v", err)
	}
	if err := sub.Connect(); err != nil {
		t.Fatalf("sub.Connect: %v", err)
	}
	if err := sub.Subscribe("w1abc/s"); err != nil {
		t.Fatalf("sub.Subscribe: %v", err)
	}

	if err := pub.Publish("w1abc/s", []byte("hello")); err != nil {
		t.Fatalf("pub.Publish: %v", err)
	}

	msgs := sub.PollIncoming()
	if len(msgs) != 1 || string(msgs[0].Payload) != "hello" || msgs[0].Topic != "w1abc/s" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	if more := sub.PollIncoming(); len(more) != 0 {
		t.Fatalf("expected PollIncoming to drain, got %+v", more)
	}
}

func TestMemoryBrokerIgnoresUnsubscribedTopic(t *testing.T) {
	hub := NewMemoryHub()
	pub := NewMemoryBroker(hub)
	sub := NewMemoryBroker(hub)
	_ = pub.Connect()
	_ = sub.Connect()
	_ = sub.Subscribe("w1abc/c")

	_ = pub.Publish("w1abc/s", []byte("ignored"))

	if msgs := sub.PollIncoming(); len(msgs) != 0 {
		t.Fatalf("expected no delivery for unsubscribed topic, got %+v", msgs)
	}
}
