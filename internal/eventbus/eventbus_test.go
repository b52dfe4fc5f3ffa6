package eventbus

import "testing"

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()
	ch := b.Subscribe()

	b.Publish("hello")
	select {
	case got := <-ch:
		if got != "hello" {
			t.Fatalf("got %v", got)
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestPublishDoesNotBlockSlowSubscriber(t *testing.T) {
	b := New()
	defer b.Close()
	_ = b.Subscribe()

	// Overflow the buffered channel; Publish must drop, not block.
	for i := 0; i < 100; i++ {
		b.Publish(i)
	}
}

func TestCloseIdempotent(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	// Publishing and subscribing after close are safe no-ops.
	b.Publish("late")
	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("post-close subscription should be closed immediately")
	}
}
