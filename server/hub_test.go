package server

import (
	"testing"

	"github.com/quantpulse/flowdesk/types"
)

func envelope(symbol string, ts int64) *types.MetricsEnvelope {
	return &types.MetricsEnvelope{Type: "metrics", Symbol: symbol, CanonicalTimeMs: ts}
}

func TestHubSymbolFiltering(t *testing.T) {
	h := NewHub(4, 0)
	btc := h.Subscribe([]string{"BTCUSDT"})
	both := h.Subscribe([]string{"BTCUSDT", "ETHUSDT"})

	h.Publish(envelope("ETHUSDT", 1))

	select {
	case <-btc.Queue():
		t.Fatal("BTC-only subscriber received an ETH envelope")
	default:
	}
	select {
	case env := <-both.Queue():
		if env.Symbol != "ETHUSDT" {
			t.Fatalf("symbol = %s, want ETHUSDT", env.Symbol)
		}
	default:
		t.Fatal("matching subscriber received nothing")
	}
}

func TestHubDropOldest(t *testing.T) {
	h := NewHub(2, 0)
	sub := h.Subscribe([]string{"BTCUSDT"})

	for ts := int64(1); ts <= 4; ts++ {
		h.Publish(envelope("BTCUSDT", ts))
	}

	// Queue of 2: envelopes 1 and 2 were dropped to admit 3 and 4.
	if got := sub.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
	for _, want := range []int64{3, 4} {
		select {
		case env := <-sub.Queue():
			if env.CanonicalTimeMs != want {
				t.Fatalf("got envelope %d, want %d", env.CanonicalTimeMs, want)
			}
		default:
			t.Fatalf("queue missing envelope %d", want)
		}
	}
}

func TestHubClosesPersistentlySlowSubscriber(t *testing.T) {
	h := NewHub(1, 3)
	sub := h.Subscribe([]string{"BTCUSDT"})

	// Fill the queue, then drop past the limit. The 5th publish pushes the
	// drop count to 4 which exceeds the limit of 3.
	for ts := int64(1); ts <= 5; ts++ {
		h.Publish(envelope("BTCUSDT", ts))
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("slow subscriber was not closed")
	}
	if h.Count() != 0 {
		t.Fatalf("Count = %d, want 0 after close", h.Count())
	}
}

func TestHubUnsubscribeDrains(t *testing.T) {
	h := NewHub(4, 0)
	sub := h.Subscribe([]string{"BTCUSDT"})
	h.Publish(envelope("BTCUSDT", 1))
	h.Publish(envelope("BTCUSDT", 2))

	h.Unsubscribe(sub)

	if h.Count() != 0 {
		t.Fatalf("Count = %d, want 0", h.Count())
	}
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done not closed after unsubscribe")
	}
	select {
	case env := <-sub.Queue():
		t.Fatalf("queue not drained, got envelope %d", env.CanonicalTimeMs)
	default:
	}
}

func TestHubPublishAfterCloseIsNoop(t *testing.T) {
	h := NewHub(2, 0)
	sub := h.Subscribe([]string{"BTCUSDT"})
	h.Unsubscribe(sub)

	h.Publish(envelope("BTCUSDT", 1))
	if got := sub.Dropped(); got != 0 {
		t.Fatalf("dropped = %d, want 0 for a closed subscription", got)
	}
}

func TestHubCount(t *testing.T) {
	h := NewHub(4, 0)
	a := h.Subscribe([]string{"BTCUSDT"})
	b := h.Subscribe([]string{"ETHUSDT"})
	if h.Count() != 2 {
		t.Fatalf("Count = %d, want 2", h.Count())
	}
	h.Unsubscribe(a)
	h.Unsubscribe(b)
	if h.Count() != 0 {
		t.Fatalf("Count = %d, want 0", h.Count())
	}
}
