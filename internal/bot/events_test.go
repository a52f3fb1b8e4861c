package bot

import (
	"testing"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

func TestTopicSubscribePublish(t *testing.T) {
	var topic Topic[int]

	var got []int
	topic.Subscribe(func(v int) { got = append(got, v) })
	topic.Subscribe(func(v int) { got = append(got, v*10) })

	topic.Publish(5)

	if len(got) != 2 {
		t.Fatalf("handlers called %d times, want 2", len(got))
	}
	// порядок доставки по подписчикам не гарантирован
	sum := got[0] + got[1]
	if sum != 55 {
		t.Errorf("deliveries = %v, want {5, 50} in some order", got)
	}
}

func TestTopicPublishNoSubscribers(t *testing.T) {
	var topic Topic[string]
	// паблиш в пустой топик не должен паниковать
	topic.Publish("hello")
	if topic.Len() != 0 {
		t.Errorf("Len = %d, want 0", topic.Len())
	}
}

func TestTopicUnsubscribe(t *testing.T) {
	var topic Topic[int]

	calls := 0
	unsub := topic.Subscribe(func(int) { calls++ })

	topic.Publish(1)
	unsub()
	topic.Publish(2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 after unsubscribe", calls)
	}

	// повторная отписка безопасна
	unsub()
	if topic.Len() != 0 {
		t.Errorf("Len = %d, want 0", topic.Len())
	}
}

func TestTopicUnsubscribeOnlyOwn(t *testing.T) {
	var topic Topic[int]

	var first, second int
	unsub1 := topic.Subscribe(func(int) { first++ })
	topic.Subscribe(func(int) { second++ })

	unsub1()
	topic.Publish(1)

	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d, want 0/1", first, second)
	}
}

func TestBusReset(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.RateUpdated.Subscribe(func(*models.FundingRatePair) { calls++ })
	bus.TriggerDetected.Subscribe(func(*models.TriggerEvent) { calls++ })

	bus.Reset()

	bus.RateUpdated.Publish(&models.FundingRatePair{Symbol: "BTCUSDT"})
	bus.TriggerDetected.Publish(&models.TriggerEvent{})

	if calls != 0 {
		t.Errorf("calls = %d, want 0 after bus reset", calls)
	}
	if bus.RateUpdated.Len() != 0 {
		t.Errorf("RateUpdated.Len = %d, want 0", bus.RateUpdated.Len())
	}

	// шина переживает reset и принимает новые подписки
	bus.RateUpdated.Subscribe(func(*models.FundingRatePair) { calls++ })
	bus.RateUpdated.Publish(&models.FundingRatePair{Symbol: "BTCUSDT"})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 after resubscribe", calls)
	}
}
