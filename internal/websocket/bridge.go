package websocket

import (
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/bot"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// Bridge транслирует события шины движка в broadcast сообщения Hub.
// Detach снимает все подписки; после него события в Hub не попадают.
type Bridge struct {
	unsubs []func()
}

// AttachBus подписывает Hub на все push-топики шины
func AttachBus(bus *bot.Bus, hub *Hub) *Bridge {
	b := &Bridge{}
	b.unsubs = append(b.unsubs,
		bus.RateUpdated.Subscribe(func(pair *models.FundingRatePair) {
			hub.Broadcast(NewRateUpdatedMessage(pair))
		}),
		bus.OpportunityNew.Subscribe(func(opp *bot.Opportunity) {
			hub.Broadcast(NewOpportunityMessage(MessageTypeOpportunityNew, opp))
		}),
		bus.OpportunityUpdate.Subscribe(func(opp *bot.Opportunity) {
			hub.Broadcast(NewOpportunityMessage(MessageTypeOpportunityUpdate, opp))
		}),
		bus.OpportunityExpired.Subscribe(func(opp *bot.Opportunity) {
			hub.Broadcast(NewOpportunityMessage(MessageTypeOpportunityExpired, opp))
		}),
		bus.TriggerDetected.Subscribe(func(event *models.TriggerEvent) {
			hub.Broadcast(NewTriggerMessage(event))
		}),
		bus.CloseProgress.Subscribe(func(progress *models.CloseProgress) {
			hub.Broadcast(NewCloseProgressMessage(progress))
		}),
		bus.ExitSuggested.Subscribe(func(s *models.ExitSuggestion) {
			hub.Broadcast(NewExitSuggestedMessage(s))
		}),
		bus.ExitCanceled.Subscribe(func(c *models.ExitCancellation) {
			hub.Broadcast(NewExitCanceledMessage(c))
		}),
		bus.SourceChanged.Subscribe(func(sc bot.SourceChangeEvent) {
			hub.Broadcast(NewSourceChangedMessage(sc))
		}),
		bus.Notifications.Subscribe(func(n *models.Notification) {
			hub.Broadcast(NewNotificationMessage(n))
		}),
	)
	return b
}

// Detach снимает подписки моста с шины
func (b *Bridge) Detach() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
}
