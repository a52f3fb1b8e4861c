package exchange

import (
	"errors"
	"fmt"
	"testing"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

func TestExchangeErrorUnwrap(t *testing.T) {
	base := errors.New("HTTP 429")
	err := &ExchangeError{
		Exchange: "binance",
		Code:     "429",
		Message:  "rate limited",
		Original: base,
	}

	if !errors.Is(err, base) {
		t.Error("errors.Is must see the original error through Unwrap")
	}
	if err.Error() != "binance: rate limited" {
		t.Errorf("Error() = %q", err.Error())
	}

	wrapped := fmt.Errorf("fetch quote: %w", err)
	var ee *ExchangeError
	if !errors.As(wrapped, &ee) {
		t.Error("errors.As must find ExchangeError in the chain")
	}
}

func TestIsCapabilityError(t *testing.T) {
	capErr := &CapabilityError{Exchange: "okx", Capability: "trading_fee"}

	if !IsCapabilityError(capErr) {
		t.Error("direct capability error not recognized")
	}
	if !IsCapabilityError(fmt.Errorf("resolve fees: %w", capErr)) {
		t.Error("wrapped capability error not recognized")
	}
	if IsCapabilityError(errors.New("plain failure")) {
		t.Error("plain error must not be a capability error")
	}
	if IsCapabilityError(nil) {
		t.Error("nil is not a capability error")
	}
}

func TestCloseSideFor(t *testing.T) {
	// short закрывается покупкой, long - продажей
	if got := CloseSideFor(models.LegSideShort); got != SideBuy {
		t.Errorf("CloseSideFor(short) = %s, want %s", got, SideBuy)
	}
	if got := CloseSideFor(models.LegSideLong); got != SideSell {
		t.Errorf("CloseSideFor(long) = %s, want %s", got, SideSell)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateDown, "down"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
