package models

import "testing"

func TestLegBySide(t *testing.T) {
	position := &Position{
		LongLeg:  PositionLeg{Exchange: "binance", EntryPrice: 50000},
		ShortLeg: PositionLeg{Exchange: "okx", EntryPrice: 50050},
	}

	if got := position.LegBySide(LegSideLong); got.Exchange != "binance" {
		t.Errorf("LegBySide(long).Exchange = %q, want binance", got.Exchange)
	}
	if got := position.LegBySide(LegSideShort); got.Exchange != "okx" {
		t.Errorf("LegBySide(short).Exchange = %q, want okx", got.Exchange)
	}
	// Неизвестная сторона трактуется как long
	if got := position.LegBySide("sideways"); got.Exchange != "binance" {
		t.Errorf("LegBySide(sideways).Exchange = %q, want binance", got.Exchange)
	}
}

func TestIsOpen(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{PositionStatusOpen, true},
		{PositionStatusPending, false},
		{PositionStatusClosed, false},
		{"", false},
	}

	for _, tt := range tests {
		p := &Position{Status: tt.status}
		if got := p.IsOpen(); got != tt.want {
			t.Errorf("IsOpen() with status %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTriggerEventSides(t *testing.T) {
	tests := []struct {
		triggerType   string
		triggeredSide string
		oppositeSide  string
	}{
		{TriggerLongSL, LegSideLong, LegSideShort},
		{TriggerLongTP, LegSideLong, LegSideShort},
		{TriggerShortSL, LegSideShort, LegSideLong},
		{TriggerShortTP, LegSideShort, LegSideLong},
	}

	for _, tt := range tests {
		t.Run(tt.triggerType, func(t *testing.T) {
			event := &TriggerEvent{Type: tt.triggerType}
			if got := event.TriggeredSide(); got != tt.triggeredSide {
				t.Errorf("TriggeredSide() = %q, want %q", got, tt.triggeredSide)
			}
			if got := event.OppositeSide(); got != tt.oppositeSide {
				t.Errorf("OppositeSide() = %q, want %q", got, tt.oppositeSide)
			}
		})
	}
}
