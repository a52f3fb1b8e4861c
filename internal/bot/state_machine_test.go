package bot

import (
	"testing"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"monitoring to trigger", StateMonitoring, StateTriggerDetected, true},
		{"trigger to closing", StateTriggerDetected, StateClosingOpposite, true},
		{"closing to canceling", StateClosingOpposite, StateCancelingOrders, true},
		{"canceling to completed", StateCancelingOrders, StateCompleted, true},
		{"trigger to failed", StateTriggerDetected, StateFailed, true},
		{"closing to failed", StateClosingOpposite, StateFailed, true},
		{"canceling to failed", StateCancelingOrders, StateFailed, true},

		// нельзя перескакивать фазы и выходить из терминальных
		{"monitoring to completed", StateMonitoring, StateCompleted, false},
		{"trigger to canceling", StateTriggerDetected, StateCancelingOrders, false},
		{"monitoring to failed", StateMonitoring, StateFailed, false},
		{"completed to monitoring", StateCompleted, StateMonitoring, false},
		{"failed to monitoring", StateFailed, StateMonitoring, false},
		{"canceling to closing", StateCancelingOrders, StateClosingOpposite, false},
		{"unknown from", "BOGUS", StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{StateCompleted, StateFailed}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}

	working := []string{StateMonitoring, StateTriggerDetected, StateClosingOpposite, StateCancelingOrders}
	for _, s := range working {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestPhaseForState(t *testing.T) {
	tests := []struct {
		state       string
		wantPhase   string
		wantPercent int
	}{
		{StateTriggerDetected, models.ClosePhaseDetected, 10},
		{StateClosingOpposite, models.ClosePhaseClosingOpposite, 40},
		{StateCancelingOrders, models.ClosePhaseCancelingOrders, 70},
		{StateCompleted, models.ClosePhaseCompleted, 100},
		{StateFailed, models.ClosePhaseFailed, 100},
		{StateMonitoring, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			phase, percent := PhaseForState(tt.state)
			if phase != tt.wantPhase || percent != tt.wantPercent {
				t.Errorf("PhaseForState(%s) = (%s, %d), want (%s, %d)",
					tt.state, phase, percent, tt.wantPhase, tt.wantPercent)
			}
		})
	}
}

func TestPhasePercentsMonotonic(t *testing.T) {
	sequence := []string{StateTriggerDetected, StateClosingOpposite, StateCancelingOrders, StateCompleted}
	prev := -1
	for _, s := range sequence {
		_, pct := PhaseForState(s)
		if pct <= prev {
			t.Fatalf("percent for %s = %d, not above %d", s, pct, prev)
		}
		prev = pct
	}
}
