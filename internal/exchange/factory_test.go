package exchange

import (
	"testing"

	"go.uber.org/zap"
)

func TestIsSupported(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"binance", true},
		{"bybit", true},
		{"okx", true},
		{"Binance", true}, // регистр не важен
		{"OKX", true},
		{"ftx", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSupported(tt.name); got != tt.want {
				t.Errorf("IsSupported(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestNewAdapter(t *testing.T) {
	logger := zap.NewNop()

	for _, name := range SupportedExchanges {
		t.Run(name, func(t *testing.T) {
			adapter, err := NewAdapter(name, AdapterConfig{}, logger)
			if err != nil {
				t.Fatalf("NewAdapter(%s): %v", name, err)
			}
			if adapter.Name() != name {
				t.Errorf("Name() = %s, want %s", adapter.Name(), name)
			}
			if adapter.State() != StateDisconnected {
				t.Errorf("State() = %s, want disconnected before connect", adapter.State())
			}
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		if _, err := NewAdapter("ftx", AdapterConfig{}, logger); err == nil {
			t.Error("expected error for unsupported exchange")
		}
	})
}

func TestFallbackFee(t *testing.T) {
	maker, taker := FallbackFee("binance")
	if maker != 0.0002 || taker != 0.0005 {
		t.Errorf("binance fees = %v/%v, want 0.0002/0.0005", maker, taker)
	}

	maker, taker = FallbackFee("ByBit")
	if maker != 0.0002 || taker != 0.00055 {
		t.Errorf("bybit fees = %v/%v, want table values regardless of case", maker, taker)
	}

	// неизвестная биржа получает консервативный дефолт
	maker, taker = FallbackFee("unknown")
	if maker != 0.0002 || taker != 0.0006 {
		t.Errorf("unknown fees = %v/%v, want conservative defaults", maker, taker)
	}
}
