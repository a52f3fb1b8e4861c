package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/bot"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// ============ EngineHandler Tests ============

func enginePairs() []*models.FundingRatePair {
	return []*models.FundingRatePair{
		{
			Symbol: "BTCUSDT",
			Best: &models.BestPair{
				LongExchange:  "binance",
				ShortExchange: "okx",
				Spread:        0.001,
				AnnualizedPct: 109.5,
			},
			RecordedAt: time.Now(),
		},
		{Symbol: "ETHUSDT", RecordedAt: time.Now()},
	}
}

func TestEngineHandler_GetRates(t *testing.T) {
	handler := NewEngineHandler(&mockEngine{pairs: enginePairs()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates", nil)
	w := httptest.NewRecorder()

	handler.GetRates(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response struct {
		Data []*models.FundingRatePair `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Data) != 2 {
		t.Errorf("expected 2 pairs, got %d", len(response.Data))
	}
}

func TestEngineHandler_GetRate(t *testing.T) {
	handler := NewEngineHandler(&mockEngine{pairs: enginePairs()})

	t.Run("found with lowercase symbol", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/btcusdt", nil)
		req = mux.SetURLVars(req, map[string]string{"symbol": "btcusdt"})
		w := httptest.NewRecorder()

		handler.GetRate(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response struct {
			Data *models.FundingRatePair `json:"data"`
		}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Data.Symbol != "BTCUSDT" {
			t.Errorf("expected BTCUSDT, got %s", response.Data.Symbol)
		}
	})

	t.Run("unknown symbol", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/SOLUSDT", nil)
		req = mux.SetURLVars(req, map[string]string{"symbol": "SOLUSDT"})
		w := httptest.NewRecorder()

		handler.GetRate(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})
}

func TestEngineHandler_GetOpportunities(t *testing.T) {
	handler := NewEngineHandler(&mockEngine{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/opportunities", nil)
	w := httptest.NewRecorder()

	handler.GetOpportunities(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}
}

func TestEngineHandler_GetStats(t *testing.T) {
	handler := NewEngineHandler(&mockEngine{
		stats: bot.EngineStats{
			Symbols:  []string{"BTCUSDT"},
			Adapters: map[string]string{"binance": "connected"},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()

	handler.GetStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response struct {
		Data bot.EngineStats `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Data.Symbols) != 1 || response.Data.Adapters["binance"] != "connected" {
		t.Errorf("unexpected stats: %+v", response.Data)
	}
}
