package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// ============================================================
// TradeRepository Tests
// ============================================================

var tradeColumnNames = []string{
	"id", "position_id", "symbol", "long_exit_price", "short_exit_price",
	"fees", "funding_pnl", "price_diff_pnl", "total_pnl", "roi_pct",
	"holding_duration", "closed_at",
}

func TestTradeRepositoryCreateTrade(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	trade := &models.Trade{
		PositionID:   7,
		Symbol:       "BTCUSDT",
		LongExit:     49000,
		FundingPnl:   12,
		PriceDiffPnl: -2,
		TotalPnl:     10,
		RoiPct:       0.2,
		Holding:      2 * time.Hour,
		ClosedAt:     now,
	}

	// длительность хранится в наносекундах
	mock.ExpectQuery(`INSERT INTO trades`).
		WithArgs(int64(7), "BTCUSDT", 49000.0, 0.0, 0.0, 12.0, -2.0, 10.0, 0.2,
			(2 * time.Hour).Nanoseconds(), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	repo := NewTradeRepository(db)
	if err := repo.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade.ID != 42 {
		t.Errorf("ID = %d, want 42 from RETURNING", trade.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTradeRepositoryGetByPositionID(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(tradeColumnNames).
					AddRow(42, 7, "BTCUSDT", 49000.0, 0.0, 1.5, 12.0, -2.0, 10.0, 0.2,
						(90 * time.Minute).Nanoseconds(), now)
				mock.ExpectQuery(`SELECT .+ FROM trades\s+WHERE position_id = \$1`).
					WithArgs(int64(7)).
					WillReturnRows(rows)
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM trades`).
					WithArgs(int64(7)).
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrTradeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)
			repo := NewTradeRepository(db)

			trade, err := repo.GetByPositionID(context.Background(), 7)
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("error = %v, want %v", err, tt.expectError)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if trade.ID != 42 || trade.PositionID != 7 {
				t.Errorf("trade = %+v", trade)
			}
			// наносекунды из базы обратно в Duration
			if trade.Holding != 90*time.Minute {
				t.Errorf("Holding = %v, want 90m", trade.Holding)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestTradeRepositoryGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(tradeColumnNames).
		AddRow(2, 8, "ETHUSDT", 3000.0, 0.0, 1.0, 5.0, 1.0, 6.0, 0.1, int64(0), now).
		AddRow(1, 7, "BTCUSDT", 49000.0, 0.0, 1.5, 12.0, -2.0, 10.0, 0.2, int64(0), now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT .+ FROM trades\s+ORDER BY closed_at DESC\s+LIMIT \$1`).
		WithArgs(10).
		WillReturnRows(rows)

	repo := NewTradeRepository(db)
	trades, err := repo.GetRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	if trades[0].Symbol != "ETHUSDT" {
		t.Errorf("first trade = %s, want latest first", trades[0].Symbol)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTradeRepositoryTotalPnl(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(total_pnl\), 0\) FROM trades`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(123.45))

	repo := NewTradeRepository(db)
	total, err := repo.TotalPnl(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 123.45 {
		t.Errorf("total = %v, want 123.45", total)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
