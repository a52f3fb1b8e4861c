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
// ExchangeRepository Tests
// ============================================================

var exchangeColumnNames = []string{
	"id", "name", "api_key_encrypted", "secret_key_encrypted",
	"passphrase_encrypted", "connected", "created_at", "updated_at",
}

func TestExchangeRepositoryGetByName(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(exchangeColumnNames).
					AddRow(1, "binance", "enc-key", "enc-secret", "", true, now, now)
				mock.ExpectQuery(`SELECT .+ FROM exchange_accounts\s+WHERE name = \$1`).
					WithArgs("binance").
					WillReturnRows(rows)
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM exchange_accounts`).
					WithArgs("binance").
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrExchangeNotFound,
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
			repo := NewExchangeRepository(db)

			account, err := repo.GetByName(context.Background(), "binance")
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("error = %v, want %v", err, tt.expectError)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if account.Name != "binance" || account.APIKeyEncrypted != "enc-key" {
				t.Errorf("account = %+v", account)
			}
			if !account.Connected {
				t.Error("Connected flag lost")
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestExchangeRepositoryUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	account := &models.ExchangeAccount{
		Name:               "okx",
		APIKeyEncrypted:    "enc-key",
		SecretKeyEncrypted: "enc-secret",
		PassphraseEncrypted: "enc-pass",
		Connected:          false,
	}

	mock.ExpectQuery(`INSERT INTO exchange_accounts .+ ON CONFLICT \(name\)`).
		WithArgs("okx", "enc-key", "enc-secret", "enc-pass", false,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	repo := NewExchangeRepository(db)
	if err := repo.Upsert(context.Background(), account); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.ID != 3 {
		t.Errorf("ID = %d, want 3 from RETURNING", account.ID)
	}
	if account.CreatedAt.IsZero() || account.UpdatedAt.IsZero() {
		t.Error("timestamps must be filled on insert")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExchangeRepositorySetConnected(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(`UPDATE exchange_accounts SET connected = \$1, updated_at = \$2 WHERE name = \$3`).
			WithArgs(true, sqlmock.AnyArg(), "bybit").
			WillReturnResult(sqlmock.NewResult(0, 1))

		repo := NewExchangeRepository(db)
		if err := repo.SetConnected(context.Background(), "bybit", true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("unknown exchange", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(`UPDATE exchange_accounts`).
			WithArgs(true, sqlmock.AnyArg(), "ftx").
			WillReturnResult(sqlmock.NewResult(0, 0))

		repo := NewExchangeRepository(db)
		err = repo.SetConnected(context.Background(), "ftx", true)
		if !errors.Is(err, ErrExchangeNotFound) {
			t.Fatalf("error = %v, want %v", err, ErrExchangeNotFound)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}
