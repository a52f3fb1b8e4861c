package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// Ошибки репозитория бирж
var (
	ErrExchangeNotFound = errors.New("exchange account not found")
)

// ExchangeRepository - работа с таблицей exchange_accounts.
// API ключи хранятся только зашифрованными; расшифровка - в сервисном слое.
type ExchangeRepository struct {
	db *sql.DB
}

// NewExchangeRepository создает новый экземпляр репозитория
func NewExchangeRepository(db *sql.DB) *ExchangeRepository {
	return &ExchangeRepository{db: db}
}

// GetByName возвращает учетные данные биржи по имени
func (r *ExchangeRepository) GetByName(ctx context.Context, name string) (*models.ExchangeAccount, error) {
	query := `
		SELECT id, name, api_key_encrypted, secret_key_encrypted, passphrase_encrypted, connected, created_at, updated_at
		FROM exchange_accounts
		WHERE name = $1`

	account := &models.ExchangeAccount{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&account.ID,
		&account.Name,
		&account.APIKeyEncrypted,
		&account.SecretKeyEncrypted,
		&account.PassphraseEncrypted,
		&account.Connected,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExchangeNotFound
		}
		return nil, err
	}

	return account, nil
}

// GetAll возвращает все учетные записи бирж
func (r *ExchangeRepository) GetAll(ctx context.Context) ([]*models.ExchangeAccount, error) {
	query := `
		SELECT id, name, api_key_encrypted, secret_key_encrypted, passphrase_encrypted, connected, created_at, updated_at
		FROM exchange_accounts
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.ExchangeAccount
	for rows.Next() {
		account := &models.ExchangeAccount{}
		err := rows.Scan(
			&account.ID,
			&account.Name,
			&account.APIKeyEncrypted,
			&account.SecretKeyEncrypted,
			&account.PassphraseEncrypted,
			&account.Connected,
			&account.CreatedAt,
			&account.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

// Upsert создает или обновляет учетную запись биржи
func (r *ExchangeRepository) Upsert(ctx context.Context, account *models.ExchangeAccount) error {
	query := `
		INSERT INTO exchange_accounts (name, api_key_encrypted, secret_key_encrypted, passphrase_encrypted, connected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name)
		DO UPDATE SET
			api_key_encrypted = EXCLUDED.api_key_encrypted,
			secret_key_encrypted = EXCLUDED.secret_key_encrypted,
			passphrase_encrypted = EXCLUDED.passphrase_encrypted,
			connected = EXCLUDED.connected,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	return r.db.QueryRowContext(
		ctx,
		query,
		account.Name,
		account.APIKeyEncrypted,
		account.SecretKeyEncrypted,
		account.PassphraseEncrypted,
		account.Connected,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID)
}

// SetConnected обновляет флаг подключения
func (r *ExchangeRepository) SetConnected(ctx context.Context, name string, connected bool) error {
	query := `UPDATE exchange_accounts SET connected = $1, updated_at = $2 WHERE name = $3`

	result, err := r.db.ExecContext(ctx, query, connected, time.Now(), name)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrExchangeNotFound
	}

	return nil
}
