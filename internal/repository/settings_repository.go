package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

// SettingsRepository - пользовательские настройки exit-подсказок
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetUserExitSettings возвращает настройки пользователя.
// Отсутствие строки не ошибка: возвращается (nil, nil), монитор
// трактует это как выключенные подсказки.
func (r *SettingsRepository) GetUserExitSettings(ctx context.Context, userID int64) (*models.UserExitSettings, error) {
	query := `
		SELECT user_id, enabled, apy_threshold
		FROM user_exit_settings
		WHERE user_id = $1`

	settings := &models.UserExitSettings{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&settings.UserID,
		&settings.Enabled,
		&settings.APYThreshold,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return settings, nil
}

// UpsertUserExitSettings создает или обновляет настройки пользователя
func (r *SettingsRepository) UpsertUserExitSettings(ctx context.Context, settings *models.UserExitSettings) error {
	query := `
		INSERT INTO user_exit_settings (user_id, enabled, apy_threshold)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET enabled = EXCLUDED.enabled, apy_threshold = EXCLUDED.apy_threshold`

	_, err := r.db.ExecContext(ctx, query, settings.UserID, settings.Enabled, settings.APYThreshold)
	return err
}
