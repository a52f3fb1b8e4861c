package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/bot"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/exchange"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/pkg/crypto"
)

// ExchangeAccountStore - чтение учетных данных бирж
type ExchangeAccountStore interface {
	GetByName(ctx context.Context, name string) (*models.ExchangeAccount, error)
	SetConnected(ctx context.Context, name string, connected bool) error
}

// ExchangeService выдает расшифрованные ключи API по имени биржи.
// Ключи хранятся в БД зашифрованными AES-256-GCM; расшифрованные
// значения не кэшируются и живут только на время подключения адаптера.
type ExchangeService struct {
	store         ExchangeAccountStore
	encryptionKey []byte
	logger        *zap.Logger
}

// NewExchangeService создает сервис учетных данных бирж
func NewExchangeService(store ExchangeAccountStore, encryptionKey []byte, logger *zap.Logger) *ExchangeService {
	return &ExchangeService{
		store:         store,
		encryptionKey: encryptionKey,
		logger:        logger.Named("exchange_service"),
	}
}

// ExchangeCredentials возвращает расшифрованные ключи биржи
func (s *ExchangeService) ExchangeCredentials(ctx context.Context, exchangeName string) (bot.Credentials, error) {
	if !exchange.IsSupported(exchangeName) {
		return bot.Credentials{}, fmt.Errorf("unsupported exchange %q", exchangeName)
	}

	account, err := s.store.GetByName(ctx, exchangeName)
	if err != nil {
		return bot.Credentials{}, fmt.Errorf("load account %s: %w", exchangeName, err)
	}

	apiKey, err := crypto.Decrypt(account.APIKeyEncrypted, s.encryptionKey)
	if err != nil {
		return bot.Credentials{}, fmt.Errorf("decrypt api key for %s: %w", exchangeName, err)
	}

	secret, err := crypto.Decrypt(account.SecretKeyEncrypted, s.encryptionKey)
	if err != nil {
		return bot.Credentials{}, fmt.Errorf("decrypt secret for %s: %w", exchangeName, err)
	}

	var passphrase string
	if account.PassphraseEncrypted != "" {
		passphrase, err = crypto.Decrypt(account.PassphraseEncrypted, s.encryptionKey)
		if err != nil {
			return bot.Credentials{}, fmt.Errorf("decrypt passphrase for %s: %w", exchangeName, err)
		}
	}

	return bot.Credentials{
		APIKey:     apiKey,
		Secret:     secret,
		Passphrase: passphrase,
	}, nil
}

// MarkConnected обновляет флаг подключения биржи.
// Ошибка не критична: флаг информационный, лог достаточен.
func (s *ExchangeService) MarkConnected(ctx context.Context, exchangeName string, connected bool) {
	if err := s.store.SetConnected(ctx, exchangeName, connected); err != nil {
		s.logger.Warn("failed to update connected flag",
			zap.String("exchange", exchangeName),
			zap.Bool("connected", connected),
			zap.Error(err))
	}
}
