package models

import "time"

// ExchangeAccount - учетные данные биржи.
// API ключи хранятся зашифрованными (AES-256-GCM), расшифровка - pkg/crypto.
type ExchangeAccount struct {
	ID                  int       `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	APIKeyEncrypted     string    `json:"-" db:"api_key_encrypted"`
	SecretKeyEncrypted  string    `json:"-" db:"secret_key_encrypted"`
	PassphraseEncrypted string    `json:"-" db:"passphrase_encrypted"`
	Connected           bool      `json:"connected" db:"connected"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}
