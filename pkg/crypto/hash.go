package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хэширования
var (
	ErrEmptyToken   = errors.New("token cannot be empty")
	ErrTokenTooLong = errors.New("token exceeds 72 bytes (bcrypt limit)")
)

// bcryptCost - стоимость bcrypt. 12 дает ~250ms на проверку,
// достаточно против перебора операторского токена.
const bcryptCost = 12

// HashToken хэширует операторский API токен для хранения.
// Сам токен нигде не сохраняется - только bcrypt хэш.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > 72 {
		return "", ErrTokenTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcryptCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckToken сверяет токен с хэшем (constant-time внутри bcrypt)
func CheckToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
