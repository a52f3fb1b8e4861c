package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/pkg/crypto"
)

// TokenAuth - middleware аутентификации операторского API
//
// Токен передается заголовком Authorization: Bearer <token> и сверяется
// с bcrypt хэшем из конфигурации. Пустой хэш означает, что auth выключен
// (локальное развертывание без внешнего доступа).
//
// bcrypt сравнение устойчиво к timing attacks.
func TokenAuth(tokenHash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !crypto.CheckToken(token, tokenHash) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
