package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Engine   EngineConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// EncryptionKey - 32 байта для AES-256-GCM шифрования API ключей бирж
	EncryptionKey string
	// APITokenHash - bcrypt хэш операторского токена для pull API
	APITokenHash string
}

// EngineConfig - настройки движка мониторинга
type EngineConfig struct {
	// Общий временной базис для нормализации ставок фандинга (часы).
	// Все нативные интервалы (1h, 4h, 8h) приводятся к этому базису.
	RateBasisHours float64

	// Окно свежести котировки. Старше окна - котировка не участвует
	// в выборе best pair и триггерит REST fallback у адаптера.
	StalenessWindow time.Duration

	// TTL записей кэша котировок и кэша интервалов
	QuoteTTL    time.Duration
	IntervalTTL time.Duration

	// Интервал ленивой чистки протухших записей кэшей
	CacheSweepInterval time.Duration

	// Комиссии и пороги ассессора
	MakerFeeRate        float64 // доля, например 0.0002
	TakerFeeRate        float64 // доля, например 0.0005
	MinProfitPct        float64 // минимальная чистая прибыль, %
	ExtremePriceDiffPct float64 // порог предупреждения о разъезде цен, %

	// Мониторинг триггеров
	TriggerPollInterval time.Duration // период сверки состояния ордеров/позиций
	TriggerDedupWindow  time.Duration // окно дедупликации stream+poll событий
	CloseTimeout        time.Duration // таймаут закрытия второй ноги
	OrderQueryTimeout   time.Duration // таймаут запроса состояния ордеров

	// Exit-подсказки
	ExitCooldown    time.Duration // debounce повторных подсказок по позиции
	PnlFetchTimeout time.Duration // таймаут чтения PNL из persistence

	// Адаптеры бирж
	SessionRenewAhead time.Duration // за сколько до истечения продлевать stream сессию
	ConnectTimeout    time.Duration // таймаут установления сессии
	MaxConnectRetries int           // попыток подключения до AdapterDown
	RestPollInterval  time.Duration // период REST fallback поллинга

	// Отслеживаемые биржи и символы
	Exchanges []string
	Symbols   []string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "fundingarb"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			APITokenHash:  getEnv("API_TOKEN_HASH", ""),
		},
		Engine: EngineConfig{
			RateBasisHours:  getEnvAsFloat("RATE_BASIS_HOURS", 1.0),
			StalenessWindow: getEnvAsDuration("STALENESS_WINDOW", 90*time.Second),

			QuoteTTL:           getEnvAsDuration("QUOTE_TTL", 2*time.Minute),
			IntervalTTL:        getEnvAsDuration("INTERVAL_TTL", 12*time.Hour),
			CacheSweepInterval: getEnvAsDuration("CACHE_SWEEP_INTERVAL", 1*time.Minute),

			MakerFeeRate:        getEnvAsFloat("MAKER_FEE_RATE", 0.0002),
			TakerFeeRate:        getEnvAsFloat("TAKER_FEE_RATE", 0.0005),
			MinProfitPct:        getEnvAsFloat("MIN_PROFIT_PCT", 0.01),
			ExtremePriceDiffPct: getEnvAsFloat("EXTREME_PRICE_DIFF_PCT", 1.0),

			TriggerPollInterval: getEnvAsDuration("TRIGGER_POLL_INTERVAL", 30*time.Second),
			TriggerDedupWindow:  getEnvAsDuration("TRIGGER_DEDUP_WINDOW", 5*time.Minute),
			CloseTimeout:        getEnvAsDuration("CLOSE_TIMEOUT", 30*time.Second),
			OrderQueryTimeout:   getEnvAsDuration("ORDER_QUERY_TIMEOUT", 10*time.Second),

			ExitCooldown:    getEnvAsDuration("EXIT_COOLDOWN", 60*time.Second),
			PnlFetchTimeout: getEnvAsDuration("PNL_FETCH_TIMEOUT", 5*time.Second),

			SessionRenewAhead: getEnvAsDuration("SESSION_RENEW_AHEAD", 10*time.Minute),
			ConnectTimeout:    getEnvAsDuration("CONNECT_TIMEOUT", 10*time.Second),
			MaxConnectRetries: getEnvAsInt("MAX_CONNECT_RETRIES", 10),
			RestPollInterval:  getEnvAsDuration("REST_POLL_INTERVAL", 15*time.Second),

			Exchanges: getEnvAsSlice("EXCHANGES", []string{"binance", "bybit", "okx"}),
			Symbols:   getEnvAsSlice("SYMBOLS", []string{"BTCUSDT", "ETHUSDT"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для расшифровки API ключей бирж
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for decrypting API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Engine.RateBasisHours <= 0 {
		return fmt.Errorf("RATE_BASIS_HOURS must be positive, got %v", c.Engine.RateBasisHours)
	}

	if c.Engine.StalenessWindow <= 0 {
		return fmt.Errorf("STALENESS_WINDOW must be positive, got %v", c.Engine.StalenessWindow)
	}

	if c.Engine.QuoteTTL <= 0 {
		return fmt.Errorf("QUOTE_TTL must be positive, got %v", c.Engine.QuoteTTL)
	}

	if c.Engine.CloseTimeout <= 0 {
		return fmt.Errorf("CLOSE_TIMEOUT must be positive, got %v", c.Engine.CloseTimeout)
	}

	if c.Engine.MaxConnectRetries < 1 {
		return fmt.Errorf("MAX_CONNECT_RETRIES must be at least 1, got %d", c.Engine.MaxConnectRetries)
	}

	if c.Engine.MakerFeeRate < 0 || c.Engine.TakerFeeRate < 0 {
		return fmt.Errorf("fee rates cannot be negative")
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
