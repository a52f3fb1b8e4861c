package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamConfig - конфигурация WebSocket соединения с переподключением
type StreamConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания записи ping
	PongTimeout time.Duration
	// Максимальный возраст сессии: незадолго до истечения соединение
	// пересоздаётся проактивно (0 = сессия бессрочная)
	SessionMaxAge time.Duration
	// За сколько до истечения сессии начинать пересоздание
	SessionRenewAhead time.Duration
}

// DefaultStreamConfig возвращает конфигурацию по умолчанию: 2s, 4s, 8s, 16s
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		InitialDelay:      2 * time.Second,
		MaxDelay:          16 * time.Second,
		MaxRetries:        10,
		ConnectTimeout:    10 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       10 * time.Second,
		SessionRenewAhead: 2 * time.Minute,
	}
}

// StreamConn управляет WebSocket соединением с автоматическим переподключением
//
// Назначение:
// Обеспечивает надёжное WebSocket соединение с биржей, автоматически
// переподключаясь при разрывах с exponential backoff.
//
// Функции:
// - Автоматическое переподключение с exponential backoff
// - Повторная подписка на каналы после переподключения
// - Проактивное обновление сессии до истечения срока (listen key и т.п.)
// - Ping/Pong для проверки живости соединения
// - Эскалация в onDown после исчерпания попыток
//
// Использование:
// 1. Создать: NewStreamConn(...)
// 2. Установить handlers: SetOnMessage, SetOnConnect, SetOnDown
// 3. Подключиться: Connect()
// 4. Отправлять сообщения: Send(msg)
// 5. Закрыть: Close()
type StreamConn struct {
	// Имя биржи (для логирования)
	exchangeName string

	// URL для подключения; может меняться между сессиями (listen key)
	urlFunc func(ctx context.Context) (string, error)

	config StreamConfig
	logger *zap.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex

	// Состояние (atomic State)
	state int32

	// Счётчик попыток переподключения
	retryCount int32 // atomic

	closeChan chan struct{}
	closeOnce sync.Once

	// Callbacks
	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)
	onDown       func(error)
	callbackMu   sync.RWMutex

	// Подписки для восстановления после переподключения, по ключу символа
	subscriptions   map[string]interface{}
	subscriptionsMu sync.RWMutex

	// Аутентификация (для приватных каналов)
	authFunc func(*websocket.Conn) error

	// Таймер проактивного обновления сессии текущего соединения
	renewTimer *time.Timer
	renewMu    sync.Mutex
}

// NewStreamConn создаёт новое управляемое соединение.
// urlFunc вызывается перед каждой (пере)установкой соединения - биржи
// с одноразовыми listen key получают свежий URL на каждую сессию.
func NewStreamConn(exchangeName string, urlFunc func(ctx context.Context) (string, error), config StreamConfig, logger *zap.Logger) *StreamConn {
	return &StreamConn{
		exchangeName:  exchangeName,
		urlFunc:       urlFunc,
		config:        config,
		logger:        logger.Named("stream").With(zap.String("exchange", exchangeName)),
		closeChan:     make(chan struct{}),
		subscriptions: make(map[string]interface{}),
	}
}

// StaticURL оборачивает фиксированный WS URL в urlFunc
func StaticURL(wsURL string) func(ctx context.Context) (string, error) {
	return func(context.Context) (string, error) { return wsURL, nil }
}

// SetOnMessage устанавливает callback для входящих сообщений
func (m *StreamConn) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnConnect устанавливает callback для события подключения
func (m *StreamConn) SetOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

// SetOnDisconnect устанавливает callback для события отключения
func (m *StreamConn) SetOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

// SetOnDown устанавливает callback исчерпания попыток переподключения
func (m *StreamConn) SetOnDown(handler func(error)) {
	m.callbackMu.Lock()
	m.onDown = handler
	m.callbackMu.Unlock()
}

// SetAuthFunc устанавливает функцию аутентификации для приватных каналов
func (m *StreamConn) SetAuthFunc(authFunc func(*websocket.Conn) error) {
	m.authFunc = authFunc
}

// AddSubscription регистрирует подписку под ключом key.
// Повторная регистрация того же ключа перезаписывает payload - подписка
// идемпотентна.
func (m *StreamConn) AddSubscription(key string, sub interface{}) {
	m.subscriptionsMu.Lock()
	m.subscriptions[key] = sub
	m.subscriptionsMu.Unlock()
}

// RemoveSubscription снимает подписку с ключа. Отсутствующий ключ - no-op.
func (m *StreamConn) RemoveSubscription(key string) {
	m.subscriptionsMu.Lock()
	delete(m.subscriptions, key)
	m.subscriptionsMu.Unlock()
}

// HasSubscription проверяет наличие подписки
func (m *StreamConn) HasSubscription(key string) bool {
	m.subscriptionsMu.RLock()
	_, ok := m.subscriptions[key]
	m.subscriptionsMu.RUnlock()
	return ok
}

// GetState возвращает текущее состояние соединения
func (m *StreamConn) GetState() State {
	return State(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *StreamConn) IsConnected() bool {
	return m.GetState() == StateConnected
}

// Connect устанавливает WebSocket соединение
func (m *StreamConn) Connect() error {
	select {
	case <-m.closeChan:
		return ErrClosed
	default:
	}

	atomic.StoreInt32(&m.state, int32(StateConnecting))

	if err := m.dial(); err != nil {
		atomic.StoreInt32(&m.state, int32(StateDisconnected))
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	m.afterConnect()
	m.logger.Info("websocket connected")
	return nil
}

// dial выполняет подключение к WebSocket
func (m *StreamConn) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	wsURL, err := m.urlFunc(ctx)
	if err != nil {
		return fmt.Errorf("resolve url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	// Аутентификация если требуется
	if m.authFunc != nil {
		if err := m.authFunc(conn); err != nil {
			conn.Close()
			m.connMu.Lock()
			m.conn = nil
			m.connMu.Unlock()
			return fmt.Errorf("auth error: %w", err)
		}
	}

	// Восстанавливаем подписки
	if err := m.resubscribe(); err != nil {
		// Подписки могут быть восстановлены позже, соединение не рвём
		m.logger.Warn("resubscribe error", zap.Error(err))
	}

	return nil
}

// afterConnect запускает фоновую обвязку нового соединения
func (m *StreamConn) afterConnect() {
	atomic.StoreInt32(&m.state, int32(StateConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	go m.readPump()
	go m.pingPump()
	m.scheduleSessionRenew()
}

// scheduleSessionRenew взводит таймер пересоздания сессии.
// Соединение разрывается штатно до истечения срока сессии, дальше
// отрабатывает обычный reconnect с получением свежего URL.
func (m *StreamConn) scheduleSessionRenew() {
	if m.config.SessionMaxAge <= 0 {
		return
	}

	renewIn := m.config.SessionMaxAge - m.config.SessionRenewAhead
	if renewIn <= 0 {
		renewIn = m.config.SessionMaxAge / 2
	}

	m.renewMu.Lock()
	defer m.renewMu.Unlock()
	if m.renewTimer != nil {
		m.renewTimer.Stop()
	}
	m.renewTimer = time.AfterFunc(renewIn, func() {
		if m.GetState() != StateConnected {
			return
		}
		m.logger.Info("session renewal: recycling connection", zap.Duration("session_age", renewIn))
		m.handleDisconnect(nil)
	})
}

// resubscribe восстанавливает подписки после переподключения
func (m *StreamConn) resubscribe() error {
	m.subscriptionsMu.RLock()
	subs := make([]interface{}, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.subscriptionsMu.RUnlock()

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	for _, sub := range subs {
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("resubscribe error: %w", err)
		}
	}

	if len(subs) > 0 {
		m.logger.Info("resubscribed", zap.Int("channels", len(subs)))
	}

	return nil
}

// readPump читает сообщения из WebSocket
func (m *StreamConn) readPump() {
	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		m.connMu.RLock()
		conn := m.conn
		m.connMu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()

		if onMessage != nil {
			onMessage(message)
		}
	}
}

// pingPump отправляет ping для проверки соединения
func (m *StreamConn) pingPump() {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			m.connMu.RLock()
			conn := m.conn
			m.connMu.RUnlock()

			if conn == nil || m.GetState() != StateConnected {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(m.config.PongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.logger.Warn("ping error", zap.Error(err))
				m.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает разрыв соединения
func (m *StreamConn) handleDisconnect(err error) {
	select {
	case <-m.closeChan:
		return
	default:
	}

	// Избегаем повторной обработки
	state := m.GetState()
	if state == StateReconnecting || state == StateClosed {
		return
	}

	atomic.StoreInt32(&m.state, int32(StateReconnecting))

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}

	if err != nil {
		m.logger.Warn("websocket disconnected", zap.Error(err))
	}

	go m.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
func (m *StreamConn) reconnectLoop() {
	delay := m.config.InitialDelay
	var lastErr error

	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&m.retryCount, 1)

		// Лимит попыток исчерпан: соединение считается упавшим,
		// восстановление требует внешнего вмешательства
		if m.config.MaxRetries > 0 && int(retryCount) > m.config.MaxRetries {
			m.logger.Error("max reconnect attempts reached",
				zap.Int("max_retries", m.config.MaxRetries),
				zap.Error(lastErr))
			atomic.StoreInt32(&m.state, int32(StateDown))

			m.callbackMu.RLock()
			onDown := m.onDown
			m.callbackMu.RUnlock()
			if onDown != nil {
				onDown(lastErr)
			}
			return
		}

		m.logger.Info("reconnecting",
			zap.Duration("delay", delay),
			zap.Int32("attempt", retryCount),
			zap.Int("max_retries", m.config.MaxRetries))

		select {
		case <-m.closeChan:
			return
		case <-time.After(delay):
		}

		if err := m.dial(); err != nil {
			lastErr = err
			m.logger.Warn("reconnect failed", zap.Error(err))

			delay = delay * 2
			if delay > m.config.MaxDelay {
				delay = m.config.MaxDelay
			}
			continue
		}

		m.afterConnect()
		m.logger.Info("websocket reconnected")
		return
	}
}

// Send отправляет сообщение через WebSocket
func (m *StreamConn) Send(msg interface{}) error {
	if m.GetState() != StateConnected {
		return fmt.Errorf("%w (state: %s)", ErrNotConnected, m.GetState())
	}

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	return conn.WriteJSON(msg)
}

// Close закрывает соединение и останавливает переподключение. Идемпотентен.
func (m *StreamConn) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closeChan)
		atomic.StoreInt32(&m.state, int32(StateClosed))

		m.renewMu.Lock()
		if m.renewTimer != nil {
			m.renewTimer.Stop()
		}
		m.renewMu.Unlock()

		m.connMu.Lock()
		defer m.connMu.Unlock()
		if m.conn != nil {
			err = m.conn.Close()
			m.conn = nil
		}
	})
	return err
}

// GetRetryCount возвращает текущее количество попыток переподключения
func (m *StreamConn) GetRetryCount() int {
	return int(atomic.LoadInt32(&m.retryCount))
}
