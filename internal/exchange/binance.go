package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

const (
	binanceBaseURL  = "https://fapi.binance.com"
	binanceWSBase   = "wss://fstream.binance.com/ws"
	binanceRecvWind = "5000"

	// listen key живёт 60 минут, обновляем сессию заранее
	binanceListenKeyTTL = 60 * time.Minute
)

// Binance реализует потоковый адаптер для Binance USDT-M Futures.
//
// Котировки фандинга приходят через {symbol}@markPrice стрим,
// приватные события - через user data stream по одноразовому listen key.
// Listen key истекает, поэтому приватное соединение пересоздаётся
// проактивно до истечения срока.
type Binance struct {
	*baseAdapter

	apiKey    string
	secretKey string

	wsPublic  *StreamConn
	wsPrivate *StreamConn
}

// NewBinance создает новый адаптер Binance
func NewBinance(cfg AdapterConfig, logger *zap.Logger) *Binance {
	b := &Binance{
		baseAdapter: newBaseAdapter("binance", cfg, logger),
	}
	b.fetchQuote = b.FetchQuote
	return b
}

// sign создаёт HMAC-SHA256 подпись query string
func (b *Binance) sign(query string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Binance Futures API
func (b *Binance) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}

	if signed {
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		query.Set("recvWindow", binanceRecvWind)
		query.Set("signature", b.sign(query.Encode()))
	}

	reqURL := binanceBaseURL + endpoint
	var bodyReader io.Reader
	encoded := query.Encode()

	if method == http.MethodGet || method == http.MethodDelete {
		if encoded != "" {
			reqURL += "?" + encoded
		}
	} else {
		bodyReader = strings.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return nil, &ExchangeError{
			Exchange: "binance",
			Code:     strconv.Itoa(apiErr.Code),
			Message:  apiErr.Msg,
		}
	}

	return body, nil
}

// listenKey запрашивает одноразовый ключ user data stream
func (b *Binance) listenKey(ctx context.Context) (string, error) {
	body, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, false)
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("binance: empty listen key")
	}
	return resp.ListenKey, nil
}

func (b *Binance) Connect(ctx context.Context, apiKey, secret, passphrase string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	b.wsPublic = NewStreamConn("binance-public", StaticURL(binanceWSBase), b.cfg.Stream, b.logger)
	b.wsPublic.SetOnMessage(b.handlePublicMessage)
	b.wsPublic.SetOnDown(func(err error) {
		b.logger.Error("public stream is down", zap.Error(err))
	})
	if err := b.wsPublic.Connect(); err != nil {
		return err
	}

	// Приватный стрим: свежий listen key на каждую сессию,
	// пересоздание до истечения TTL ключа
	privateCfg := b.cfg.Stream
	privateCfg.SessionMaxAge = binanceListenKeyTTL
	b.wsPrivate = NewStreamConn("binance-private", func(ctx context.Context) (string, error) {
		key, err := b.listenKey(ctx)
		if err != nil {
			return "", err
		}
		return binanceWSBase + "/" + key, nil
	}, privateCfg, b.logger)
	b.wsPrivate.SetOnMessage(b.handlePrivateMessage)
	if err := b.wsPrivate.Connect(); err != nil {
		b.wsPublic.Close()
		return err
	}

	b.startWatching()
	return nil
}

func (b *Binance) Subscribe(symbols ...string) error {
	if b.wsPublic == nil {
		return ErrNotConnected
	}

	b.trackSymbols(symbols...)
	var streams []string
	for _, sym := range symbols {
		stream := strings.ToLower(sym) + "@markPrice"
		if b.wsPublic.HasSubscription(stream) {
			continue
		}
		streams = append(streams, stream)
	}
	if len(streams) == 0 {
		return nil
	}

	sub := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixNano(),
	}
	for _, s := range streams {
		b.wsPublic.AddSubscription(s, map[string]interface{}{
			"method": "SUBSCRIBE",
			"params": []string{s},
			"id":     time.Now().UnixNano(),
		})
	}
	if err := b.wsPublic.Send(sub); err != nil {
		b.logger.Warn("subscribe send failed, will resubscribe on reconnect", zap.Error(err))
	}
	return nil
}

func (b *Binance) Unsubscribe(symbols ...string) error {
	if b.wsPublic == nil {
		return ErrNotConnected
	}

	b.untrackSymbols(symbols...)
	var streams []string
	for _, sym := range symbols {
		stream := strings.ToLower(sym) + "@markPrice"
		if !b.wsPublic.HasSubscription(stream) {
			continue
		}
		b.wsPublic.RemoveSubscription(stream)
		streams = append(streams, stream)
	}
	if len(streams) == 0 {
		return nil
	}

	_ = b.wsPublic.Send(map[string]interface{}{
		"method": "UNSUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixNano(),
	})
	return nil
}

// handlePublicMessage разбирает markPriceUpdate события
func (b *Binance) handlePublicMessage(raw []byte) {
	var msg struct {
		EventType   string `json:"e"`
		Symbol      string `json:"s"`
		MarkPrice   string `json:"p"`
		IndexPrice  string `json:"i"`
		FundingRate string `json:"r"`
		NextFunding int64  `json:"T"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.EventType != "markPriceUpdate" {
		return
	}

	rate, err := strconv.ParseFloat(msg.FundingRate, 64)
	if err != nil {
		return
	}
	mark, _ := strconv.ParseFloat(msg.MarkPrice, 64)
	index, _ := strconv.ParseFloat(msg.IndexPrice, 64)

	b.emitStreamQuote(&models.ExchangeQuote{
		Exchange:      "binance",
		Symbol:        msg.Symbol,
		FundingRate:   rate,
		MarkPrice:     mark,
		IndexPrice:    index,
		NextFundingAt: time.UnixMilli(msg.NextFunding),
	})
}

// handlePrivateMessage разбирает user data stream события
func (b *Binance) handlePrivateMessage(raw []byte) {
	var envelope struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "ACCOUNT_UPDATE":
		b.handleAccountUpdate(raw)
	case "ORDER_TRADE_UPDATE":
		b.handleOrderUpdate(raw)
	}
}

func (b *Binance) handleAccountUpdate(raw []byte) {
	var msg struct {
		Data struct {
			Balances []struct {
				Asset   string `json:"a"`
				Balance string `json:"wb"`
			} `json:"B"`
			Positions []struct {
				Symbol     string `json:"s"`
				Amount     string `json:"pa"`
				EntryPrice string `json:"ep"`
				Upnl       string `json:"up"`
			} `json:"P"`
		} `json:"a"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	for _, bal := range msg.Data.Balances {
		if bal.Asset == "USDT" {
			v, _ := strconv.ParseFloat(bal.Balance, 64)
			b.emitBalance(BalanceChange{Balance: v})
		}
	}

	for _, p := range msg.Data.Positions {
		amount, _ := strconv.ParseFloat(p.Amount, 64)
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		upnl, _ := strconv.ParseFloat(p.Upnl, 64)

		// Binance кодирует сторону знаком объёма
		side := models.LegSideLong
		size := amount
		if amount < 0 {
			side = models.LegSideShort
			size = -amount
		}

		b.emitPosition(PositionChange{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			UnrealizedPnl: upnl,
			Closed:        amount == 0,
		})
	}
}

func (b *Binance) handleOrderUpdate(raw []byte) {
	var msg struct {
		Order struct {
			Symbol       string `json:"s"`
			Side         string `json:"S"`
			OrderType    string `json:"o"` // STOP_MARKET, TAKE_PROFIT_MARKET...
			Status       string `json:"X"`
			OrderID      int64  `json:"i"`
			StopPrice    string `json:"sp"`
			OrigQty      string `json:"q"`
		} `json:"o"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	orderType := binanceStopOrderType(msg.Order.OrderType)
	if orderType == "" {
		return
	}

	trigger, _ := strconv.ParseFloat(msg.Order.StopPrice, 64)
	qty, _ := strconv.ParseFloat(msg.Order.OrigQty, 64)

	posSide := models.LegSideLong
	if msg.Order.Side == "BUY" {
		posSide = models.LegSideShort
	}

	b.emitOrder(OrderStatus{
		Symbol:       msg.Order.Symbol,
		OrderID:      strconv.FormatInt(msg.Order.OrderID, 10),
		OrderType:    orderType,
		Side:         posSide,
		Status:       binanceOrderStatus(msg.Order.Status),
		TriggerPrice: trigger,
		Qty:          qty,
	})
}

func binanceStopOrderType(t string) string {
	switch t {
	case "STOP", "STOP_MARKET":
		return OrderTypeStopLoss
	case "TAKE_PROFIT", "TAKE_PROFIT_MARKET":
		return OrderTypeTakeProfit
	default:
		return ""
	}
}

func binanceOrderStatus(s string) string {
	switch s {
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED", "EXPIRED":
		return OrderStatusCancelled
	case "PARTIALLY_FILLED":
		return OrderStatusTriggered
	default:
		return OrderStatusNew
	}
}

// FetchQuote запрашивает котировку фандинга через premiumIndex
func (b *Binance) FetchQuote(ctx context.Context, symbol string) (*models.ExchangeQuote, error) {
	params := map[string]string{"symbol": symbol}

	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Symbol          string `json:"symbol"`
		MarkPrice       string `json:"markPrice"`
		IndexPrice      string `json:"indexPrice"`
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	rate, _ := strconv.ParseFloat(resp.LastFundingRate, 64)
	mark, _ := strconv.ParseFloat(resp.MarkPrice, 64)
	index, _ := strconv.ParseFloat(resp.IndexPrice, 64)

	return &models.ExchangeQuote{
		Exchange:      "binance",
		Symbol:        resp.Symbol,
		FundingRate:   rate,
		MarkPrice:     mark,
		IndexPrice:    index,
		NextFundingAt: time.UnixMilli(resp.NextFundingTime),
	}, nil
}

// FundingInterval возвращает интервал фандинга из fundingInfo (native).
// Символы без записи в fundingInfo используют стандартные 8 часов.
func (b *Binance) FundingInterval(ctx context.Context, symbol string) (float64, string, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/fundingInfo", nil, false)
	if err != nil {
		return 0, "", err
	}

	var resp []struct {
		Symbol               string `json:"symbol"`
		FundingIntervalHours int    `json:"fundingIntervalHours"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, "", err
	}

	for _, info := range resp {
		if info.Symbol == symbol && info.FundingIntervalHours > 0 {
			return float64(info.FundingIntervalHours), models.IntervalProvenanceNative, nil
		}
	}

	// fundingInfo перечисляет только нестандартные символы
	return 8, models.IntervalProvenanceDefault, nil
}

func (b *Binance) GetOpenPositions(ctx context.Context) ([]VenuePosition, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil, true)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		MarkPrice   string `json:"markPrice"`
		UnPnl       string `json:"unRealizedProfit"`
		UpdateTime  int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]VenuePosition, 0)
	for _, p := range resp {
		amount, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amount == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnPnl, 64)

		side := models.LegSideLong
		size := amount
		if amount < 0 {
			side = models.LegSideShort
			size = -amount
		}

		positions = append(positions, VenuePosition{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnl: upnl,
			UpdatedAt:     time.UnixMilli(p.UpdateTime),
		})
	}

	return positions, nil
}

func (b *Binance) GetConditionalOrders(ctx context.Context, symbol string) ([]ConditionalOrder, error) {
	params := map[string]string{"symbol": symbol}

	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params, true)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		OrderID   int64  `json:"orderId"`
		Symbol    string `json:"symbol"`
		Side      string `json:"side"`
		Type      string `json:"type"`
		Status    string `json:"status"`
		StopPrice string `json:"stopPrice"`
		OrigQty   string `json:"origQty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	orders := make([]ConditionalOrder, 0)
	for _, o := range resp {
		orderType := binanceStopOrderType(o.Type)
		if orderType == "" {
			continue
		}
		trigger, _ := strconv.ParseFloat(o.StopPrice, 64)
		qty, _ := strconv.ParseFloat(o.OrigQty, 64)

		posSide := models.LegSideLong
		if o.Side == "BUY" {
			posSide = models.LegSideShort
		}

		orders = append(orders, ConditionalOrder{
			OrderID:      strconv.FormatInt(o.OrderID, 10),
			Symbol:       o.Symbol,
			OrderType:    orderType,
			Side:         posSide,
			Status:       binanceOrderStatus(o.Status),
			TriggerPrice: trigger,
			Qty:          qty,
		})
	}

	return orders, nil
}

// CancelConditionalOrders отменяет условные ордера по символу.
// Binance не умеет отменять только StopOrder одним вызовом,
// поэтому отменяем адресно по списку открытых условных ордеров.
func (b *Binance) CancelConditionalOrders(ctx context.Context, symbol string) error {
	orders, err := b.GetConditionalOrders(ctx, symbol)
	if err != nil {
		return err
	}

	for _, o := range orders {
		params := map[string]string{
			"symbol":  symbol,
			"orderId": o.OrderID,
		}
		if _, err := b.doRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, true); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binance) ClosePosition(ctx context.Context, symbol, side string, qty float64) error {
	binanceSide := "SELL"
	if side == SideBuy {
		binanceSide = "BUY"
	}

	params := map[string]string{
		"symbol":     symbol,
		"side":       binanceSide,
		"type":       "MARKET",
		"quantity":   strconv.FormatFloat(qty, 'f', -1, 64),
		"reduceOnly": "true",
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	return err
}

// TradingFee возвращает комиссии maker/taker из commissionRate API
func (b *Binance) TradingFee(ctx context.Context, symbol string) (float64, float64, error) {
	params := map[string]string{"symbol": symbol}

	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/commissionRate", params, true)
	if err != nil {
		return 0, 0, err
	}

	var resp struct {
		MakerCommissionRate string `json:"makerCommissionRate"`
		TakerCommissionRate string `json:"takerCommissionRate"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, err
	}

	maker, _ := strconv.ParseFloat(resp.MakerCommissionRate, 64)
	taker, _ := strconv.ParseFloat(resp.TakerCommissionRate, 64)
	return maker, taker, nil
}

func (b *Binance) State() State {
	if b.wsPublic == nil {
		return StateDisconnected
	}
	return b.wsPublic.GetState()
}

func (b *Binance) Close() error {
	b.stopWatching()
	var err error
	if b.wsPublic != nil {
		err = b.wsPublic.Close()
	}
	if b.wsPrivate != nil {
		if cerr := b.wsPrivate.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
