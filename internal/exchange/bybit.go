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

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitWSPublic   = "wss://stream.bybit.com/v5/public/linear"
	bybitWSPrivate  = "wss://stream.bybit.com/v5/private"
	bybitRecvWindow = "5000"
)

// Bybit реализует потоковый адаптер для биржи Bybit (v5 API).
//
// Котировки фандинга приходят через публичный канал tickers.{symbol},
// события позиций и ордеров - через приватные каналы position и order.
type Bybit struct {
	*baseAdapter

	apiKey    string
	secretKey string

	wsPublic  *StreamConn
	wsPrivate *StreamConn
}

// NewBybit создает новый адаптер Bybit
func NewBybit(cfg AdapterConfig, logger *zap.Logger) *Bybit {
	b := &Bybit{
		baseAdapter: newBaseAdapter("bybit", cfg, logger),
	}
	b.fetchQuote = b.FetchQuote
	return b
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp string, params string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + params
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bybit API
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	var reqBody string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		if reqBody != "" {
			reqURL = bybitBaseURL + endpoint + "?" + reqBody
		} else {
			reqURL = bybitBaseURL + endpoint
		}
	} else {
		reqURL = bybitBaseURL + endpoint
		if len(params) > 0 {
			jsonBytes, _ := json.Marshal(params)
			reqBody = string(jsonBytes)
		}
	}

	var bodyReader io.Reader
	if method != http.MethodGet && reqBody != "" {
		bodyReader = strings.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature := b.sign(timestamp, reqBody)

		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", signature)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
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

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, err
	}

	if baseResp.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange: "bybit",
			Code:     strconv.Itoa(baseResp.RetCode),
			Message:  baseResp.RetMsg,
		}
	}

	return body, nil
}

func (b *Bybit) Connect(ctx context.Context, apiKey, secret, passphrase string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	// Публичный стрим котировок
	b.wsPublic = NewStreamConn("bybit-public", StaticURL(bybitWSPublic), b.cfg.Stream, b.logger)
	b.wsPublic.SetOnMessage(b.handlePublicMessage)
	b.wsPublic.SetOnDown(func(err error) {
		b.logger.Error("public stream is down", zap.Error(err))
	})
	if err := b.wsPublic.Connect(); err != nil {
		return err
	}

	// Приватный стрим позиций и ордеров
	b.wsPrivate = NewStreamConn("bybit-private", StaticURL(bybitWSPrivate), b.cfg.Stream, b.logger)
	b.wsPrivate.SetAuthFunc(b.authPrivate)
	b.wsPrivate.SetOnMessage(b.handlePrivateMessage)
	b.wsPrivate.AddSubscription("private", map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"position", "order", "wallet"},
	})
	if err := b.wsPrivate.Connect(); err != nil {
		b.wsPublic.Close()
		return err
	}

	b.startWatching()
	return nil
}

// authPrivate аутентифицирует приватный WS канал Bybit
func (b *Bybit) authPrivate(conn *websocket.Conn) error {
	expires := strconv.FormatInt(time.Now().Add(10*time.Second).UnixMilli(), 10)
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte("GET/realtime" + expires))
	signature := hex.EncodeToString(h.Sum(nil))

	return conn.WriteJSON(map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{b.apiKey, expires, signature},
	})
}

func (b *Bybit) Subscribe(symbols ...string) error {
	if b.wsPublic == nil {
		return ErrNotConnected
	}

	b.trackSymbols(symbols...)
	for _, sym := range symbols {
		topic := "tickers." + sym
		if b.wsPublic.HasSubscription(topic) {
			continue
		}
		sub := map[string]interface{}{
			"op":   "subscribe",
			"args": []string{topic},
		}
		b.wsPublic.AddSubscription(topic, sub)
		if err := b.wsPublic.Send(sub); err != nil {
			b.logger.Warn("subscribe send failed, will resubscribe on reconnect",
				zap.String("symbol", sym), zap.Error(err))
		}
	}
	return nil
}

func (b *Bybit) Unsubscribe(symbols ...string) error {
	if b.wsPublic == nil {
		return ErrNotConnected
	}

	b.untrackSymbols(symbols...)
	for _, sym := range symbols {
		topic := "tickers." + sym
		if !b.wsPublic.HasSubscription(topic) {
			continue
		}
		b.wsPublic.RemoveSubscription(topic)
		_ = b.wsPublic.Send(map[string]interface{}{
			"op":   "unsubscribe",
			"args": []string{topic},
		})
	}
	return nil
}

// handlePublicMessage разбирает сообщения публичного канала tickers
func (b *Bybit) handlePublicMessage(raw []byte) {
	var msg struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol          string `json:"symbol"`
			FundingRate     string `json:"fundingRate"`
			MarkPrice       string `json:"markPrice"`
			IndexPrice      string `json:"indexPrice"`
			NextFundingTime string `json:"nextFundingTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") || msg.Data.Symbol == "" {
		return
	}
	// Ticker снапшоты без изменения фандинга приходят с пустыми полями
	if msg.Data.FundingRate == "" {
		return
	}

	rate, err := strconv.ParseFloat(msg.Data.FundingRate, 64)
	if err != nil {
		return
	}
	markPrice, _ := strconv.ParseFloat(msg.Data.MarkPrice, 64)
	indexPrice, _ := strconv.ParseFloat(msg.Data.IndexPrice, 64)
	nextMs, _ := strconv.ParseInt(msg.Data.NextFundingTime, 10, 64)

	b.emitStreamQuote(&models.ExchangeQuote{
		Exchange:      "bybit",
		Symbol:        msg.Data.Symbol,
		FundingRate:   rate,
		MarkPrice:     markPrice,
		IndexPrice:    indexPrice,
		NextFundingAt: time.UnixMilli(nextMs),
	})
}

// handlePrivateMessage разбирает приватные события position/order/wallet
func (b *Bybit) handlePrivateMessage(raw []byte) {
	var envelope struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Topic {
	case "position":
		b.handlePositionEvent(raw)
	case "order":
		b.handleOrderEvent(raw)
	case "wallet":
		b.handleWalletEvent(raw)
	}
}

func (b *Bybit) handlePositionEvent(raw []byte) {
	var msg struct {
		Data []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"` // Buy | Sell | "" (flat)
			Size          string `json:"size"`
			EntryPrice    string `json:"entryPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	for _, p := range msg.Data {
		size, _ := strconv.ParseFloat(p.Size, 64)
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)

		side := models.LegSideLong
		if p.Side == "Sell" {
			side = models.LegSideShort
		}

		b.emitPosition(PositionChange{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnl: upnl,
			Closed:        size == 0,
		})
	}
}

func (b *Bybit) handleOrderEvent(raw []byte) {
	var msg struct {
		Data []struct {
			Symbol       string `json:"symbol"`
			OrderID      string `json:"orderId"`
			Side         string `json:"side"`
			OrderStatus  string `json:"orderStatus"` // New, Triggered, Filled, Cancelled...
			StopOrdType  string `json:"stopOrderType"`
			TriggerPrice string `json:"triggerPrice"`
			Qty          string `json:"qty"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	for _, o := range msg.Data {
		orderType := bybitStopOrderType(o.StopOrdType)
		if orderType == "" {
			continue // интересуют только условные SL/TP ордера
		}

		trigger, _ := strconv.ParseFloat(o.TriggerPrice, 64)
		qty, _ := strconv.ParseFloat(o.Qty, 64)

		// Условный ордер закрывает позицию: Sell закрывает long, Buy - short
		posSide := models.LegSideLong
		if o.Side == "Buy" {
			posSide = models.LegSideShort
		}

		b.emitOrder(OrderStatus{
			Symbol:       o.Symbol,
			OrderID:      o.OrderID,
			OrderType:    orderType,
			Side:         posSide,
			Status:       bybitOrderStatus(o.OrderStatus),
			TriggerPrice: trigger,
			Qty:          qty,
		})
	}
}

func (b *Bybit) handleWalletEvent(raw []byte) {
	var msg struct {
		Data []struct {
			Coin []struct {
				Coin   string `json:"coin"`
				Equity string `json:"equity"`
			} `json:"coin"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	for _, d := range msg.Data {
		for _, c := range d.Coin {
			if c.Coin == "USDT" {
				equity, _ := strconv.ParseFloat(c.Equity, 64)
				b.emitBalance(BalanceChange{Balance: equity})
			}
		}
	}
}

func bybitStopOrderType(t string) string {
	switch t {
	case "StopLoss", "Stop":
		return OrderTypeStopLoss
	case "TakeProfit", "PartialTakeProfit":
		return OrderTypeTakeProfit
	default:
		return ""
	}
}

func bybitOrderStatus(s string) string {
	switch s {
	case "Triggered":
		return OrderStatusTriggered
	case "Filled", "PartiallyFilledCanceled":
		return OrderStatusFilled
	case "Cancelled", "Deactivated":
		return OrderStatusCancelled
	default:
		return OrderStatusNew
	}
}

// FetchQuote запрашивает котировку фандинга через REST
func (b *Bybit) FetchQuote(ctx context.Context, symbol string) (*models.ExchangeQuote, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol          string `json:"symbol"`
				FundingRate     string `json:"fundingRate"`
				MarkPrice       string `json:"markPrice"`
				IndexPrice      string `json:"indexPrice"`
				NextFundingTime string `json:"nextFundingTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("bybit: ticker not found for %s", symbol)
	}

	t := resp.Result.List[0]
	rate, _ := strconv.ParseFloat(t.FundingRate, 64)
	mark, _ := strconv.ParseFloat(t.MarkPrice, 64)
	index, _ := strconv.ParseFloat(t.IndexPrice, 64)
	nextMs, _ := strconv.ParseInt(t.NextFundingTime, 10, 64)

	return &models.ExchangeQuote{
		Exchange:      "bybit",
		Symbol:        t.Symbol,
		FundingRate:   rate,
		MarkPrice:     mark,
		IndexPrice:    index,
		NextFundingAt: time.UnixMilli(nextMs),
	}, nil
}

// FundingInterval возвращает интервал фандинга из instruments-info (native)
func (b *Bybit) FundingInterval(ctx context.Context, symbol string) (float64, string, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, false)
	if err != nil {
		return 0, "", err
	}

	var resp struct {
		Result struct {
			List []struct {
				FundingInterval int `json:"fundingInterval"` // минуты
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, "", err
	}
	if len(resp.Result.List) == 0 || resp.Result.List[0].FundingInterval <= 0 {
		return 0, "", fmt.Errorf("bybit: funding interval not found for %s", symbol)
	}

	hours := float64(resp.Result.List[0].FundingInterval) / 60.0
	return hours, models.IntervalProvenanceNative, nil
}

func (b *Bybit) GetOpenPositions(ctx context.Context) ([]VenuePosition, error) {
	params := map[string]string{
		"category":   "linear",
		"settleCoin": "USDT",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				MarkPrice     string `json:"markPrice"`
				UnrealisedPnl string `json:"unrealisedPnl"`
				UpdatedTime   string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]VenuePosition, 0, len(resp.Result.List))
	for _, p := range resp.Result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		updMs, _ := strconv.ParseInt(p.UpdatedTime, 10, 64)

		side := models.LegSideLong
		if p.Side == "Sell" {
			side = models.LegSideShort
		}

		positions = append(positions, VenuePosition{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnl: upnl,
			UpdatedAt:     time.UnixMilli(updMs),
		})
	}

	return positions, nil
}

func (b *Bybit) GetConditionalOrders(ctx context.Context, symbol string) ([]ConditionalOrder, error) {
	params := map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"orderFilter": "StopOrder",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderID      string `json:"orderId"`
				Symbol       string `json:"symbol"`
				Side         string `json:"side"`
				OrderStatus  string `json:"orderStatus"`
				StopOrdType  string `json:"stopOrderType"`
				TriggerPrice string `json:"triggerPrice"`
				Qty          string `json:"qty"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	orders := make([]ConditionalOrder, 0, len(resp.Result.List))
	for _, o := range resp.Result.List {
		orderType := bybitStopOrderType(o.StopOrdType)
		if orderType == "" {
			continue
		}
		trigger, _ := strconv.ParseFloat(o.TriggerPrice, 64)
		qty, _ := strconv.ParseFloat(o.Qty, 64)

		posSide := models.LegSideLong
		if o.Side == "Buy" {
			posSide = models.LegSideShort
		}

		orders = append(orders, ConditionalOrder{
			OrderID:      o.OrderID,
			Symbol:       o.Symbol,
			OrderType:    orderType,
			Side:         posSide,
			Status:       bybitOrderStatus(o.OrderStatus),
			TriggerPrice: trigger,
			Qty:          qty,
		})
	}

	return orders, nil
}

func (b *Bybit) CancelConditionalOrders(ctx context.Context, symbol string) error {
	params := map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"orderFilter": "StopOrder",
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel-all", params, true)
	return err
}

func (b *Bybit) ClosePosition(ctx context.Context, symbol, side string, qty float64) error {
	bybitSide := "Sell"
	if side == SideBuy {
		bybitSide = "Buy"
	}

	params := map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"side":        bybitSide,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"timeInForce": "IOC",
		"reduceOnly":  "true",
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	return err
}

// TradingFee возвращает комиссии maker/taker из fee-rate API
func (b *Bybit) TradingFee(ctx context.Context, symbol string) (float64, float64, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/fee-rate", params, true)
	if err != nil {
		return 0, 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				MakerFeeRate string `json:"makerFeeRate"`
				TakerFeeRate string `json:"takerFeeRate"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, err
	}
	if len(resp.Result.List) == 0 {
		return 0, 0, fmt.Errorf("bybit: fee rate not found for %s", symbol)
	}

	maker, _ := strconv.ParseFloat(resp.Result.List[0].MakerFeeRate, 64)
	taker, _ := strconv.ParseFloat(resp.Result.List[0].TakerFeeRate, 64)
	return maker, taker, nil
}

func (b *Bybit) State() State {
	if b.wsPublic == nil {
		return StateDisconnected
	}
	return b.wsPublic.GetState()
}

func (b *Bybit) Close() error {
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
