package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/q0821/cross-exchange-arbitrage-bot-sub010/internal/models"
)

const (
	okxBaseURL   = "https://www.okx.com"
	okxWSPublic  = "wss://ws.okx.com:8443/ws/v5/public"
	okxWSPrivate = "wss://ws.okx.com:8443/ws/v5/private"
)

// OKX реализует потоковый адаптер для биржи OKX (v5 API).
//
// Котировки фандинга приходят через публичный канал funding-rate,
// позиции и ордера - через приватные каналы. OKX не отдаёт интервал
// фандинга отдельным полем, интервал выводится из разницы между
// fundingTime и nextFundingTime (derived).
type OKX struct {
	*baseAdapter

	apiKey     string
	secretKey  string
	passphrase string

	wsPublic  *StreamConn
	wsPrivate *StreamConn
}

// NewOKX создает новый адаптер OKX
func NewOKX(cfg AdapterConfig, logger *zap.Logger) *OKX {
	o := &OKX{
		baseAdapter: newBaseAdapter("okx", cfg, logger),
	}
	o.fetchQuote = o.FetchQuote
	return o
}

// sign создаёт подпись запроса OKX: Base64(HMAC-SHA256(ts+method+path+body))
func (o *OKX) sign(timestamp, method, path, body string) string {
	h := hmac.New(sha256.New, []byte(o.secretKey))
	h.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к OKX API
func (o *OKX) doRequest(ctx context.Context, method, path string, body interface{}, signed bool) ([]byte, error) {
	var reqBody string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = string(raw)
	}

	var bodyReader io.Reader
	if reqBody != "" {
		bodyReader = strings.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, okxBaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", o.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", o.sign(timestamp, method, path, reqBody))
		req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("OK-ACCESS-PASSPHRASE", o.passphrase)
	}

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var baseResp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &baseResp); err != nil {
		return nil, err
	}
	if baseResp.Code != "0" {
		return nil, &ExchangeError{
			Exchange: "okx",
			Code:     baseResp.Code,
			Message:  baseResp.Msg,
		}
	}

	return raw, nil
}

func (o *OKX) Connect(ctx context.Context, apiKey, secret, passphrase string) error {
	o.apiKey = apiKey
	o.secretKey = secret
	o.passphrase = passphrase

	o.wsPublic = NewStreamConn("okx-public", StaticURL(okxWSPublic), o.cfg.Stream, o.logger)
	o.wsPublic.SetOnMessage(o.handlePublicMessage)
	o.wsPublic.SetOnDown(func(err error) {
		o.logger.Error("public stream is down", zap.Error(err))
	})
	if err := o.wsPublic.Connect(); err != nil {
		return err
	}

	o.wsPrivate = NewStreamConn("okx-private", StaticURL(okxWSPrivate), o.cfg.Stream, o.logger)
	o.wsPrivate.SetAuthFunc(o.authPrivate)
	o.wsPrivate.SetOnMessage(o.handlePrivateMessage)
	o.wsPrivate.AddSubscription("private", map[string]interface{}{
		"op": "subscribe",
		"args": []map[string]string{
			{"channel": "positions", "instType": "SWAP"},
			{"channel": "orders-algo", "instType": "SWAP"},
			{"channel": "account"},
		},
	})
	if err := o.wsPrivate.Connect(); err != nil {
		o.wsPublic.Close()
		return err
	}

	o.startWatching()
	return nil
}

// authPrivate выполняет login на приватном WS канале
func (o *OKX) authPrivate(conn *websocket.Conn) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	h := hmac.New(sha256.New, []byte(o.secretKey))
	h.Write([]byte(timestamp + "GET" + "/users/self/verify"))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return conn.WriteJSON(map[string]interface{}{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     o.apiKey,
			"passphrase": o.passphrase,
			"timestamp":  timestamp,
			"sign":       signature,
		}},
	})
}

func (o *OKX) Subscribe(symbols ...string) error {
	if o.wsPublic == nil {
		return ErrNotConnected
	}

	o.trackSymbols(symbols...)
	for _, sym := range symbols {
		key := "funding-rate:" + sym
		if o.wsPublic.HasSubscription(key) {
			continue
		}
		sub := map[string]interface{}{
			"op": "subscribe",
			"args": []map[string]string{
				{"channel": "funding-rate", "instId": sym},
				{"channel": "mark-price", "instId": sym},
			},
		}
		o.wsPublic.AddSubscription(key, sub)
		if err := o.wsPublic.Send(sub); err != nil {
			o.logger.Warn("subscribe send failed, will resubscribe on reconnect",
				zap.String("symbol", sym), zap.Error(err))
		}
	}
	return nil
}

func (o *OKX) Unsubscribe(symbols ...string) error {
	if o.wsPublic == nil {
		return ErrNotConnected
	}

	o.untrackSymbols(symbols...)
	for _, sym := range symbols {
		key := "funding-rate:" + sym
		if !o.wsPublic.HasSubscription(key) {
			continue
		}
		o.wsPublic.RemoveSubscription(key)
		_ = o.wsPublic.Send(map[string]interface{}{
			"op": "unsubscribe",
			"args": []map[string]string{
				{"channel": "funding-rate", "instId": sym},
				{"channel": "mark-price", "instId": sym},
			},
		})
	}
	return nil
}

// handlePublicMessage разбирает события funding-rate и mark-price.
// Mark price приходит отдельным каналом, поэтому котировка собирается
// из последнего известного mark price по символу.
func (o *OKX) handlePublicMessage(raw []byte) {
	var msg struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Data []struct {
			InstID          string `json:"instId"`
			FundingRate     string `json:"fundingRate"`
			FundingTime     string `json:"fundingTime"`
			NextFundingTime string `json:"nextFundingTime"`
			MarkPx          string `json:"markPx"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Arg.Channel {
	case "funding-rate":
		for _, d := range msg.Data {
			rate, err := strconv.ParseFloat(d.FundingRate, 64)
			if err != nil {
				continue
			}
			nextMs, _ := strconv.ParseInt(d.NextFundingTime, 10, 64)
			mark := o.lastMark(d.InstID)

			o.emitStreamQuote(&models.ExchangeQuote{
				Exchange:      "okx",
				Symbol:        d.InstID,
				FundingRate:   rate,
				MarkPrice:     mark,
				NextFundingAt: time.UnixMilli(nextMs),
			})
		}
	case "mark-price":
		for _, d := range msg.Data {
			mark, err := strconv.ParseFloat(d.MarkPx, 64)
			if err != nil {
				continue
			}
			o.setLastMark(d.InstID, mark)
		}
	}
}

func (o *OKX) lastMark(symbol string) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if st, ok := o.symbols[symbol]; ok {
		return st.lastMarkPrice
	}
	return 0
}

func (o *OKX) setLastMark(symbol string, price float64) {
	o.mu.Lock()
	if st, ok := o.symbols[symbol]; ok {
		st.lastMarkPrice = price
	}
	o.mu.Unlock()
}

// handlePrivateMessage разбирает приватные события positions/orders-algo/account
func (o *OKX) handlePrivateMessage(raw []byte) {
	var envelope struct {
		Arg struct {
			Channel string `json:"channel"`
		} `json:"arg"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Arg.Channel {
	case "positions":
		o.handlePositionsEvent(raw)
	case "orders-algo":
		o.handleAlgoOrdersEvent(raw)
	case "account":
		o.handleAccountEvent(raw)
	}
}

func (o *OKX) handlePositionsEvent(raw []byte) {
	var msg struct {
		Data []struct {
			InstID   string `json:"instId"`
			PosSide  string `json:"posSide"` // long | short | net
			Pos      string `json:"pos"`
			AvgPx    string `json:"avgPx"`
			MarkPx   string `json:"markPx"`
			Upl      string `json:"upl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	for _, p := range msg.Data {
		pos, _ := strconv.ParseFloat(p.Pos, 64)
		entry, _ := strconv.ParseFloat(p.AvgPx, 64)
		mark, _ := strconv.ParseFloat(p.MarkPx, 64)
		upl, _ := strconv.ParseFloat(p.Upl, 64)

		side := p.PosSide
		size := pos
		// В net режиме сторона кодируется знаком
		if side == "net" || side == "" {
			side = models.LegSideLong
			if pos < 0 {
				side = models.LegSideShort
				size = -pos
			}
		}

		o.emitPosition(PositionChange{
			Symbol:        p.InstID,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnl: upl,
			Closed:        pos == 0,
		})
	}
}

func (o *OKX) handleAlgoOrdersEvent(raw []byte) {
	var msg struct {
		Data []struct {
			InstID    string `json:"instId"`
			AlgoID    string `json:"algoId"`
			Side      string `json:"side"`
			State     string `json:"state"` // live, effective, canceled
			SlTrigger string `json:"slTriggerPx"`
			TpTrigger string `json:"tpTriggerPx"`
			Sz        string `json:"sz"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	for _, a := range msg.Data {
		orderType := OrderTypeStopLoss
		trigger, _ := strconv.ParseFloat(a.SlTrigger, 64)
		if trigger == 0 {
			orderType = OrderTypeTakeProfit
			trigger, _ = strconv.ParseFloat(a.TpTrigger, 64)
		}
		if trigger == 0 {
			continue
		}
		qty, _ := strconv.ParseFloat(a.Sz, 64)

		posSide := models.LegSideLong
		if a.Side == "buy" {
			posSide = models.LegSideShort
		}

		o.emitOrder(OrderStatus{
			Symbol:       a.InstID,
			OrderID:      a.AlgoID,
			OrderType:    orderType,
			Side:         posSide,
			Status:       okxAlgoState(a.State),
			TriggerPrice: trigger,
			Qty:          qty,
		})
	}
}

func (o *OKX) handleAccountEvent(raw []byte) {
	var msg struct {
		Data []struct {
			Details []struct {
				Ccy string `json:"ccy"`
				Eq  string `json:"eq"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	for _, d := range msg.Data {
		for _, det := range d.Details {
			if det.Ccy == "USDT" {
				eq, _ := strconv.ParseFloat(det.Eq, 64)
				o.emitBalance(BalanceChange{Balance: eq})
			}
		}
	}
}

func okxAlgoState(s string) string {
	switch s {
	case "effective":
		return OrderStatusFilled
	case "canceled":
		return OrderStatusCancelled
	case "order_failed":
		return OrderStatusCancelled
	default:
		return OrderStatusNew
	}
}

// FetchQuote запрашивает котировку фандинга через REST
func (o *OKX) FetchQuote(ctx context.Context, symbol string) (*models.ExchangeQuote, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/public/funding-rate?instId="+symbol, nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			InstID          string `json:"instId"`
			FundingRate     string `json:"fundingRate"`
			NextFundingTime string `json:"nextFundingTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("okx: funding rate not found for %s", symbol)
	}

	d := resp.Data[0]
	rate, _ := strconv.ParseFloat(d.FundingRate, 64)
	nextMs, _ := strconv.ParseInt(d.NextFundingTime, 10, 64)

	return &models.ExchangeQuote{
		Exchange:      "okx",
		Symbol:        d.InstID,
		FundingRate:   rate,
		MarkPrice:     o.lastMark(d.InstID),
		NextFundingAt: time.UnixMilli(nextMs),
	}, nil
}

// FundingInterval выводит интервал из разницы fundingTime и nextFundingTime.
// OKX не отдаёт интервал явным полем (derived); при нечитаемых временах
// используются стандартные 8 часов.
func (o *OKX) FundingInterval(ctx context.Context, symbol string) (float64, string, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/public/funding-rate?instId="+symbol, nil, false)
	if err != nil {
		return 0, "", err
	}

	var resp struct {
		Data []struct {
			FundingTime     string `json:"fundingTime"`
			NextFundingTime string `json:"nextFundingTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, "", err
	}
	if len(resp.Data) == 0 {
		return 8, models.IntervalProvenanceDefault, nil
	}

	curMs, _ := strconv.ParseInt(resp.Data[0].FundingTime, 10, 64)
	nextMs, _ := strconv.ParseInt(resp.Data[0].NextFundingTime, 10, 64)
	if curMs <= 0 || nextMs <= curMs {
		return 8, models.IntervalProvenanceDefault, nil
	}

	hours := time.UnixMilli(nextMs).Sub(time.UnixMilli(curMs)).Hours()
	return hours, models.IntervalProvenanceDerived, nil
}

func (o *OKX) GetOpenPositions(ctx context.Context) ([]VenuePosition, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/account/positions?instType=SWAP", nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			InstID  string `json:"instId"`
			PosSide string `json:"posSide"`
			Pos     string `json:"pos"`
			AvgPx   string `json:"avgPx"`
			MarkPx  string `json:"markPx"`
			Upl     string `json:"upl"`
			UTime   string `json:"uTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]VenuePosition, 0, len(resp.Data))
	for _, p := range resp.Data {
		pos, _ := strconv.ParseFloat(p.Pos, 64)
		if pos == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgPx, 64)
		mark, _ := strconv.ParseFloat(p.MarkPx, 64)
		upl, _ := strconv.ParseFloat(p.Upl, 64)
		updMs, _ := strconv.ParseInt(p.UTime, 10, 64)

		side := p.PosSide
		size := pos
		if side == "net" || side == "" {
			side = models.LegSideLong
			if pos < 0 {
				side = models.LegSideShort
				size = -pos
			}
		}

		positions = append(positions, VenuePosition{
			Symbol:        p.InstID,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnl: upl,
			UpdatedAt:     time.UnixMilli(updMs),
		})
	}

	return positions, nil
}

func (o *OKX) GetConditionalOrders(ctx context.Context, symbol string) ([]ConditionalOrder, error) {
	body, err := o.doRequest(ctx, http.MethodGet,
		"/api/v5/trade/orders-algo-pending?ordType=conditional&instId="+symbol, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			InstID    string `json:"instId"`
			AlgoID    string `json:"algoId"`
			Side      string `json:"side"`
			State     string `json:"state"`
			SlTrigger string `json:"slTriggerPx"`
			TpTrigger string `json:"tpTriggerPx"`
			Sz        string `json:"sz"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	orders := make([]ConditionalOrder, 0, len(resp.Data))
	for _, a := range resp.Data {
		orderType := OrderTypeStopLoss
		trigger, _ := strconv.ParseFloat(a.SlTrigger, 64)
		if trigger == 0 {
			orderType = OrderTypeTakeProfit
			trigger, _ = strconv.ParseFloat(a.TpTrigger, 64)
		}
		if trigger == 0 {
			continue
		}
		qty, _ := strconv.ParseFloat(a.Sz, 64)

		posSide := models.LegSideLong
		if a.Side == "buy" {
			posSide = models.LegSideShort
		}

		orders = append(orders, ConditionalOrder{
			OrderID:      a.AlgoID,
			Symbol:       a.InstID,
			OrderType:    orderType,
			Side:         posSide,
			Status:       okxAlgoState(a.State),
			TriggerPrice: trigger,
			Qty:          qty,
		})
	}

	return orders, nil
}

func (o *OKX) CancelConditionalOrders(ctx context.Context, symbol string) error {
	orders, err := o.GetConditionalOrders(ctx, symbol)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	cancel := make([]map[string]string, 0, len(orders))
	for _, o := range orders {
		cancel = append(cancel, map[string]string{
			"algoId": o.OrderID,
			"instId": symbol,
		})
	}

	_, err = o.doRequest(ctx, http.MethodPost, "/api/v5/trade/cancel-algos", cancel, true)
	return err
}

func (o *OKX) ClosePosition(ctx context.Context, symbol, side string, qty float64) error {
	body := map[string]string{
		"instId":     symbol,
		"tdMode":     "cross",
		"side":       side,
		"ordType":    "market",
		"sz":         strconv.FormatFloat(qty, 'f', -1, 64),
		"reduceOnly": "true",
	}

	_, err := o.doRequest(ctx, http.MethodPost, "/api/v5/trade/order", body, true)
	return err
}

// TradingFee не реализован для OKX: персональные fee-тиры недоступны
// использующемуся ключу API. Вызывающий код идёт по fallback цепочке.
func (o *OKX) TradingFee(ctx context.Context, symbol string) (float64, float64, error) {
	return 0, 0, &CapabilityError{Exchange: "okx", Capability: "trading-fee"}
}

func (o *OKX) State() State {
	if o.wsPublic == nil {
		return StateDisconnected
	}
	return o.wsPublic.GetState()
}

func (o *OKX) Close() error {
	o.stopWatching()
	var err error
	if o.wsPublic != nil {
		err = o.wsPublic.Close()
	}
	if o.wsPrivate != nil {
		if cerr := o.wsPrivate.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
