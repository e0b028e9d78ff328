package exchange

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/vitos/perp_trade_agent/internal/domain"
)

const (
	PacificaBaseURL = "https://api.pacifica.fi/api/v1"
	PacificaWSURL   = "wss://ws.pacifica.fi/ws"

	signatureExpiryMs = 5000
	tpslLimitSlippage = 0.001 // limit leg sits 0.1% past the stop price
)

// PacificaAdapter signs and submits requests to the Pacifica perpetuals API.
// Requests are authorized by an agent wallet: an ed25519 keypair whose
// signature over the sorted compact-JSON message is sent base58-encoded.
type PacificaAdapter struct {
	baseURL string
	apiKey  string
	priv    ed25519.PrivateKey
	account string
	client  *http.Client
	logger  *zap.Logger
}

func NewPacificaAdapter(baseURL, apiKey, agentWalletPrivkey string, logger *zap.Logger) (*PacificaAdapter, error) {
	if baseURL == "" {
		baseURL = PacificaBaseURL
	}

	raw, err := base58.Decode(agentWalletPrivkey)
	if err != nil {
		return nil, fmt.Errorf("invalid agent wallet key: %w", err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("invalid agent wallet key: decoded to %d bytes, expected %d (seed) or %d (keypair)",
			len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}

	pub := priv.Public().(ed25519.PublicKey)
	return &PacificaAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		priv:    priv,
		account: base58.Encode(pub),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}, nil
}

func (a *PacificaAdapter) Account() string { return a.account }

// sign builds the message {header fields, "data": payload}, marshals it as
// compact JSON (encoding/json emits map keys sorted, which is the canonical
// form the venue verifies against) and signs it with the agent wallet.
func (a *PacificaAdapter) sign(opType string, payload map[string]any) (timestamp int64, signature string, err error) {
	timestamp = time.Now().UnixMilli()
	message := map[string]any{
		"timestamp":     timestamp,
		"expiry_window": signatureExpiryMs,
		"type":          opType,
		"data":          payload,
	}
	raw, err := json.Marshal(message)
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal signing message: %w", err)
	}
	sig := ed25519.Sign(a.priv, raw)
	return timestamp, base58.Encode(sig), nil
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (a *PacificaAdapter) do(ctx context.Context, method, path string, body any) (*apiEnvelope, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Wallet", a.account)
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		// Response bodies can carry account details; keep error logs short.
		a.logger.Debug("api error details", zap.String("path", path), zap.ByteString("body", truncate(respBody, 200)))
		return nil, fmt.Errorf("pacifica api error: %d", resp.StatusCode)
	}

	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("pacifica request rejected: %s", env.Error)
	}
	return &env, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// signedRequest merges the auth fields with the signed payload, unwrapped.
func (a *PacificaAdapter) signedRequest(timestamp int64, signature string, payload map[string]any) map[string]any {
	req := map[string]any{
		"account":       a.account,
		"signature":     signature,
		"timestamp":     timestamp,
		"expiry_window": signatureExpiryMs,
	}
	for k, v := range payload {
		req[k] = v
	}
	return req
}

func tpslLeg(side domain.OrderSide, stopPrice, tick float64) map[string]any {
	// The protective leg is a stop-limit; the limit sits slightly past the
	// stop so it still crosses after slippage.
	var limitPrice float64
	if side == domain.OrderSideBid {
		limitPrice = stopPrice * (1 - tpslLimitSlippage)
	} else {
		limitPrice = stopPrice * (1 + tpslLimitSlippage)
	}
	limitPrice = RoundToTick(limitPrice, tick)
	return map[string]any{
		"stop_price":  strconv.FormatFloat(stopPrice, 'f', -1, 64),
		"limit_price": strconv.FormatFloat(limitPrice, 'f', -1, 64),
	}
}

// CreateMarketOrder normalizes the request to the symbol's grids, signs it
// and submits it. The amount is floored to the lot grid; TP/SL are validated
// against the entry price and dropped when they sit on the wrong side.
func (a *PacificaAdapter) CreateMarketOrder(ctx context.Context, req domain.MarketOrderRequest) (*domain.OrderAck, error) {
	clientOrderID := req.ClientOrderID
	if _, err := uuid.Parse(clientOrderID); err != nil {
		// The venue requires UUID-format client order ids.
		a.logger.Warn("invalid client_order_id, generating new one",
			zap.String("client_order_id", clientOrderID))
		clientOrderID = uuid.NewString()
	}

	symbol := strings.ToUpper(req.Symbol)
	lot := LotSize(symbol)
	amount := FloorToLot(req.Amount, lot)
	if amount != req.Amount {
		a.logger.Debug("amount floored to lot grid",
			zap.String("symbol", symbol),
			zap.Float64("requested", req.Amount),
			zap.Float64("normalized", amount),
			zap.Float64("lot_size", lot))
	}
	if amount <= 0 {
		return nil, fmt.Errorf("order amount %f below lot size %f for %s", req.Amount, lot, symbol)
	}

	slippage := req.SlippagePct
	if slippage <= 0 {
		slippage = 0.5
	}

	payload := map[string]any{
		"symbol":           symbol,
		"side":             string(req.Side),
		"amount":           strconv.FormatFloat(amount, 'f', -1, 64),
		"reduce_only":      req.ReduceOnly,
		"slippage_percent": strconv.FormatFloat(slippage, 'f', -1, 64),
		"client_order_id":  clientOrderID,
	}

	if req.StopLoss > 0 || req.TakeProfit > 0 {
		if req.EntryPrice <= 0 {
			return nil, fmt.Errorf("entry price required to validate TP/SL for %s", symbol)
		}
		tick := TickSize(symbol)
		sl, tp := ValidateTPSL(symbol, req.Side, req.EntryPrice, req.StopLoss, req.TakeProfit)
		if sl != req.StopLoss || tp != req.TakeProfit {
			a.logger.Warn("TP/SL adjusted during validation",
				zap.String("symbol", symbol),
				zap.Float64("requested_sl", req.StopLoss), zap.Float64("validated_sl", sl),
				zap.Float64("requested_tp", req.TakeProfit), zap.Float64("validated_tp", tp))
		}
		if sl > 0 {
			payload["stop_loss"] = tpslLeg(req.Side, sl, tick)
		}
		if tp > 0 {
			payload["take_profit"] = tpslLeg(req.Side, tp, tick)
		}
	}

	timestamp, signature, err := a.sign("create_market_order", payload)
	if err != nil {
		return nil, err
	}

	env, err := a.do(ctx, http.MethodPost, "/orders/create_market", a.signedRequest(timestamp, signature, payload))
	if err != nil {
		return nil, err
	}

	var data struct {
		OrderID json.Number `json:"order_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	a.logger.Info("market order created",
		zap.String("symbol", symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("amount", amount),
		zap.Bool("reduce_only", req.ReduceOnly),
		zap.String("order_id", data.OrderID.String()),
		zap.String("client_order_id", clientOrderID))

	return &domain.OrderAck{OrderID: data.OrderID.String(), Status: domain.OrderStatusSubmitted, Amount: amount}, nil
}

// CreateLimitOrder places a GTC limit order on the book. Not on the engine's
// market-order path; exposed for operational tooling and hedge resting orders.
func (a *PacificaAdapter) CreateLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, amount, price float64, reduceOnly bool, clientOrderID string) (*domain.OrderAck, error) {
	if _, err := uuid.Parse(clientOrderID); err != nil {
		clientOrderID = uuid.NewString()
	}

	symbol = strings.ToUpper(symbol)
	amount = FloorToLot(amount, LotSize(symbol))
	if amount <= 0 {
		return nil, fmt.Errorf("order amount below lot size for %s", symbol)
	}
	price = RoundToTick(price, TickSize(symbol))
	if price <= 0 {
		return nil, fmt.Errorf("invalid limit price for %s", symbol)
	}

	payload := map[string]any{
		"symbol":          symbol,
		"side":            string(side),
		"amount":          strconv.FormatFloat(amount, 'f', -1, 64),
		"price":           strconv.FormatFloat(price, 'f', -1, 64),
		"tif":             "GTC",
		"reduce_only":     reduceOnly,
		"client_order_id": clientOrderID,
	}

	timestamp, signature, err := a.sign("create_order", payload)
	if err != nil {
		return nil, err
	}
	env, err := a.do(ctx, http.MethodPost, "/orders/create", a.signedRequest(timestamp, signature, payload))
	if err != nil {
		return nil, err
	}

	var data struct {
		OrderID json.Number `json:"order_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	a.logger.Info("limit order created",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("amount", amount),
		zap.Float64("price", price),
		zap.String("order_id", data.OrderID.String()))
	return &domain.OrderAck{OrderID: data.OrderID.String(), Status: domain.OrderStatusSubmitted, Amount: amount}, nil
}

func (a *PacificaAdapter) CancelOrder(ctx context.Context, orderID string) error {
	payload := map[string]any{"order_id": orderID}
	timestamp, signature, err := a.sign("cancel_order", payload)
	if err != nil {
		return err
	}
	if _, err := a.do(ctx, http.MethodPost, "/orders/cancel", a.signedRequest(timestamp, signature, payload)); err != nil {
		return err
	}
	a.logger.Info("order canceled", zap.String("order_id", orderID))
	return nil
}

func (a *PacificaAdapter) GetOrderStatus(ctx context.Context, orderID string) (*domain.OrderAck, error) {
	env, err := a.do(ctx, http.MethodGet, "/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		OrderID json.Number `json:"order_id"`
		Status  string      `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode order status: %w", err)
	}
	return &domain.OrderAck{OrderID: data.OrderID.String(), Status: domain.OrderStatus(data.Status)}, nil
}

type rawPosition struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Amount     string `json:"amount"`
	EntryPrice string `json:"entry_price"`
}

func (r rawPosition) toDomain() *domain.ExchangePosition {
	amount, _ := strconv.ParseFloat(r.Amount, 64)
	entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
	side := domain.SideLong
	if strings.EqualFold(r.Side, "short") || strings.EqualFold(r.Side, "ask") {
		side = domain.SideShort
	}
	return &domain.ExchangePosition{
		Symbol:     strings.ToUpper(r.Symbol),
		Side:       side,
		Amount:     amount,
		EntryPrice: entry,
	}
}

func (a *PacificaAdapter) GetPositions(ctx context.Context) ([]*domain.ExchangePosition, error) {
	env, err := a.do(ctx, http.MethodGet, "/positions?account="+a.account, nil)
	if err != nil {
		return nil, err
	}
	var raws []rawPosition
	if err := json.Unmarshal(env.Data, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}
	var positions []*domain.ExchangePosition
	for _, r := range raws {
		positions = append(positions, r.toDomain())
	}
	return positions, nil
}

// GetPosition returns (nil, nil) when the exchange reports no open position
// for the symbol.
func (a *PacificaAdapter) GetPosition(ctx context.Context, symbol string) (*domain.ExchangePosition, error) {
	positions, err := a.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)
	for _, p := range positions {
		if p.Symbol == symbol && p.Amount > 0 {
			return p, nil
		}
	}
	return nil, nil
}

func (a *PacificaAdapter) SetPositionTPSL(ctx context.Context, symbol string, side domain.OrderSide, entryPrice, stopLoss, takeProfit float64) error {
	if stopLoss <= 0 && takeProfit <= 0 {
		return fmt.Errorf("at least one of stop_loss or take_profit is required")
	}
	if entryPrice <= 0 {
		return fmt.Errorf("entry price is required to validate TP/SL for %s", symbol)
	}

	symbol = strings.ToUpper(symbol)
	tick := TickSize(symbol)
	validSL, validTP := ValidateTPSL(symbol, side, entryPrice, stopLoss, takeProfit)
	if validSL != stopLoss || validTP != takeProfit {
		a.logger.Warn("TP/SL adjusted during validation",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Float64("entry_price", entryPrice),
			zap.Float64("requested_stop_loss", stopLoss),
			zap.Float64("requested_take_profit", takeProfit),
			zap.Float64("stop_loss", validSL),
			zap.Float64("take_profit", validTP))
	}
	if validSL <= 0 && validTP <= 0 {
		return fmt.Errorf("no valid protective level for %s after validation", symbol)
	}

	payload := map[string]any{
		"symbol": symbol,
		"side":   string(side),
	}
	if validSL > 0 {
		payload["stop_loss"] = tpslLeg(side, validSL, tick)
	}
	if validTP > 0 {
		payload["take_profit"] = tpslLeg(side, validTP, tick)
	}

	timestamp, signature, err := a.sign("set_position_tpsl", payload)
	if err != nil {
		return err
	}
	if _, err := a.do(ctx, http.MethodPost, "/positions/tpsl", a.signedRequest(timestamp, signature, payload)); err != nil {
		return err
	}

	a.logger.Info("position TP/SL set",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("stop_loss", validSL),
		zap.Float64("take_profit", validTP))
	return nil
}

func (a *PacificaAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	path := fmt.Sprintf("/kline?symbol=%s&interval=%s&limit=%d", strings.ToUpper(symbol), interval, limit)
	env, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var raws []struct {
		Time   int64  `json:"t"`
		Open   string `json:"o"`
		High   string `json:"h"`
		Low    string `json:"l"`
		Close  string `json:"c"`
		Volume string `json:"v"`
	}
	if err := json.Unmarshal(env.Data, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode candles: %w", err)
	}

	var candles []domain.Candle
	for _, r := range raws {
		open, _ := strconv.ParseFloat(r.Open, 64)
		high, _ := strconv.ParseFloat(r.High, 64)
		low, _ := strconv.ParseFloat(r.Low, 64)
		closePrice, _ := strconv.ParseFloat(r.Close, 64)
		volume, _ := strconv.ParseFloat(r.Volume, 64)
		candles = append(candles, domain.Candle{
			Time:   r.Time / 1000,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}
	return candles, nil
}
