package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/pkg/types"
)

const (
	livePingInterval = 50 * time.Second
	liveReadTimeout  = 90 * time.Second
	liveMaxBackoff   = 30 * time.Second
	liveWriteTimeout = 10 * time.Second
	liveEventBuffer  = 256
)

// LiveConfig carries everything needed to reach a real brokerage: a REST
// base URL for order management and a streaming URL for market/account
// updates.
type LiveConfig struct {
	RESTBaseURL   string
	StreamURL     string
	APIKey        string
	RequestTimeout time.Duration
}

// Live is a resty + gorilla/websocket Brokerage adapter. REST calls place
// and cancel working orders and edit positions; the websocket stream
// delivers market ticks, confirmations, open-position updates and account
// snapshots as a single multiplexed JSON feed keyed by an "event_type"
// envelope. Grounded on 0xtitan6-polymarket-mm's exchange client (resty
// config, reconnect-with-backoff, envelope-peek dispatch).
type Live struct {
	http   *resty.Client
	config LiveConfig
	logger *zap.Logger

	events chan StreamEvent
}

// NewLive builds a Live adapter. Run must be called to start the streaming
// connection before Events() produces anything.
func NewLive(config LiveConfig, logger *zap.Logger) *Live {
	httpClient := resty.New().
		SetBaseURL(config.RESTBaseURL).
		SetTimeout(nonZeroOr(config.RequestTimeout, 10*time.Second)).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-KEY", config.APIKey)

	return &Live{
		http:   httpClient,
		config: config,
		logger: logger.Named("live_broker"),
		events: make(chan StreamEvent, liveEventBuffer),
	}
}

func nonZeroOr(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}

func (l *Live) Events() <-chan StreamEvent { return l.events }

type openWorkingOrderRequest struct {
	Direction      types.Direction `json:"direction"`
	Epic           string          `json:"epic"`
	Level          float64         `json:"level"`
	DealReference  string          `json:"dealReference"`
	StopDistance   float64         `json:"stopDistance"`
	LimitDistance  float64         `json:"limitDistance"`
	CurrencyCode   string          `json:"currencyCode"`
	Expiry         string          `json:"expiry"`
	Size           float64         `json:"size"`
}

func (l *Live) OpenWorkingOrder(ctx context.Context, direction types.Direction, price float64, reference types.OrderReference, marketInfo types.MarketInfo, targetDistance, stopDistance float64) error {
	req := openWorkingOrderRequest{
		Direction:     direction,
		Epic:          marketInfo.Epic,
		Level:         price,
		DealReference: EncodeDealReference(reference, marketInfo.Epic),
		StopDistance:  stopDistance,
		LimitDistance: targetDistance,
		CurrencyCode:  marketInfo.Currency,
		Expiry:        marketInfo.Expiry,
		Size:          marketInfo.LotSize,
	}
	resp, err := l.http.R().SetContext(ctx).SetBody(req).Post("/workingorders/otc")
	if err != nil {
		return fmt.Errorf("open working order: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("open working order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (l *Live) DeleteWorkingOrder(ctx context.Context, dealID string) error {
	resp, err := l.http.R().SetContext(ctx).Delete("/workingorders/otc/" + dealID)
	if err != nil {
		return fmt.Errorf("delete working order: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("delete working order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type editPositionRequest struct {
	StopLevel            *float64 `json:"stopLevel,omitempty"`
	TrailingStopDistance *float64 `json:"trailingStopDistance,omitempty"`
	LimitLevel           *float64 `json:"limitLevel,omitempty"`
}

func (l *Live) EditPosition(ctx context.Context, dealID string, stopLevel, trailingStopDistance, targetLevel float64) error {
	req := editPositionRequest{StopLevel: &stopLevel, TrailingStopDistance: &trailingStopDistance, LimitLevel: &targetLevel}
	resp, err := l.http.R().SetContext(ctx).SetBody(req).Put("/positions/otc/" + dealID)
	if err != nil {
		return fmt.Errorf("edit position: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("edit position: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type fetchDataResponse struct {
	Prices []struct {
		OpenPrice  pricePair `json:"openPrice"`
		HighPrice  pricePair `json:"highPrice"`
		LowPrice   pricePair `json:"lowPrice"`
		ClosePrice pricePair `json:"closePrice"`
	} `json:"prices"`
}

type pricePair struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

func (l *Live) FetchData(ctx context.Context, epic string, start time.Time, duration time.Duration) ([]types.OhlcBar, error) {
	var result fetchDataResponse
	resp, err := l.http.R().
		SetContext(ctx).
		SetResult(&result).
		SetQueryParams(map[string]string{
			"resolution": "MINUTE",
			"from":       start.UTC().Format(time.RFC3339),
			"to":         start.Add(duration).UTC().Format(time.RFC3339),
		}).
		Get("/prices/" + epic)
	if err != nil {
		return nil, fmt.Errorf("fetch data: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch data: status %d: %s", resp.StatusCode(), resp.String())
	}

	bars := make([]types.OhlcBar, 0, len(result.Prices))
	for _, p := range result.Prices {
		bars = append(bars, types.OhlcBar{
			Open:  types.Price{Bid: p.OpenPrice.Bid, Ask: p.OpenPrice.Ask},
			High:  types.Price{Bid: p.HighPrice.Bid, Ask: p.HighPrice.Ask},
			Low:   types.Price{Bid: p.LowPrice.Bid, Ask: p.LowPrice.Ask},
			Close: types.Price{Bid: p.ClosePrice.Bid, Ask: p.ClosePrice.Ask},
		})
	}
	return bars, nil
}

// Run dials the streaming feed and maintains it with exponential backoff
// (1s up to 30s), re-dialing on any read error, until ctx is cancelled.
func (l *Live) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := l.connectAndRead(ctx)
		if ctx.Err() != nil {
			close(l.events)
			return ctx.Err()
		}

		l.logger.Warn("stream disconnected, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			close(l.events)
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > liveMaxBackoff {
			backoff = liveMaxBackoff
		}
	}
}

func (l *Live) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.config.StreamURL, http.Header{
		"X-API-KEY": []string{l.config.APIKey},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	l.logger.Info("stream connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		l.dispatchMessage(msg)
	}
}

func (l *Live) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.logger.Warn("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// dispatchMessage peeks the envelope's event_type and routes into the
// appropriate StreamEvent before handing it to the dispatcher.
func (l *Live) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		l.logger.Debug("ignoring non-json stream message", zap.ByteString("data", data))
		return
	}

	switch envelope.EventType {
	case "market":
		var update MarketUpdatePayload
		if err := json.Unmarshal(data, &update); err != nil {
			l.logger.Error("unmarshal market update", zap.Error(err))
			return
		}
		l.emit(MarketStreamEvent{Update: update})

	case "confirmation":
		var update TradeConfirmationPayload
		if err := json.Unmarshal(data, &update); err != nil {
			l.logger.Error("unmarshal confirmation", zap.Error(err))
			return
		}
		l.emit(TradeConfirmationStreamEvent{Update: update})

	case "position":
		var update OpenPositionPayload
		if err := json.Unmarshal(data, &update); err != nil {
			l.logger.Error("unmarshal position update", zap.Error(err))
			return
		}
		l.emit(OpenPositionStreamEvent{Update: update})

	case "account":
		var update AccountUpdatePayload
		if err := json.Unmarshal(data, &update); err != nil {
			l.logger.Error("unmarshal account update", zap.Error(err))
			return
		}
		l.emit(AccountStreamEvent{Update: update})

	default:
		l.logger.Debug("unknown stream event type", zap.String("event_type", envelope.EventType))
	}
}

func (l *Live) emit(event StreamEvent) {
	select {
	case l.events <- event:
	default:
		l.logger.Warn("stream event channel full, dropping event")
	}
}
